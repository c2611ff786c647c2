package repo

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type row struct {
	ID   int `gorm:"primaryKey"`
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&row{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestNewBaseStoresConnection(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	if base.db != db {
		t.Fatalf("expected base db to match provided connection")
	}
}

func TestBaseDB_BindsContext(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), struct{}{}, "value")
	withCtx := base.DB(ctx)

	if withCtx == nil {
		t.Fatalf("expected non-nil DB when context provided")
	}
	if withCtx.Statement == nil {
		t.Fatalf("expected statement created after WithContext")
	}
	if withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through, got %v", withCtx.Statement.Context)
	}

	withoutCtx := base.DB(nil)
	if withoutCtx != db {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestBaseBindKeepsConnectionForNilTx(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	if got := base.Bind(nil); got.db != db {
		t.Fatalf("expected nil tx to keep the connection")
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if bound := base.Bind(tx); bound.db != tx {
			t.Fatalf("expected bound base to use tx")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestTakeReportsMissingRows(t *testing.T) {
	db := newTestDB(t)
	if err := db.Create(&row{ID: 1, Name: "ammo crate"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	var found row
	ok, err := Take(db.Where("id = ?", 1), &found)
	if err != nil || !ok || found.Name != "ammo crate" {
		t.Fatalf("expected row, got ok=%v err=%v row=%+v", ok, err, found)
	}

	var missing row
	ok, err = Take(db.Where("id = ?", 2), &missing)
	if err != nil || ok {
		t.Fatalf("expected not found without error, got ok=%v err=%v", ok, err)
	}
}
