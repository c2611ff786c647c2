package assets

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/armory-ledger/internal/authz"
	"github.com/angelmondragon/armory-ledger/internal/projector"
	"github.com/angelmondragon/armory-ledger/internal/txlog"
	"github.com/angelmondragon/armory-ledger/pkg/config"
	"github.com/angelmondragon/armory-ledger/pkg/db"
	"github.com/angelmondragon/armory-ledger/pkg/db/models"
	"github.com/angelmondragon/armory-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
)

var (
	admin          = authz.Caller{Role: enums.RoleAdmin}
	alphaCommander = authz.Caller{Role: enums.RoleBaseCommander, HomeBase: "Base Alpha"}
	bravoLogistics = authz.Caller{Role: enums.RoleLogistics, HomeBase: "Base Bravo"}
)

type fixture struct {
	svc  Service
	log  *txlog.Log
	proj *projector.Projector
	repo Repository
}

func newFixture(t *testing.T, repo Repository, store txlog.Store) *fixture {
	t.Helper()
	log, err := txlog.New(store, txlog.Options{})
	require.NoError(t, err)
	proj, err := projector.New(log, NewTypeIndex(repo), nil)
	require.NoError(t, err)
	svc, err := NewService(repo, log, proj, nil)
	require.NoError(t, err)
	return &fixture{svc: svc, log: log, proj: proj, repo: repo}
}

func newMemoryFixture(t *testing.T) *fixture {
	return newFixture(t, NewMemoryRepository(), txlog.NewMemoryStore())
}

func collect(t *testing.T, seq func(func(models.Asset, error) bool)) []models.Asset {
	t.Helper()
	var out []models.Asset
	for asset, err := range seq {
		require.NoError(t, err)
		out = append(out, asset)
	}
	return out
}

func TestCreateAssetSeedsOpeningBalance(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	asset, err := f.svc.CreateAsset(ctx, alphaCommander, CreateAssetInput{
		Name: " M4 Carbine ", Type: "Weapon", InitialBase: "Base Alpha", InitialQuantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "M4 Carbine", asset.Name)
	assert.Equal(t, enums.AssetTypeWeapon, asset.Type)

	balance, err := f.proj.BalanceOf(ctx, asset.ID, "Base Alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	rows, err := f.log.Query(ctx, txlog.Query{AssetID: asset.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.TransactionKindPurchase, rows[0].Kind)

	empty, err := f.svc.CreateAsset(ctx, admin, CreateAssetInput{Name: "Humvee", Type: "vehicle", InitialBase: "Base Bravo"})
	require.NoError(t, err)
	head, err := f.log.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)
	assert.True(t, empty.CreatedAt.After(asset.CreatedAt))
}

func TestCreateAssetRejections(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		caller authz.Caller
		input  CreateAssetInput
		code   pkgerrors.Code
	}{
		{"missing name", admin, CreateAssetInput{Type: "weapon", InitialBase: "Base Alpha"}, pkgerrors.CodeValidation},
		{"bad type", admin, CreateAssetInput{Name: "Rifle", Type: "laser", InitialBase: "Base Alpha"}, pkgerrors.CodeValidation},
		{"missing base", admin, CreateAssetInput{Name: "Rifle", Type: "weapon"}, pkgerrors.CodeValidation},
		{"negative quantity", admin, CreateAssetInput{Name: "Rifle", Type: "weapon", InitialBase: "Base Alpha", InitialQuantity: -1}, pkgerrors.CodeValidation},
		{"other base", alphaCommander, CreateAssetInput{Name: "Rifle", Type: "weapon", InitialBase: "Base Bravo"}, pkgerrors.CodeForbidden},
		{"logistics", bravoLogistics, CreateAssetInput{Name: "Rifle", Type: "weapon", InitialBase: "Base Bravo"}, pkgerrors.CodeForbidden},
	}
	for _, tc := range cases {
		_, err := f.svc.CreateAsset(ctx, tc.caller, tc.input)
		assert.True(t, pkgerrors.HasCode(err, tc.code), "%s: got %v", tc.name, err)
	}

	all := collect(t, f.svc.ListAssets(ctx, admin, ListParams{}))
	assert.Empty(t, all)
}

type rejectingRepo struct {
	*MemoryRepository
}

func (r *rejectingRepo) WithTx(*gorm.DB) Repository { return r }

func (r *rejectingRepo) Create(ctx context.Context, asset *models.Asset) error {
	return errors.New("disk full")
}

func TestCreateAssetFailureLeavesLogUntouched(t *testing.T) {
	repo := &rejectingRepo{MemoryRepository: NewMemoryRepository()}
	f := newFixture(t, repo, txlog.NewMemoryStore())
	ctx := context.Background()

	_, err := f.svc.CreateAsset(ctx, admin, CreateAssetInput{Name: "Rifle", Type: "weapon", InitialBase: "Base Alpha", InitialQuantity: 5})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStorageUnavailable), "got %v", err)

	head, err := f.log.Head(ctx)
	require.NoError(t, err)
	assert.Zero(t, head)
}

func TestGetAsset(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateAsset(ctx, admin, CreateAssetInput{Name: "Rifle", Type: "weapon", InitialBase: "Base Alpha"})
	require.NoError(t, err)

	found, err := f.svc.GetAsset(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = f.svc.GetAsset(ctx, uuid.New())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.GetAsset(ctx, uuid.Nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func seedCatalog(t *testing.T, f *fixture) (rifle, truck, radio *models.Asset) {
	t.Helper()
	ctx := context.Background()
	var err error
	rifle, err = f.svc.CreateAsset(ctx, admin, CreateAssetInput{Name: "Rifle", Type: "weapon", InitialBase: "Base Alpha", InitialQuantity: 10})
	require.NoError(t, err)
	truck, err = f.svc.CreateAsset(ctx, admin, CreateAssetInput{Name: "Truck", Type: "vehicle", InitialBase: "Base Bravo", InitialQuantity: 4})
	require.NoError(t, err)
	radio, err = f.svc.CreateAsset(ctx, admin, CreateAssetInput{Name: "Radio", Type: "equipment", InitialBase: "Base Bravo", InitialQuantity: 6})
	require.NoError(t, err)

	group := uuid.New()
	_, err = f.log.Append(ctx,
		txlog.Draft{Kind: enums.TransactionKindTransferOut, AssetID: truck.ID, Base: "Base Bravo", Quantity: 2, CounterpartBase: "Base Alpha", TransferGroupID: group},
		txlog.Draft{Kind: enums.TransactionKindTransferIn, AssetID: truck.ID, Base: "Base Alpha", Quantity: 2, CounterpartBase: "Base Bravo", TransferGroupID: group},
	)
	require.NoError(t, err)
	return rifle, truck, radio
}

func assertListAssets(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	rifle, truck, radio := seedCatalog(t, f)

	all := collect(t, f.svc.ListAssets(ctx, admin, ListParams{}))
	require.Len(t, all, 3)
	assert.Equal(t, []uuid.UUID{rifle.ID, truck.ID, radio.ID}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID})

	alpha := collect(t, f.svc.ListAssets(ctx, admin, ListParams{Base: "base alpha"}))
	require.Len(t, alpha, 2)
	assert.Equal(t, rifle.ID, alpha[0].ID)
	assert.Equal(t, truck.ID, alpha[1].ID)

	home := collect(t, f.svc.ListAssets(ctx, alphaCommander, ListParams{}))
	assert.Len(t, home, 2)

	vehicles := collect(t, f.svc.ListAssets(ctx, alphaCommander, ListParams{Type: enums.AssetTypeVehicle}))
	require.Len(t, vehicles, 1)
	assert.Equal(t, truck.ID, vehicles[0].ID)

	bravo := collect(t, f.svc.ListAssets(ctx, bravoLogistics, ListParams{}))
	require.Len(t, bravo, 2)
	assert.Equal(t, radio.ID, bravo[1].ID)

	for _, err := range f.svc.ListAssets(ctx, bravoLogistics, ListParams{Base: "Base Alpha"}) {
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden), "got %v", err)
	}
	for _, err := range f.svc.ListAssets(ctx, admin, ListParams{Type: "laser"}) {
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "got %v", err)
	}

	view, err := f.svc.View(ctx, *truck, "Base Alpha")
	require.NoError(t, err)
	assert.Equal(t, AssetView{ID: truck.ID, Name: "Truck", Type: enums.AssetTypeVehicle, CurrentBase: "Base Alpha", CurrentBalance: 2}, view)

	view, err = f.svc.View(ctx, *truck, "")
	require.NoError(t, err)
	assert.Equal(t, "Base Bravo", view.CurrentBase)
	assert.Equal(t, int64(2), view.CurrentBalance)
}

func TestListAssetsMemory(t *testing.T) {
	assertListAssets(t, newMemoryFixture(t))
}

func TestListAssetsSQLite(t *testing.T) {
	client, err := db.New(context.Background(), config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.DB().AutoMigrate(&models.Asset{}, &models.LedgerTransaction{}))

	f := newFixture(t, NewRepository(client.DB()), txlog.NewGormStore(client))
	assertListAssets(t, f)

	var count int64
	require.NoError(t, client.DB().Model(&models.Asset{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}
