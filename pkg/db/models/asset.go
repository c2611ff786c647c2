package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/pkg/enums"
)

// Asset is a catalog entry for a trackable item. Balances are never stored here;
// they are folded from ledger_transactions.
type Asset struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name      string          `gorm:"column:name;not null"`
	Type      enums.AssetType `gorm:"column:type;not null;index"`
	HomeBase  string          `gorm:"column:home_base;not null;index"`
	CreatedAt time.Time       `gorm:"column:created_at;not null;index"`
}

func (Asset) TableName() string {
	return "assets"
}
