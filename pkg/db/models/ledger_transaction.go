package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/pkg/enums"
)

// LedgerTransaction is one immutable, balance-affecting line item. Seq is the global
// commit order; the unique index on it is what makes concurrent appends from separate
// processes collide instead of interleave.
type LedgerTransaction struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Seq             int64                 `gorm:"column:seq;not null;uniqueIndex:ux_ledger_transactions_seq" json:"seq"`
	Kind            enums.TransactionKind `gorm:"column:kind;not null" json:"kind"`
	AssetID         uuid.UUID             `gorm:"column:asset_id;type:uuid;not null;index:ix_ledger_transactions_asset_base,priority:1" json:"assetId"`
	Base            string                `gorm:"column:base;not null;index:ix_ledger_transactions_asset_base,priority:2" json:"base"`
	Quantity        int64                 `gorm:"column:quantity;not null" json:"quantity"`
	Timestamp       time.Time             `gorm:"column:occurred_at;not null;index" json:"timestamp"`
	CounterpartBase *string               `gorm:"column:counterpart_base" json:"counterpartBase,omitempty"`
	TransferGroupID *uuid.UUID            `gorm:"column:transfer_group_id;type:uuid;index" json:"transferGroupId,omitempty"`
	ReversesID      *uuid.UUID            `gorm:"column:reverses_id;type:uuid;uniqueIndex:ux_ledger_transactions_reverses" json:"reversesId,omitempty"`
	ActorRole       enums.Role            `gorm:"column:actor_role" json:"actorRole,omitempty"`
	ActorBase       string                `gorm:"column:actor_base" json:"actorBase,omitempty"`
}

func (LedgerTransaction) TableName() string {
	return "ledger_transactions"
}

// Signed returns the quantity this line contributes to the balance at Base.
// A reversal contributes the opposite of its kind.
func (t LedgerTransaction) Signed() int64 {
	delta := t.Kind.Sign() * t.Quantity
	if t.ReversesID != nil {
		return -delta
	}
	return delta
}

// IsReversal reports whether the line compensates an earlier one.
func (t LedgerTransaction) IsReversal() bool {
	return t.ReversesID != nil
}
