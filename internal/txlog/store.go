package txlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/armory-ledger/pkg/db/models"
	"github.com/angelmondragon/armory-ledger/pkg/enums"
)

var (
	// ErrHeadMoved is returned by a Store when its head no longer matches the head the
	// caller expected; another writer committed first.
	ErrHeadMoved = errors.New("txlog: store head moved")
	// ErrAlreadyReversed is returned when a batch reverses a transaction that already
	// has a compensating entry.
	ErrAlreadyReversed = errors.New("txlog: transaction already reversed")
)

// CommitHook runs inside the same unit of work as an append. tx is nil for stores
// without a database transaction.
type CommitHook func(tx *gorm.DB) error

// Store is the narrow persistence surface behind the log.
type Store interface {
	Head(ctx context.Context) (int64, error)
	// Append commits records only if the store head still equals expectedHead.
	Append(ctx context.Context, expectedHead int64, records []models.LedgerTransaction, hook CommitHook) error
	ReadAfter(ctx context.Context, after int64, limit int) ([]models.LedgerTransaction, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error)
	FindReversalOf(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error)
	// Query returns matching transactions newest first.
	Query(ctx context.Context, q Query) ([]models.LedgerTransaction, error)
}

// Query filters transactions for list views. Zero values mean "no filter".
type Query struct {
	Kinds     []enums.TransactionKind
	AssetID   uuid.UUID
	Bases     []string
	Start     *time.Time
	End       *time.Time
	BeforeSeq int64
	Limit     int
}

func (q Query) matches(txn models.LedgerTransaction) bool {
	if len(q.Kinds) > 0 {
		found := false
		for _, kind := range q.Kinds {
			if kind == txn.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.AssetID != uuid.Nil && txn.AssetID != q.AssetID {
		return false
	}
	if len(q.Bases) > 0 {
		found := false
		for _, base := range q.Bases {
			if normalizeBase(base) == normalizeBase(txn.Base) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Start != nil && txn.Timestamp.Before(*q.Start) {
		return false
	}
	if q.End != nil && txn.Timestamp.After(*q.End) {
		return false
	}
	if q.BeforeSeq > 0 && txn.Seq >= q.BeforeSeq {
		return false
	}
	return true
}
