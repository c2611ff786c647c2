package txlog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/armory-ledger/internal/repo"
	"github.com/angelmondragon/armory-ledger/pkg/db"
	"github.com/angelmondragon/armory-ledger/pkg/db/models"
)

// Postgres reports the index name; SQLite reports table.column.
const (
	seqConstraint      = "ux_ledger_transactions_seq"
	seqColumn          = "ledger_transactions.seq"
	reversesConstraint = "ux_ledger_transactions_reverses"
	reversesColumn     = "ledger_transactions.reverses_id"
)

// GormStore persists the log in the ledger_transactions table. The unique index on
// seq turns a lost race between processes into ErrHeadMoved.
type GormStore struct {
	client *db.Client
}

// NewGormStore binds a store to the shared database client.
func NewGormStore(client *db.Client) *GormStore {
	return &GormStore{client: client}
}

func (s *GormStore) Head(ctx context.Context) (int64, error) {
	return headOf(s.client.DB().WithContext(ctx))
}

func headOf(conn *gorm.DB) (int64, error) {
	var head int64
	err := conn.Model(&models.LedgerTransaction{}).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&head).Error
	return head, err
}

func (s *GormStore) Append(ctx context.Context, expectedHead int64, records []models.LedgerTransaction, hook CommitHook) error {
	return s.client.WithTx(ctx, func(tx *gorm.DB) error {
		head, err := headOf(tx)
		if err != nil {
			return err
		}
		if head != expectedHead {
			return ErrHeadMoved
		}
		if err := tx.Create(&records).Error; err != nil {
			switch {
			case db.IsUniqueViolation(err, seqConstraint), db.IsUniqueViolation(err, seqColumn):
				return ErrHeadMoved
			case db.IsUniqueViolation(err, reversesConstraint), db.IsUniqueViolation(err, reversesColumn):
				return ErrAlreadyReversed
			}
			return err
		}
		if hook != nil {
			return hook(tx)
		}
		return nil
	})
}

func (s *GormStore) ReadAfter(ctx context.Context, after int64, limit int) ([]models.LedgerTransaction, error) {
	query := s.client.DB().WithContext(ctx).
		Where("seq > ?", after).
		Order("seq ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []models.LedgerTransaction
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *GormStore) FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *GormStore) FindReversalOf(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error) {
	return s.first(ctx, "reverses_id = ?", id)
}

func (s *GormStore) first(ctx context.Context, where string, args ...any) (*models.LedgerTransaction, error) {
	var record models.LedgerTransaction
	found, err := repo.Take(s.client.DB().WithContext(ctx).Where(where, args...), &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

func (s *GormStore) Query(ctx context.Context, q Query) ([]models.LedgerTransaction, error) {
	query := s.client.DB().WithContext(ctx).Model(&models.LedgerTransaction{})
	if len(q.Kinds) > 0 {
		query = query.Where("kind IN ?", q.Kinds)
	}
	if q.AssetID != uuid.Nil {
		query = query.Where("asset_id = ?", q.AssetID)
	}
	if len(q.Bases) > 0 {
		bases := make([]string, 0, len(q.Bases))
		for _, base := range q.Bases {
			bases = append(bases, normalizeBase(base))
		}
		query = query.Where("LOWER(base) IN ?", bases)
	}
	if q.Start != nil {
		query = query.Where("occurred_at >= ?", *q.Start)
	}
	if q.End != nil {
		query = query.Where("occurred_at <= ?", *q.End)
	}
	if q.BeforeSeq > 0 {
		query = query.Where("seq < ?", q.BeforeSeq)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var records []models.LedgerTransaction
	if err := query.Order("seq DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
