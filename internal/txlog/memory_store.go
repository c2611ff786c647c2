package txlog

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/pkg/db/models"
)

// MemoryStore keeps the log in process memory. Records are stored in seq order
// with seq == index+1.
type MemoryStore struct {
	mu        sync.RWMutex
	records   []models.LedgerTransaction
	byID      map[uuid.UUID]int
	reversals map[uuid.UUID]int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[uuid.UUID]int),
		reversals: make(map[uuid.UUID]int),
	}
}

func (s *MemoryStore) Head(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func (s *MemoryStore) Append(ctx context.Context, expectedHead int64, records []models.LedgerTransaction, hook CommitHook) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if int64(len(s.records)) != expectedHead {
		return ErrHeadMoved
	}
	seen := make(map[uuid.UUID]struct{}, len(records))
	for _, record := range records {
		if record.ReversesID == nil {
			continue
		}
		if _, ok := s.reversals[*record.ReversesID]; ok {
			return ErrAlreadyReversed
		}
		if _, ok := seen[*record.ReversesID]; ok {
			return ErrAlreadyReversed
		}
		seen[*record.ReversesID] = struct{}{}
	}
	if hook != nil {
		if err := hook(nil); err != nil {
			return err
		}
	}

	for _, record := range records {
		idx := len(s.records)
		s.records = append(s.records, record)
		s.byID[record.ID] = idx
		if record.ReversesID != nil {
			s.reversals[*record.ReversesID] = idx
		}
	}
	return nil
}

func (s *MemoryStore) ReadAfter(ctx context.Context, after int64, limit int) ([]models.LedgerTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if after < 0 {
		after = 0
	}
	if after >= int64(len(s.records)) {
		return nil, nil
	}
	end := int64(len(s.records))
	if limit > 0 && after+int64(limit) < end {
		end = after + int64(limit)
	}
	out := make([]models.LedgerTransaction, end-after)
	copy(out, s.records[after:end])
	return out, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	record := s.records[idx]
	return &record, nil
}

func (s *MemoryStore) FindReversalOf(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.reversals[id]
	if !ok {
		return nil, nil
	}
	record := s.records[idx]
	return &record, nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]models.LedgerTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.LedgerTransaction
	for i := len(s.records) - 1; i >= 0; i-- {
		if !q.matches(s.records[i]) {
			continue
		}
		out = append(out, s.records[i])
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func normalizeBase(base string) string {
	return strings.ToLower(strings.TrimSpace(base))
}
