// Package txlog is the append-only transaction log: the single source of truth
// for every balance-affecting event.
package txlog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/pkg/db/models"
	"github.com/angelmondragon/armory-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
	"github.com/angelmondragon/armory-ledger/pkg/metrics"
	"github.com/angelmondragon/armory-ledger/pkg/retry"
)

const defaultReadBatch = 500

// Draft is a transaction before the log assigns its id, seq and timestamp.
type Draft struct {
	Kind            enums.TransactionKind
	AssetID         uuid.UUID
	Base            string
	Quantity        int64
	CounterpartBase string
	TransferGroupID uuid.UUID
	ReversesID      *uuid.UUID
	ActorRole       enums.Role
	ActorBase       string
}

// Options tunes a Log. Zero values pick defaults.
type Options struct {
	Clock     func() time.Time
	Retry     retry.Policy
	ReadBatch int
	Logger    *logger.Logger
	Metrics   *metrics.LedgerMetrics
}

// Log assigns the global commit order. Appends within a process are serialized; the
// store's compare-and-append orders appends across processes.
type Log struct {
	store     Store
	clock     func() time.Time
	retry     retry.Policy
	readBatch int
	logg      *logger.Logger
	metrics   *metrics.LedgerMetrics

	mu         sync.Mutex
	head       int64
	headLoaded bool
	lastTS     time.Time
}

// New wires a log over the provided store.
func New(store Store, opts Options) (*Log, error) {
	if store == nil {
		return nil, fmt.Errorf("txlog store required")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ReadBatch <= 0 {
		opts.ReadBatch = defaultReadBatch
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Log{
		store:     store,
		clock:     opts.Clock,
		retry:     opts.Retry,
		readBatch: opts.ReadBatch,
		logg:      opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// Append commits drafts as one atomic unit and returns them as stored.
func (l *Log) Append(ctx context.Context, drafts ...Draft) ([]models.LedgerTransaction, error) {
	return l.AppendTx(ctx, nil, drafts...)
}

// AppendTx is Append with a hook that runs in the same unit of work, so rows written
// by the hook commit or roll back together with the batch.
func (l *Log) AppendTx(ctx context.Context, hook CommitHook, drafts ...Draft) ([]models.LedgerTransaction, error) {
	if len(drafts) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one transaction is required")
	}
	records := make([]models.LedgerTransaction, 0, len(drafts))
	for i, draft := range drafts {
		if err := validateDraft(draft); err != nil {
			return nil, err.WithDetails(map[string]any{"index": i})
		}
		records = append(records, draft.record())
	}

	var committed []models.LedgerTransaction
	err := retry.Do(ctx, l.retry, func(err error) bool {
		if pkgerrors.HasCode(err, pkgerrors.CodeStorageUnavailable) {
			l.metrics.IncRetry("storage")
			return true
		}
		return false
	}, func(attempt int) error {
		if attempt > 1 {
			// A failed commit may still have landed; the ids are fixed across attempts.
			if existing, err := l.alreadyCommitted(ctx, records); err != nil || existing != nil {
				committed = existing
				return err
			}
		}
		out, err := l.tryAppend(ctx, records, hook)
		if err != nil {
			return err
		}
		committed = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, record := range committed {
		l.metrics.IncAppended(string(record.Kind))
	}
	return committed, nil
}

func (l *Log) tryAppend(ctx context.Context, records []models.LedgerTransaction, hook CommitHook) ([]models.LedgerTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.headLoaded {
		head, err := l.store.Head(ctx)
		if err != nil {
			return nil, storageError(err, "read log head")
		}
		l.head = head
		l.headLoaded = true
	}

	ts := l.clock().UTC().Truncate(time.Microsecond)
	if ts.Before(l.lastTS) {
		ts = l.lastTS
	}
	batch := make([]models.LedgerTransaction, len(records))
	for i, record := range records {
		record.Seq = l.head + int64(i) + 1
		record.Timestamp = ts
		batch[i] = record
	}

	started := time.Now()
	err := l.store.Append(ctx, l.head, batch, hook)
	switch {
	case err == nil:
		l.metrics.ObserveAppend("committed", time.Since(started))
		l.head += int64(len(batch))
		l.lastTS = ts
		return batch, nil
	case errors.Is(err, ErrHeadMoved):
		l.metrics.ObserveAppend("conflict", time.Since(started))
		l.headLoaded = false
		l.logg.Warn(l.logg.WithField(ctx, "expected_head", l.head), "txlog.head_moved")
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "log advanced concurrently")
	case errors.Is(err, ErrAlreadyReversed):
		l.metrics.ObserveAppend("conflict", time.Since(started))
		l.headLoaded = false
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "transaction already reversed")
	default:
		l.metrics.ObserveAppend("failed", time.Since(started))
		l.headLoaded = false
		if typed := pkgerrors.As(err); typed != nil {
			return nil, err
		}
		return nil, storageError(err, "append transactions")
	}
}

func (l *Log) alreadyCommitted(ctx context.Context, records []models.LedgerTransaction) ([]models.LedgerTransaction, error) {
	first, err := l.store.FindByID(ctx, records[0].ID)
	if err != nil {
		return nil, storageError(err, "check prior append")
	}
	if first == nil {
		return nil, nil
	}
	out := []models.LedgerTransaction{*first}
	for _, record := range records[1:] {
		stored, err := l.store.FindByID(ctx, record.ID)
		if err != nil {
			return nil, storageError(err, "check prior append")
		}
		if stored == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "partially visible batch")
		}
		out = append(out, *stored)
	}
	l.logg.Warn(l.logg.WithField(ctx, "seq", first.Seq), "txlog.append_recovered")
	return out, nil
}

// Head returns the last committed seq as seen by the store.
func (l *Log) Head(ctx context.Context) (int64, error) {
	var head int64
	err := l.withStorageRetry(ctx, func() error {
		h, err := l.store.Head(ctx)
		if err != nil {
			return storageError(err, "read log head")
		}
		head = h
		return nil
	})
	return head, err
}

// Get returns one transaction by id.
func (l *Log) Get(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error) {
	var found *models.LedgerTransaction
	err := l.withStorageRetry(ctx, func() error {
		record, err := l.store.FindByID(ctx, id)
		if err != nil {
			return storageError(err, "find transaction")
		}
		found = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return found, nil
}

// ReversalOf returns the compensating entry for id, or nil when none exists.
func (l *Log) ReversalOf(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error) {
	var found *models.LedgerTransaction
	err := l.withStorageRetry(ctx, func() error {
		record, err := l.store.FindReversalOf(ctx, id)
		if err != nil {
			return storageError(err, "find reversal")
		}
		found = record
		return nil
	})
	return found, err
}

// Query returns transactions matching q, newest first.
func (l *Log) Query(ctx context.Context, q Query) ([]models.LedgerTransaction, error) {
	var out []models.LedgerTransaction
	err := l.withStorageRetry(ctx, func() error {
		records, err := l.store.Query(ctx, q)
		if err != nil {
			return storageError(err, "query transactions")
		}
		out = records
		return nil
	})
	return out, err
}

// ReadSince yields every transaction with seq > cursor in seq order, paging lazily.
// Iteration stops at the first error.
func (l *Log) ReadSince(ctx context.Context, cursor int64) iter.Seq2[models.LedgerTransaction, error] {
	return l.ReadRange(ctx, cursor, 0)
}

// ReadRange yields transactions with after < seq <= upTo. upTo <= 0 reads to the end.
func (l *Log) ReadRange(ctx context.Context, after, upTo int64) iter.Seq2[models.LedgerTransaction, error] {
	return func(yield func(models.LedgerTransaction, error) bool) {
		next := after
		for {
			limit := l.readBatch
			if upTo > 0 {
				remaining := upTo - next
				if remaining <= 0 {
					return
				}
				if remaining < int64(limit) {
					limit = int(remaining)
				}
			}

			var page []models.LedgerTransaction
			err := l.withStorageRetry(ctx, func() error {
				records, err := l.store.ReadAfter(ctx, next, limit)
				if err != nil {
					return storageError(err, "read transactions")
				}
				page = records
				return nil
			})
			if err != nil {
				yield(models.LedgerTransaction{}, err)
				return
			}
			for _, record := range page {
				if !yield(record, nil) {
					return
				}
				next = record.Seq
			}
			if len(page) < limit {
				return
			}
		}
	}
}

func (l *Log) withStorageRetry(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, l.retry, func(err error) bool {
		return pkgerrors.HasCode(err, pkgerrors.CodeStorageUnavailable)
	}, func(int) error {
		return fn()
	})
}

// storageError marks err as a store outage. A cancelled or expired ctx belongs to
// the caller and passes through untyped.
func storageError(err error, action string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", action, err)
	}
	return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, action)
}

func validateDraft(d Draft) *pkgerrors.Error {
	if !d.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction kind %q", d.Kind))
	}
	if d.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if strings.TrimSpace(d.Base) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "base is required")
	}
	if d.AssetID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "asset id is required")
	}
	if d.Kind.IsTransfer() {
		if strings.TrimSpace(d.CounterpartBase) == "" || d.TransferGroupID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "transfer halves require a counterpart base and group id")
		}
		if normalizeBase(d.CounterpartBase) == normalizeBase(d.Base) {
			return pkgerrors.New(pkgerrors.CodeValidation, "counterpart base must differ from base")
		}
	}
	if d.ReversesID != nil && !d.Kind.Reversible() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s transactions cannot be reversed", d.Kind))
	}
	return nil
}

func (d Draft) record() models.LedgerTransaction {
	record := models.LedgerTransaction{
		ID:         uuid.New(),
		Kind:       d.Kind,
		AssetID:    d.AssetID,
		Base:       strings.TrimSpace(d.Base),
		Quantity:   d.Quantity,
		ReversesID: d.ReversesID,
		ActorRole:  d.ActorRole,
		ActorBase:  d.ActorBase,
	}
	if d.Kind.IsTransfer() {
		counterpart := strings.TrimSpace(d.CounterpartBase)
		group := d.TransferGroupID
		record.CounterpartBase = &counterpart
		record.TransferGroupID = &group
	}
	return record
}
