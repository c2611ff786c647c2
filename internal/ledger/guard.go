// Package ledger holds the debit guard shared by every command that lowers a
// balance: transfers, assignments and expenditures.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/internal/projector"
	"github.com/angelmondragon/armory-ledger/internal/txlog"
	"github.com/angelmondragon/armory-ledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/lock"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
	"github.com/angelmondragon/armory-ledger/pkg/metrics"
	"github.com/angelmondragon/armory-ledger/pkg/retry"
)

// Balances reads the current balance of an asset at a base.
type Balances interface {
	BalanceOf(ctx context.Context, assetID uuid.UUID, base string) (int64, error)
}

// Appender commits drafts to the transaction log.
type Appender interface {
	Append(ctx context.Context, drafts ...txlog.Draft) ([]models.LedgerTransaction, error)
}

// Debit describes one balance-lowering command.
type Debit struct {
	Operation string
	AssetID   uuid.UUID
	Base      string
	Quantity  int64
	// Drafts are committed as one batch once the balance check passes.
	Drafts []txlog.Draft
}

// Guard runs check-then-append inside the exclusive section for (asset, base), and
// retries conflicts with backoff.
type Guard struct {
	log      Appender
	balances Balances
	locker   lock.Locker
	retry    retry.Policy
	metrics  *metrics.LedgerMetrics
	logg     *logger.Logger
}

// GuardOptions configures a Guard. Zero values pick defaults.
type GuardOptions struct {
	Retry   retry.Policy
	Metrics *metrics.LedgerMetrics
	Logger  *logger.Logger
}

// NewGuard wires a debit guard.
func NewGuard(log Appender, balances Balances, locker lock.Locker, opts GuardOptions) (*Guard, error) {
	if log == nil {
		return nil, fmt.Errorf("transaction log required")
	}
	if balances == nil {
		return nil, fmt.Errorf("balance reader required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Guard{
		log:      log,
		balances: balances,
		locker:   locker,
		retry:    opts.Retry,
		metrics:  opts.Metrics,
		logg:     opts.Logger,
	}, nil
}

// LockKey is the exclusive-section key for an asset at a base.
func LockKey(assetID uuid.UUID, base string) string {
	return assetID.String() + ":" + projector.NormalizeBase(base)
}

// Debit commits d.Drafts if the balance at d.Base covers d.Quantity. Rejections
// never reach the log.
func (g *Guard) Debit(ctx context.Context, d Debit) ([]models.LedgerTransaction, error) {
	if len(d.Drafts) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "debit has no transactions")
	}

	var committed []models.LedgerTransaction
	err := retry.Do(ctx, g.retry, func(err error) bool {
		if pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			g.metrics.IncRetry("conflict")
			return true
		}
		return false
	}, func(attempt int) error {
		out, err := g.attempt(ctx, d)
		if err != nil {
			if attempt > 1 || pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
				g.logg.Warn(g.logg.WithFields(ctx, map[string]any{
					"operation": d.Operation,
					"attempt":   attempt,
					"code":      string(pkgerrors.CodeOf(err)),
				}), "ledger.debit_attempt_failed")
			}
			return err
		}
		committed = out
		return nil
	})
	if err != nil {
		g.metrics.IncRejected(d.Operation, string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	return committed, nil
}

func (g *Guard) attempt(ctx context.Context, d Debit) ([]models.LedgerTransaction, error) {
	waitStarted := time.Now()
	unlock, err := g.locker.Lock(ctx, LockKey(d.AssetID, d.Base))
	g.metrics.ObserveLockWait(time.Since(waitStarted))
	if err != nil {
		return nil, err
	}
	defer unlock()

	available, err := g.balances.BalanceOf(ctx, d.AssetID, d.Base)
	if err != nil {
		return nil, err
	}
	if d.Quantity > available {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance,
			fmt.Sprintf("requested %d but only %d available at %s", d.Quantity, available, d.Base)).
			WithDetails(map[string]any{
				"assetId":   d.AssetID.String(),
				"base":      d.Base,
				"available": available,
				"requested": d.Quantity,
			})
	}
	return g.log.Append(ctx, d.Drafts...)
}
