// Package projector derives per-base balances and time-ranged summaries by folding
// the transaction log.
package projector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/armory-ledger/internal/txlog"
	"github.com/angelmondragon/armory-ledger/pkg/db/models"
	"github.com/angelmondragon/armory-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
)

const (
	maxStalls = 3
	// refreshTimeout bounds a shared refresh, which no longer follows any single
	// caller's deadline.
	refreshTimeout = 30 * time.Second
)

// Catalog resolves the asset-type filter of a summary.
type Catalog interface {
	IDsOfType(ctx context.Context, assetType enums.AssetType) (map[uuid.UUID]struct{}, error)
}

// Projector keeps an incremental balance cache over the log. Each refresh reads
// everything new first and applies it under one write lock, so readers never see
// half of a batch.
type Projector struct {
	log     *txlog.Log
	catalog Catalog
	logg    *logger.Logger
	group   singleflight.Group

	mu       sync.RWMutex
	cursor   int64
	balances map[Key]int64
	byBase   map[string]map[uuid.UUID]struct{}
}

// New wires a projector over the log.
func New(log *txlog.Log, catalog Catalog, logg *logger.Logger) (*Projector, error) {
	if log == nil {
		return nil, fmt.Errorf("transaction log required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("asset catalog required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Projector{
		log:      log,
		catalog:  catalog,
		logg:     logg,
		balances: make(map[Key]int64),
		byBase:   make(map[string]map[uuid.UUID]struct{}),
	}, nil
}

// Cursor returns the last seq applied to the cache.
func (p *Projector) Cursor() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

// Refresh applies every transaction committed after the cache cursor. Concurrent
// callers share one read of the log; a caller whose ctx ends stops waiting without
// failing the others.
func (p *Projector) Refresh(ctx context.Context) error {
	result := p.group.DoChan("refresh", func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return nil, p.refresh(shared)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-result:
		return res.Err
	}
}

func (p *Projector) refresh(ctx context.Context) error {
	from := p.Cursor()
	var batch []models.LedgerTransaction
	for txn, err := range p.log.ReadSince(ctx, from) {
		if err != nil {
			return err
		}
		batch = append(batch, txn)
	}
	if len(batch) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, txn := range batch {
		if txn.Seq <= p.cursor {
			continue
		}
		key := KeyOf(txn.AssetID, txn.Base)
		p.balances[key] += txn.Signed()
		assets, ok := p.byBase[key.Base]
		if !ok {
			assets = make(map[uuid.UUID]struct{})
			p.byBase[key.Base] = assets
		}
		assets[txn.AssetID] = struct{}{}
		p.cursor = txn.Seq
	}
	p.logg.Debug(p.logg.WithFields(ctx, map[string]any{"from": from, "applied_to": p.cursor}), "projector.refreshed")
	return nil
}

// catchUp refreshes until the cache covers the log head as of the call. A joined
// refresh may have started before the latest commit, hence the loop.
func (p *Projector) catchUp(ctx context.Context) error {
	head, err := p.log.Head(ctx)
	if err != nil {
		return err
	}
	stalls := 0
	for p.Cursor() < head {
		before := p.Cursor()
		if err := p.Refresh(ctx); err != nil {
			return err
		}
		if p.Cursor() > before {
			continue
		}
		stalls++
		if stalls > maxStalls {
			return pkgerrors.New(pkgerrors.CodeStorageUnavailable, "log read stopped short of its head").
				WithDetails(map[string]any{"cursor": before, "head": head})
		}
	}
	return nil
}

// BalanceOf returns the balance of assetID at base, including every transaction
// committed before the call.
func (p *Projector) BalanceOf(ctx context.Context, assetID uuid.UUID, base string) (int64, error) {
	if err := p.catchUp(ctx); err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balances[KeyOf(assetID, base)], nil
}

// BalancesOf returns every non-empty base balance of assetID from one consistent
// view of the cache.
func (p *Projector) BalancesOf(ctx context.Context, assetID uuid.UUID) (map[string]int64, error) {
	if err := p.catchUp(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int64)
	for key, balance := range p.balances {
		if key.AssetID == assetID && balance != 0 {
			out[key.Base] = balance
		}
	}
	return out, nil
}

// BalanceAt folds the log up to and including seq cursor.
func (p *Projector) BalanceAt(ctx context.Context, assetID uuid.UUID, base string, cursor int64) (int64, error) {
	if cursor <= 0 {
		return 0, nil
	}
	key := KeyOf(assetID, base)
	var balance int64
	for txn, err := range p.log.ReadRange(ctx, 0, cursor) {
		if err != nil {
			return 0, err
		}
		if KeyOf(txn.AssetID, txn.Base) == key {
			balance += txn.Signed()
		}
	}
	return balance, nil
}

// AssetsAt returns the assets with at least one transaction at base.
func (p *Projector) AssetsAt(ctx context.Context, base string) ([]uuid.UUID, error) {
	if err := p.catchUp(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	assets := p.byBase[NormalizeBase(base)]
	out := make([]uuid.UUID, 0, len(assets))
	for id := range assets {
		out = append(out, id)
	}
	return out, nil
}
