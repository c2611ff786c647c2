// Package assets is the asset registry: the catalog of trackable items. Balances
// are never stored on the asset; they come from the balance projector.
package assets

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/armory-ledger/internal/authz"
	"github.com/angelmondragon/armory-ledger/internal/txlog"
	"github.com/angelmondragon/armory-ledger/pkg/db/models"
	"github.com/angelmondragon/armory-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
)

// Balances is the read surface the registry needs from the projector.
type Balances interface {
	BalanceOf(ctx context.Context, assetID uuid.UUID, base string) (int64, error)
	AssetsAt(ctx context.Context, base string) ([]uuid.UUID, error)
}

// Service defines asset registry operations.
type Service interface {
	CreateAsset(ctx context.Context, caller authz.Caller, input CreateAssetInput) (*models.Asset, error)
	GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	ListAssets(ctx context.Context, caller authz.Caller, params ListParams) iter.Seq2[models.Asset, error]
	View(ctx context.Context, asset models.Asset, base string) (AssetView, error)
}

// CreateAssetInput captures a new catalog entry and its opening stock.
type CreateAssetInput struct {
	Name            string `json:"name" validate:"required"`
	Type            string `json:"type" validate:"required"`
	InitialBase     string `json:"initialBase" validate:"required"`
	InitialQuantity int64  `json:"initialQuantity" validate:"gte=0"`
}

// ListParams filters ListAssets. Empty fields mean "no filter".
type ListParams struct {
	Base string
	Type enums.AssetType
}

// AssetView is an asset with its balance at one base.
type AssetView struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Type           enums.AssetType `json:"type"`
	CurrentBase    string          `json:"currentBase"`
	CurrentBalance int64           `json:"currentBalance"`
}

type service struct {
	repo     Repository
	log      *txlog.Log
	balances Balances
	logg     *logger.Logger
	clock    func() time.Time

	mu          sync.Mutex
	lastCreated time.Time
}

// NewService wires the registry with its repository, the transaction log and the
// balance reader.
func NewService(repo Repository, log *txlog.Log, balances Balances, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("assets repository required")
	}
	if log == nil {
		return nil, fmt.Errorf("transaction log required")
	}
	if balances == nil {
		return nil, fmt.Errorf("balance reader required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, log: log, balances: balances, logg: logg, clock: time.Now}, nil
}

func (s *service) CreateAsset(ctx context.Context, caller authz.Caller, input CreateAssetInput) (*models.Asset, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	assetType, err := enums.ParseAssetType(input.Type)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unrecognized asset type")
	}
	base := strings.TrimSpace(input.InitialBase)
	if base == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "initialBase is required")
	}
	if input.InitialQuantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "initialQuantity must not be negative")
	}
	if err := authz.Authorize(caller, authz.OpCreateAsset, base); err != nil {
		return nil, err
	}

	asset := &models.Asset{
		ID:        uuid.New(),
		Name:      name,
		Type:      assetType,
		HomeBase:  base,
		CreatedAt: s.nextCreatedAt(),
	}

	if input.InitialQuantity == 0 {
		if err := s.repo.Create(ctx, asset); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "insert asset")
		}
	} else {
		_, err := s.log.AppendTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Create(ctx, asset); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "insert asset")
			}
			return nil
		}, txlog.Draft{
			Kind:      enums.TransactionKindPurchase,
			AssetID:   asset.ID,
			Base:      base,
			Quantity:  input.InitialQuantity,
			ActorRole: caller.Role,
			ActorBase: caller.HomeBase,
		})
		if err != nil {
			return nil, err
		}
	}

	logCtx := s.logg.WithAssetID(s.logg.WithBase(ctx, base), asset.ID.String())
	s.logg.Info(s.logg.WithField(logCtx, "initial_quantity", input.InitialQuantity), "asset.created")
	return asset, nil
}

// nextCreatedAt keeps creation timestamps strictly increasing so created_at order
// is creation order.
func (s *service) nextCreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC().Truncate(time.Microsecond)
	if !now.After(s.lastCreated) {
		now = s.lastCreated.Add(time.Microsecond)
	}
	s.lastCreated = now
	return now
}

func (s *service) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset id is required")
	}
	asset, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "find asset")
	}
	if asset == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "asset not found")
	}
	return asset, nil
}

func (s *service) ListAssets(ctx context.Context, caller authz.Caller, params ListParams) iter.Seq2[models.Asset, error] {
	return func(yield func(models.Asset, error) bool) {
		assets, err := s.listAssets(ctx, caller, params)
		if err != nil {
			yield(models.Asset{}, err)
			return
		}
		for _, asset := range assets {
			if !yield(asset, nil) {
				return
			}
		}
	}
}

func (s *service) listAssets(ctx context.Context, caller authz.Caller, params ListParams) ([]models.Asset, error) {
	if params.Type != "" && !params.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unrecognized asset type %q", params.Type))
	}
	base := strings.TrimSpace(params.Base)
	if err := authz.Authorize(caller, authz.OpListAssets, base); err != nil {
		return nil, err
	}
	if base == "" && !authz.VisibleFor(caller, authz.OpListAssets).All {
		base = caller.HomeBase
	}

	filter := listFilter{Type: params.Type}
	if base != "" {
		ids, err := s.balances.AssetsAt(ctx, base)
		if err != nil {
			return nil, err
		}
		filter.HomeBase = base
		filter.IDs = ids
		if filter.IDs == nil {
			filter.IDs = []uuid.UUID{}
		}
	}

	assets, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "list assets")
	}
	return assets, nil
}

func (s *service) View(ctx context.Context, asset models.Asset, base string) (AssetView, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		base = asset.HomeBase
	}
	balance, err := s.balances.BalanceOf(ctx, asset.ID, base)
	if err != nil {
		return AssetView{}, err
	}
	return AssetView{
		ID:             asset.ID,
		Name:           asset.Name,
		Type:           asset.Type,
		CurrentBase:    base,
		CurrentBalance: balance,
	}, nil
}
