// Package purchases records stock arriving at a base and lists purchase history.
package purchases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/internal/authz"
	"github.com/angelmondragon/armory-ledger/internal/txlog"
	"github.com/angelmondragon/armory-ledger/pkg/db/models"
	"github.com/angelmondragon/armory-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
)

// AssetLookup resolves assets by id.
type AssetLookup interface {
	GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error)
}

// Log is the slice of the transaction log purchases need.
type Log interface {
	Append(ctx context.Context, drafts ...txlog.Draft) ([]models.LedgerTransaction, error)
	Query(ctx context.Context, q txlog.Query) ([]models.LedgerTransaction, error)
}

// Service defines purchase operations.
type Service interface {
	RecordPurchase(ctx context.Context, caller authz.Caller, input RecordPurchaseInput) (*Purchase, error)
	ListPurchases(ctx context.Context, caller authz.Caller, params ListParams) ([]Purchase, error)
}

// RecordPurchaseInput adds quantity of an asset at a base.
type RecordPurchaseInput struct {
	AssetID  uuid.UUID `json:"assetId" validate:"required"`
	Base     string    `json:"base" validate:"required"`
	Quantity int64     `json:"quantity" validate:"gt=0"`
}

// ListParams filters ListPurchases. Start and End are inclusive.
type ListParams struct {
	Base  string
	Type  enums.AssetType
	Start *time.Time
	End   *time.Time
}

// AssetRef is the asset summary embedded in a purchase.
type AssetRef struct {
	ID   uuid.UUID       `json:"id"`
	Name string          `json:"name"`
	Type enums.AssetType `json:"type"`
}

// Purchase is one PURCHASE transaction joined with its asset.
type Purchase struct {
	ID           uuid.UUID `json:"id"`
	BaseName     string    `json:"baseName"`
	Asset        AssetRef  `json:"asset"`
	Quantity     int64     `json:"quantity"`
	PurchaseDate time.Time `json:"purchaseDate"`
	Seq          int64     `json:"seq"`
}

type service struct {
	log    Log
	assets AssetLookup
	logg   *logger.Logger
}

// NewService wires purchase dependencies.
func NewService(log Log, assets AssetLookup, logg *logger.Logger) (Service, error) {
	if log == nil {
		return nil, fmt.Errorf("transaction log required")
	}
	if assets == nil {
		return nil, fmt.Errorf("asset lookup required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{log: log, assets: assets, logg: logg}, nil
}

func (s *service) RecordPurchase(ctx context.Context, caller authz.Caller, input RecordPurchaseInput) (*Purchase, error) {
	base := strings.TrimSpace(input.Base)
	if base == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "base is required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.AssetID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assetId is required")
	}
	if err := authz.Authorize(caller, authz.OpRecordPurchase, base); err != nil {
		return nil, err
	}
	asset, err := s.assets.GetAsset(ctx, input.AssetID)
	if err != nil {
		return nil, err
	}

	out, err := s.log.Append(ctx, txlog.Draft{
		Kind:      enums.TransactionKindPurchase,
		AssetID:   asset.ID,
		Base:      base,
		Quantity:  input.Quantity,
		ActorRole: caller.Role,
		ActorBase: caller.HomeBase,
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"asset_id": asset.ID.String(),
		"base":     base,
		"quantity": input.Quantity,
		"seq":      out[0].Seq,
	})
	s.logg.Info(logCtx, "purchase.recorded")
	purchase := toPurchase(out[0], asset)
	return &purchase, nil
}

func (s *service) ListPurchases(ctx context.Context, caller authz.Caller, params ListParams) ([]Purchase, error) {
	if params.Type != "" && !params.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unrecognized asset type %q", params.Type))
	}
	if params.Start != nil && params.End != nil && params.End.Before(*params.Start) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "end must not precede start")
	}
	base := strings.TrimSpace(params.Base)
	if err := authz.Authorize(caller, authz.OpListPurchases, base); err != nil {
		return nil, err
	}
	if base == "" && !authz.VisibleFor(caller, authz.OpListPurchases).All {
		base = caller.HomeBase
	}

	query := txlog.Query{
		Kinds: []enums.TransactionKind{enums.TransactionKindPurchase},
		Start: params.Start,
		End:   params.End,
	}
	if base != "" {
		query.Bases = []string{base}
	}
	rows, err := s.log.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	assets := make(map[uuid.UUID]*models.Asset)
	out := make([]Purchase, 0, len(rows))
	for _, row := range rows {
		asset, ok := assets[row.AssetID]
		if !ok {
			asset, err = s.assets.GetAsset(ctx, row.AssetID)
			if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
				return nil, err
			}
			assets[row.AssetID] = asset
		}
		if params.Type != "" && (asset == nil || asset.Type != params.Type) {
			continue
		}
		out = append(out, toPurchase(row, asset))
	}
	return out, nil
}

func toPurchase(row models.LedgerTransaction, asset *models.Asset) Purchase {
	purchase := Purchase{
		ID:           row.ID,
		BaseName:     row.Base,
		Asset:        AssetRef{ID: row.AssetID},
		Quantity:     row.Quantity,
		PurchaseDate: row.Timestamp,
		Seq:          row.Seq,
	}
	if asset != nil {
		purchase.Asset.Name = asset.Name
		purchase.Asset.Type = asset.Type
	}
	return purchase
}
