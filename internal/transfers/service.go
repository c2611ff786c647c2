// Package transfers commits transfers as a paired debit/credit and lists them.
package transfers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/internal/authz"
	"github.com/angelmondragon/armory-ledger/internal/ledger"
	"github.com/angelmondragon/armory-ledger/internal/projector"
	"github.com/angelmondragon/armory-ledger/internal/txlog"
	"github.com/angelmondragon/armory-ledger/pkg/db/models"
	"github.com/angelmondragon/armory-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
	"github.com/angelmondragon/armory-ledger/pkg/pagination"
)

// AssetLookup resolves assets by id.
type AssetLookup interface {
	GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error)
}

// Querier reads committed transactions newest first.
type Querier interface {
	Query(ctx context.Context, q txlog.Query) ([]models.LedgerTransaction, error)
}

// Service defines transfer operations.
type Service interface {
	Transfer(ctx context.Context, caller authz.Caller, input TransferInput) (*Result, error)
	ListTransfers(ctx context.Context, caller authz.Caller, params ListParams) (*ListResult, error)
}

// TransferInput moves quantity of an asset from one base to another.
type TransferInput struct {
	AssetID  uuid.UUID `json:"assetId" validate:"required"`
	FromBase string    `json:"fromBase" validate:"required"`
	ToBase   string    `json:"toBase" validate:"required"`
	Quantity int64     `json:"quantity" validate:"gt=0"`
}

// Result is the committed transfer group.
type Result struct {
	TransferGroupID uuid.UUID                `json:"transferGroupId"`
	Out             models.LedgerTransaction `json:"out"`
	In              models.LedgerTransaction `json:"in"`
}

// ListParams filters ListTransfers.
type ListParams struct {
	Base    string
	AssetID uuid.UUID
	Limit   int
	Cursor  string
}

// Transfer is one transfer group as shown in history.
type Transfer struct {
	ID           uuid.UUID `json:"id"`
	Asset        AssetRef  `json:"asset"`
	FromBase     string    `json:"fromBase"`
	ToBase       string    `json:"toBase"`
	Quantity     int64     `json:"quantity"`
	TransferTime time.Time `json:"transferTime"`
	Seq          int64     `json:"seq"`
}

// AssetRef is the asset summary embedded in a transfer.
type AssetRef struct {
	ID   uuid.UUID       `json:"id"`
	Name string          `json:"name"`
	Type enums.AssetType `json:"type"`
}

// ListResult wraps a page of transfers and the cursor for the next page.
type ListResult struct {
	Items  []Transfer `json:"items"`
	Cursor string     `json:"cursor"`
}

type service struct {
	guard  *ledger.Guard
	query  Querier
	assets AssetLookup
	logg   *logger.Logger
}

// NewService wires the transfer coordinator.
func NewService(guard *ledger.Guard, query Querier, assets AssetLookup, logg *logger.Logger) (Service, error) {
	if guard == nil {
		return nil, fmt.Errorf("debit guard required")
	}
	if query == nil {
		return nil, fmt.Errorf("transaction querier required")
	}
	if assets == nil {
		return nil, fmt.Errorf("asset lookup required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{guard: guard, query: query, assets: assets, logg: logg}, nil
}

func (s *service) Transfer(ctx context.Context, caller authz.Caller, input TransferInput) (*Result, error) {
	from := strings.TrimSpace(input.FromBase)
	to := strings.TrimSpace(input.ToBase)
	switch {
	case from == "" || to == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fromBase and toBase are required")
	case projector.NormalizeBase(from) == projector.NormalizeBase(to):
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fromBase and toBase must differ")
	case input.Quantity <= 0:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	case input.AssetID == uuid.Nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assetId is required")
	}
	if err := authz.Authorize(caller, authz.OpTransfer, from); err != nil {
		return nil, err
	}
	if _, err := s.assets.GetAsset(ctx, input.AssetID); err != nil {
		return nil, err
	}

	group := uuid.New()
	out, err := s.guard.Debit(ctx, ledger.Debit{
		Operation: string(authz.OpTransfer),
		AssetID:   input.AssetID,
		Base:      from,
		Quantity:  input.Quantity,
		Drafts: []txlog.Draft{
			{
				Kind: enums.TransactionKindTransferOut, AssetID: input.AssetID, Base: from, Quantity: input.Quantity,
				CounterpartBase: to, TransferGroupID: group, ActorRole: caller.Role, ActorBase: caller.HomeBase,
			},
			{
				Kind: enums.TransactionKindTransferIn, AssetID: input.AssetID, Base: to, Quantity: input.Quantity,
				CounterpartBase: from, TransferGroupID: group, ActorRole: caller.Role, ActorBase: caller.HomeBase,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"transfer_group_id": group.String(),
		"asset_id":          input.AssetID.String(),
		"from_base":         from,
		"to_base":           to,
		"quantity":          input.Quantity,
		"seq":               out[0].Seq,
	})
	s.logg.Info(logCtx, "transfer.committed")
	return &Result{TransferGroupID: group, Out: out[0], In: out[1]}, nil
}

func (s *service) ListTransfers(ctx context.Context, caller authz.Caller, params ListParams) (*ListResult, error) {
	base := strings.TrimSpace(params.Base)
	if err := authz.Authorize(caller, authz.OpListTransfers, base); err != nil {
		return nil, err
	}
	visible := authz.VisibleFor(caller, authz.OpListTransfers)
	if base == "" && !visible.All {
		// Home-scoped callers only ever see their own base.
		base = caller.HomeBase
	}

	limit := pagination.NormalizeLimit(params.Limit)
	query := txlog.Query{
		Kinds:   []enums.TransactionKind{enums.TransactionKindTransferOut},
		AssetID: params.AssetID,
		Limit:   limit + 1,
	}
	if base != "" {
		// A group touches base once, as its OUT half or its IN half.
		query.Kinds = append(query.Kinds, enums.TransactionKindTransferIn)
		query.Bases = []string{base}
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.BeforeSeq = cursor.Seq
	}

	rows, err := s.query.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		next = pagination.EncodeCursor(pagination.Cursor{Seq: rows[limit-1].Seq})
	}

	names := make(map[uuid.UUID]*models.Asset)
	items := make([]Transfer, 0, len(rows))
	for _, row := range rows {
		item := transferFromRow(row)
		asset, ok := names[row.AssetID]
		if !ok {
			asset, err = s.assets.GetAsset(ctx, row.AssetID)
			if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
				return nil, err
			}
			names[row.AssetID] = asset
		}
		if asset != nil {
			item.Asset.Name = asset.Name
			item.Asset.Type = asset.Type
		}
		items = append(items, item)
	}
	return &ListResult{Items: items, Cursor: next}, nil
}

func transferFromRow(row models.LedgerTransaction) Transfer {
	item := Transfer{
		Asset:        AssetRef{ID: row.AssetID},
		Quantity:     row.Quantity,
		TransferTime: row.Timestamp,
		Seq:          row.Seq,
	}
	if row.TransferGroupID != nil {
		item.ID = *row.TransferGroupID
	}
	counterpart := ""
	if row.CounterpartBase != nil {
		counterpart = *row.CounterpartBase
	}
	if row.Kind == enums.TransactionKindTransferOut {
		item.FromBase, item.ToBase = row.Base, counterpart
	} else {
		item.FromBase, item.ToBase = counterpart, row.Base
	}
	return item
}
