// Package movements records assignments and expenditures against a base's stock
// and reverses them with compensating entries.
package movements

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/internal/authz"
	"github.com/angelmondragon/armory-ledger/internal/ledger"
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

// Log is the slice of the transaction log reversals need.
type Log interface {
	Append(ctx context.Context, drafts ...txlog.Draft) ([]models.LedgerTransaction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error)
	ReversalOf(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error)
}

// Service defines movement operations.
type Service interface {
	Assign(ctx context.Context, caller authz.Caller, input MovementInput) (*models.LedgerTransaction, error)
	Expend(ctx context.Context, caller authz.Caller, input MovementInput) (*models.LedgerTransaction, error)
	Reverse(ctx context.Context, caller authz.Caller, transactionID uuid.UUID) (*models.LedgerTransaction, error)
}

// MovementInput takes quantity of an asset out of a base's available stock.
type MovementInput struct {
	AssetID  uuid.UUID `json:"assetId" validate:"required"`
	Base     string    `json:"base" validate:"required"`
	Quantity int64     `json:"quantity" validate:"gt=0"`
}

type service struct {
	guard  *ledger.Guard
	log    Log
	assets AssetLookup
	logg   *logger.Logger
}

// NewService wires movement dependencies.
func NewService(guard *ledger.Guard, log Log, assets AssetLookup, logg *logger.Logger) (Service, error) {
	if guard == nil {
		return nil, fmt.Errorf("debit guard required")
	}
	if log == nil {
		return nil, fmt.Errorf("transaction log required")
	}
	if assets == nil {
		return nil, fmt.Errorf("asset lookup required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{guard: guard, log: log, assets: assets, logg: logg}, nil
}

func (s *service) Assign(ctx context.Context, caller authz.Caller, input MovementInput) (*models.LedgerTransaction, error) {
	return s.debit(ctx, caller, authz.OpAssign, enums.TransactionKindAssign, input)
}

func (s *service) Expend(ctx context.Context, caller authz.Caller, input MovementInput) (*models.LedgerTransaction, error) {
	return s.debit(ctx, caller, authz.OpExpend, enums.TransactionKindExpend, input)
}

func (s *service) debit(ctx context.Context, caller authz.Caller, op authz.Operation, kind enums.TransactionKind, input MovementInput) (*models.LedgerTransaction, error) {
	base := strings.TrimSpace(input.Base)
	switch {
	case base == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "base is required")
	case input.Quantity <= 0:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	case input.AssetID == uuid.Nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assetId is required")
	}
	if err := authz.Authorize(caller, op, base); err != nil {
		return nil, err
	}
	if _, err := s.assets.GetAsset(ctx, input.AssetID); err != nil {
		return nil, err
	}

	out, err := s.guard.Debit(ctx, ledger.Debit{
		Operation: string(op),
		AssetID:   input.AssetID,
		Base:      base,
		Quantity:  input.Quantity,
		Drafts: []txlog.Draft{{
			Kind: kind, AssetID: input.AssetID, Base: base, Quantity: input.Quantity,
			ActorRole: caller.Role, ActorBase: caller.HomeBase,
		}},
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"kind":     string(kind),
		"asset_id": input.AssetID.String(),
		"base":     base,
		"quantity": input.Quantity,
		"seq":      out[0].Seq,
	}), "movement.committed")
	return &out[0], nil
}

// Reverse appends the compensating entry for an assignment or expenditure. The
// entry carries the original's kind, asset, base and quantity with reversesId set,
// so it credits back what the original debited.
func (s *service) Reverse(ctx context.Context, caller authz.Caller, transactionID uuid.UUID) (*models.LedgerTransaction, error) {
	if transactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	original, err := s.log.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(caller, authz.OpReverse, original.Base); err != nil {
		return nil, err
	}
	if !original.Kind.Reversible() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s transactions cannot be reversed", original.Kind))
	}
	if original.IsReversal() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a reversal cannot itself be reversed")
	}
	existing, err := s.log.ReversalOf(ctx, original.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "transaction already reversed").
			WithDetails(map[string]any{"reversalId": existing.ID.String()})
	}

	reverses := original.ID
	out, err := s.log.Append(ctx, txlog.Draft{
		Kind:       original.Kind,
		AssetID:    original.AssetID,
		Base:       original.Base,
		Quantity:   original.Quantity,
		ReversesID: &reverses,
		ActorRole:  caller.Role,
		ActorBase:  caller.HomeBase,
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"reverses_id": original.ID.String(),
		"kind":        string(original.Kind),
		"base":        original.Base,
		"seq":         out[0].Seq,
	}), "movement.reversed")
	return &out[0], nil
}
