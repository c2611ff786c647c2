package projector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/internal/authz"
	"github.com/angelmondragon/armory-ledger/pkg/db/models"
	"github.com/angelmondragon/armory-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
)

// SummaryParams selects the base, optional asset type and the closed time range.
type SummaryParams struct {
	Base  string
	Type  enums.AssetType
	Start time.Time
	End   time.Time
}

// Summary is the dashboard view of one base over a time range.
//
// ClosingBalance - OpeningBalance == NetMovement - Assigned - Expended always holds.
type Summary struct {
	Base           string    `json:"base"`
	Start          time.Time `json:"startDate"`
	End            time.Time `json:"endDate"`
	OpeningBalance int64     `json:"openingBalance"`
	ClosingBalance int64     `json:"closingBalance"`
	NetMovement    int64     `json:"netMovement"`
	Assigned       int64     `json:"assigned"`
	Expended       int64     `json:"expended"`
	Purchases      int64     `json:"purchases"`
	TransfersIn    int64     `json:"transfersIn"`
	TransfersOut   int64     `json:"transfersOut"`
	AsOfSeq        int64     `json:"asOfSeq"`
}

// Summary folds a snapshot of the log bounded by the head read at call start.
func (p *Projector) Summary(ctx context.Context, caller authz.Caller, params SummaryParams) (*Summary, error) {
	base := strings.TrimSpace(params.Base)
	if base == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "base is required")
	}
	if params.End.Before(params.Start) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "end must not precede start")
	}
	if params.Type != "" && !params.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unrecognized asset type %q", params.Type))
	}
	if err := authz.Authorize(caller, authz.OpViewSummary, base); err != nil {
		return nil, err
	}

	var assetFilter map[uuid.UUID]struct{}
	if params.Type != "" {
		ids, err := p.catalog.IDsOfType(ctx, params.Type)
		if err != nil {
			return nil, err
		}
		assetFilter = ids
	}

	head, err := p.log.Head(ctx)
	if err != nil {
		return nil, err
	}

	acc := newSummaryAccumulator(base, params.Start, params.End, assetFilter)
	if head > 0 {
		for txn, err := range p.log.ReadRange(ctx, 0, head) {
			if err != nil {
				return nil, err
			}
			acc.add(txn)
		}
	}
	summary := acc.result()
	summary.Base = base
	summary.AsOfSeq = head
	return &summary, nil
}

// SummarizeTransactions is the pure form of Summary over an explicit stream.
func SummarizeTransactions(txns []models.LedgerTransaction, base string, start, end time.Time, assets map[uuid.UUID]struct{}) Summary {
	acc := newSummaryAccumulator(base, start, end, assets)
	for _, txn := range txns {
		acc.add(txn)
	}
	summary := acc.result()
	summary.Base = strings.TrimSpace(base)
	return summary
}

type summaryAccumulator struct {
	base   string
	start  time.Time
	end    time.Time
	assets map[uuid.UUID]struct{}
	out    Summary
}

func newSummaryAccumulator(base string, start, end time.Time, assets map[uuid.UUID]struct{}) *summaryAccumulator {
	return &summaryAccumulator{
		base:   NormalizeBase(base),
		start:  start,
		end:    end,
		assets: assets,
		out:    Summary{Start: start, End: end},
	}
}

func (a *summaryAccumulator) add(txn models.LedgerTransaction) {
	if NormalizeBase(txn.Base) != a.base {
		return
	}
	if a.assets != nil {
		if _, ok := a.assets[txn.AssetID]; !ok {
			return
		}
	}

	signed := txn.Signed()
	if txn.Timestamp.Before(a.start) {
		a.out.OpeningBalance += signed
	}
	if txn.Timestamp.After(a.end) {
		return
	}
	a.out.ClosingBalance += signed
	if txn.Timestamp.Before(a.start) {
		return
	}

	amount := txn.Quantity
	if txn.IsReversal() {
		amount = -amount
	}
	switch txn.Kind {
	case enums.TransactionKindPurchase:
		a.out.Purchases += amount
	case enums.TransactionKindTransferIn:
		a.out.TransfersIn += amount
	case enums.TransactionKindTransferOut:
		a.out.TransfersOut += amount
	case enums.TransactionKindAssign:
		a.out.Assigned += amount
	case enums.TransactionKindExpend:
		a.out.Expended += amount
	}
}

func (a *summaryAccumulator) result() Summary {
	out := a.out
	out.NetMovement = out.Purchases + out.TransfersIn - out.TransfersOut
	return out
}
