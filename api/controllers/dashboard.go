package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/armory-ledger/api/responses"
	"github.com/angelmondragon/armory-ledger/api/validators"
	"github.com/angelmondragon/armory-ledger/internal/authz"
	"github.com/angelmondragon/armory-ledger/internal/projector"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
)

const defaultDashboardWindow = 30 * 24 * time.Hour

// Summarizer produces the dashboard summary for a base.
type Summarizer interface {
	Summary(ctx context.Context, caller authz.Caller, params projector.SummaryParams) (*projector.Summary, error)
}

// Dashboard returns opening/closing balances and movement buckets for a base.
// Without dates it covers the 30 days ending today (UTC).
func Dashboard(svc Summarizer, now func() time.Time, logg *logger.Logger) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "summary service unavailable"))
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		assetType, err := validators.ParseQueryAssetType(r, "type")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		start, end, err := validators.ParseDateRange(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if end == nil {
			today := now().UTC().Truncate(24 * time.Hour)
			last := validators.EndOfDay(today)
			end = &last
		}
		if start == nil {
			first := end.Add(time.Microsecond).Add(-defaultDashboardWindow)
			start = &first
		}

		base := validators.ParseQueryBase(r, "base")
		if base == "" {
			base = caller.HomeBase
		}

		summary, err := svc.Summary(r.Context(), caller, projector.SummaryParams{
			Base:  base,
			Type:  assetType,
			Start: *start,
			End:   *end,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
