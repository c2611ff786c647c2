package controllers

import (
	"net/http"

	"github.com/angelmondragon/armory-ledger/api/responses"
	"github.com/angelmondragon/armory-ledger/api/validators"
	"github.com/angelmondragon/armory-ledger/internal/purchases"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
)

// PurchaseCreate records stock arriving at a base.
func PurchaseCreate(svc purchases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase service unavailable"))
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var input purchases.RecordPurchaseInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		purchase, err := svc.RecordPurchase(r.Context(), caller, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, purchase)
	}
}

// PurchaseList returns purchase history, newest first.
func PurchaseList(svc purchases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase service unavailable"))
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

		list, err := svc.ListPurchases(r.Context(), caller, purchases.ListParams{
			Base:  validators.ParseQueryBase(r, "base"),
			Type:  assetType,
			Start: start,
			End:   end,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
