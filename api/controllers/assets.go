package controllers

import (
	"net/http"

	"github.com/angelmondragon/armory-ledger/api/responses"
	"github.com/angelmondragon/armory-ledger/api/validators"
	"github.com/angelmondragon/armory-ledger/internal/assets"
	"github.com/angelmondragon/armory-ledger/internal/authz"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
)

// AssetCreate registers an asset and seeds its opening balance.
func AssetCreate(svc assets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "asset service unavailable"))
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var input assets.CreateAssetInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		asset, err := svc.CreateAsset(r.Context(), caller, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.View(r.Context(), *asset, asset.HomeBase)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// AssetList returns the assets visible at a base, each with its balance there.
func AssetList(svc assets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "asset service unavailable"))
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
		base := scopedBase(caller, authz.OpListAssets, validators.ParseQueryBase(r, "base"))

		views := make([]assets.AssetView, 0)
		for asset, err := range svc.ListAssets(r.Context(), caller, assets.ListParams{Base: base, Type: assetType}) {
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			view, err := svc.View(r.Context(), asset, base)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			views = append(views, view)
		}
		responses.WriteSuccess(w, views)
	}
}

// AssetDetail returns one asset with its balance at the requested base.
func AssetDetail(svc assets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "asset service unavailable"))
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := pathUUID(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		base := scopedBase(caller, authz.OpListAssets, validators.ParseQueryBase(r, "base"))
		if err := authz.Authorize(caller, authz.OpListAssets, base); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		asset, err := svc.GetAsset(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.View(r.Context(), *asset, base)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
