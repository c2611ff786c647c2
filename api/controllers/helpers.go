package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/api/middleware"
	"github.com/angelmondragon/armory-ledger/internal/authz"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
)

func callerFrom(r *http.Request) (authz.Caller, error) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return authz.Caller{}, pkgerrors.New(pkgerrors.CodeUnauthenticated, "caller identity missing")
	}
	return caller, nil
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+key)
	}
	return id, nil
}

// scopedBase narrows an empty base filter to the caller's home base when op is
// home-scoped for the caller's role.
func scopedBase(caller authz.Caller, op authz.Operation, base string) string {
	if base == "" && !authz.VisibleFor(caller, op).All {
		return caller.HomeBase
	}
	return base
}
