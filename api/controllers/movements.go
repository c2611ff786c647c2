package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/armory-ledger/api/responses"
	"github.com/angelmondragon/armory-ledger/api/validators"
	"github.com/angelmondragon/armory-ledger/internal/authz"
	"github.com/angelmondragon/armory-ledger/internal/movements"
	"github.com/angelmondragon/armory-ledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
)

type movementFunc func(ctx context.Context, caller authz.Caller, input movements.MovementInput) (*models.LedgerTransaction, error)

// AssignmentCreate records assets assigned to personnel at a base.
func AssignmentCreate(svc movements.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return movementHandler(nil, logg)
	}
	return movementHandler(svc.Assign, logg)
}

// ExpenditureCreate records assets consumed at a base.
func ExpenditureCreate(svc movements.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return movementHandler(nil, logg)
	}
	return movementHandler(svc.Expend, logg)
}

func movementHandler(record movementFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if record == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "movement service unavailable"))
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var input movements.MovementInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := record(r.Context(), caller, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, txn)
	}
}

// TransactionReverse appends the compensating entry for an assignment or
// expenditure.
func TransactionReverse(svc movements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "movement service unavailable"))
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := pathUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.Reverse(r.Context(), caller, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, txn)
	}
}
