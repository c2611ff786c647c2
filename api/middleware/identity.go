package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/armory-ledger/api/responses"
	"github.com/angelmondragon/armory-ledger/internal/authz"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
)

const (
	RoleHeader = "X-User-Role"
	BaseHeader = "X-User-Base"
)

// Identity reads the caller's role and home base from request headers and seeds
// the request context with it. The values are trusted as supplied.
func Identity(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := strings.TrimSpace(r.Header.Get(RoleHeader))
			if role == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthenticated, "missing caller role"))
				return
			}

			caller, err := authz.NewCaller(role, r.Header.Get(BaseHeader))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithCaller(r.Context(), caller)
			if logg != nil {
				ctx = logg.WithActorRole(ctx, string(caller.Role))
				if caller.HomeBase != "" {
					ctx = logg.WithBase(ctx, caller.HomeBase)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
