package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/armory-ledger/api/responses"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
	pkgredis "github.com/angelmondragon/armory-ledger/pkg/redis"
	"github.com/angelmondragon/armory-ledger/pkg/types"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 255

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// claimTTL bounds how long a crashed replica can hold a key in flight.
	claimTTL = time.Minute
)

const (
	stateInFlight  = "in_flight"
	stateCompleted = "completed"
)

// commandRoute is one ledger command that honors Idempotency-Key. Transfers and
// reversals keep their keys for a week since a duplicate moves stock twice.
type commandRoute struct {
	prefix string
	suffix string
	ttl    time.Duration
}

var commandRoutes = []commandRoute{
	{prefix: "/api/v1/assets", ttl: defaultIdempotencyTTL},
	{prefix: "/api/v1/purchases", ttl: defaultIdempotencyTTL},
	{prefix: "/api/v1/assignments", ttl: defaultIdempotencyTTL},
	{prefix: "/api/v1/expenditures", ttl: defaultIdempotencyTTL},
	{prefix: "/api/v1/transfers", ttl: criticalIdempotencyTTL},
	{prefix: "/api/v1/transactions/", suffix: "/reverse", ttl: criticalIdempotencyTTL},
}

func (c commandRoute) matches(path string) bool {
	if c.suffix == "" {
		return strings.TrimSuffix(path, "/") == c.prefix
	}
	return len(path) > len(c.prefix)+len(c.suffix) &&
		strings.HasPrefix(path, c.prefix) &&
		strings.HasSuffix(path, c.suffix)
}

type commandRecord struct {
	State       string `json:"state"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency makes ledger commands safe to retry. The first request with a key
// claims it, runs, and stores its response; repeats replay that response, and a
// repeat that arrives while the first is still running gets a retryable conflict
// instead of a second commit. Retryable rejections and panics release the claim
// so the command runs again on retry. Requests without the header, or without a store, pass through.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			idempotencyKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if idempotencyKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if len(idempotencyKey) > maxIdempotencyKey {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			key := store.IdempotencyKey(commandScope(r), idempotencyKey)

			claimed, err := claim(ctx, store, key, requestHash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayOrReject(ctx, store, key, requestHash, w, logg)
				return
			}

			// Detached so a client hang-up does not strand the claim.
			storeCtx := context.WithoutCancel(ctx)
			release := func() {
				if err := store.Del(storeCtx, key); err != nil {
					logError(ctx, logg, "release idempotency key", err)
				}
			}
			defer func() {
				if p := recover(); p != nil {
					release()
					panic(p)
				}
			}()

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			status := defaultStatus(rec.status)

			if retryableResponse(status, rec.body.Bytes()) {
				release()
				return
			}
			payload, err := json.Marshal(commandRecord{
				State:       stateCompleted,
				RequestHash: requestHash,
				Status:      status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err == nil {
				err = store.Set(storeCtx, key, string(payload), ttl)
			}
			if err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

func claim(ctx context.Context, store pkgredis.IdempotencyStore, key, requestHash string) (bool, error) {
	marker, err := json.Marshal(commandRecord{State: stateInFlight, RequestHash: requestHash})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(marker), claimTTL)
}

func replayOrReject(ctx context.Context, store pkgredis.IdempotencyStore, key, requestHash string, w http.ResponseWriter, logg *logger.Logger) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The claim expired or was released between SetNX and Get.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotent request still settling, retry"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "check idempotency"))
		return
	}

	var record commandRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != requestHash {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.State != stateCompleted {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is in progress"))
		return
	}

	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write(record.Body)
}

// commandScope keys a command by caller and path, so two bases reusing the same
// client key never collide.
func commandScope(r *http.Request) string {
	caller, _ := CallerFromContext(r.Context())
	return strings.Join([]string{
		string(caller.Role),
		strings.ToLower(caller.HomeBase),
		r.Method,
		r.URL.Path,
	}, "|")
}

// retryableResponse reports whether a captured response is a rejection the client
// is told to retry, judged by its error code or, without one, a 5xx status.
func retryableResponse(status int, body []byte) bool {
	if status < http.StatusBadRequest {
		return false
	}
	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return pkgerrors.MetadataFor(pkgerrors.Code(envelope.Error.Code)).Retryable
	}
	return status >= http.StatusInternalServerError
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(bytes.TrimSpace(payload))
	return hex.EncodeToString(sum[:])
}

func defaultStatus(value int) int {
	if value == 0 {
		return http.StatusOK
	}
	return value
}

func routeTTL(method, path string) (time.Duration, bool) {
	if method != http.MethodPost || path == "" {
		return 0, false
	}
	for _, route := range commandRoutes {
		if route.matches(path) {
			return route.ttl, true
		}
	}
	return 0, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
