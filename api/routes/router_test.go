package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/armory-ledger/api/middleware"
	"github.com/angelmondragon/armory-ledger/internal/assets"
	"github.com/angelmondragon/armory-ledger/internal/ledger"
	"github.com/angelmondragon/armory-ledger/internal/movements"
	"github.com/angelmondragon/armory-ledger/internal/projector"
	"github.com/angelmondragon/armory-ledger/internal/purchases"
	"github.com/angelmondragon/armory-ledger/internal/transfers"
	"github.com/angelmondragon/armory-ledger/internal/txlog"
	"github.com/angelmondragon/armory-ledger/pkg/config"
	"github.com/angelmondragon/armory-ledger/pkg/lock"
	"github.com/angelmondragon/armory-ledger/pkg/metrics"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	registry := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	log, err := txlog.New(txlog.NewMemoryStore(), txlog.Options{Metrics: ledgerMetrics})
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	repo := assets.NewMemoryRepository()
	proj, err := projector.New(log, assets.NewTypeIndex(repo), nil)
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}
	assetSvc, err := assets.NewService(repo, log, proj, nil)
	if err != nil {
		t.Fatalf("new asset service: %v", err)
	}
	guard, err := ledger.NewGuard(log, proj, lock.NewKeyedMutex(time.Second), ledger.GuardOptions{Metrics: ledgerMetrics})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	transferSvc, err := transfers.NewService(guard, log, assetSvc, nil)
	if err != nil {
		t.Fatalf("new transfer service: %v", err)
	}
	purchaseSvc, err := purchases.NewService(log, assetSvc, nil)
	if err != nil {
		t.Fatalf("new purchase service: %v", err)
	}
	movementSvc, err := movements.NewService(guard, log, assetSvc, nil)
	if err != nil {
		t.Fatalf("new movement service: %v", err)
	}

	cfg := &config.Config{
		App:       config.AppConfig{Env: "test"},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
	return NewRouter(cfg, nil, Dependencies{
		DB:          stubPinger{},
		Gatherer:    registry,
		HTTPMetrics: metrics.NewHTTPMetrics(registry),
		Clock:       time.Now,
	}, Services{
		Assets:    assetSvc,
		Purchases: purchaseSvc,
		Transfers: transferSvc,
		Movements: movementSvc,
		Summaries: proj,
	})
}

func call(t *testing.T, h http.Handler, method, path, role, base, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if role != "" {
		req.Header.Set(middleware.RoleHeader, role)
	}
	if base != "" {
		req.Header.Set(middleware.BaseHeader, base)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data %s: %v", string(env.Data), err)
	}
	return out
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestRouter(t)

	if code, _ := call(t, h, http.MethodGet, "/health/live", "", "", ""); code != http.StatusOK {
		t.Fatalf("expected live 200, got %d", code)
	}
	code, env := call(t, h, http.MethodGet, "/health/ready", "", "", "")
	if code != http.StatusOK {
		t.Fatalf("expected ready 200, got %d", code)
	}
	status := decode[map[string]string](t, env)
	if status["database"] != "ok" || status["status"] != "ready" {
		t.Fatalf("unexpected readiness payload %v", status)
	}
}

func TestReadyReportsFailedDependency(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	h := NewRouter(cfg, nil, Dependencies{DB: stubPinger{err: context.DeadlineExceeded}}, Services{})

	code, env := call(t, h, http.MethodGet, "/health/ready", "", "", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if env.Error == nil || env.Error.Code != "STORAGE_UNAVAILABLE" {
		t.Fatalf("unexpected error payload %+v", env.Error)
	}
}

func TestIdentityHeadersRequired(t *testing.T) {
	h := newTestRouter(t)

	cases := []struct {
		role, base string
	}{
		{"", ""},
		{"GENERAL", "Base Alpha"},
		{"LOGISTICS", ""},
	}
	for _, tc := range cases {
		code, env := call(t, h, http.MethodGet, "/api/v1/transfers", tc.role, tc.base, "")
		if code != http.StatusUnauthorized {
			t.Fatalf("role=%q base=%q: expected 401, got %d", tc.role, tc.base, code)
		}
		if env.Error == nil || env.Error.Code != "UNAUTHENTICATED" {
			t.Fatalf("role=%q base=%q: unexpected error %+v", tc.role, tc.base, env.Error)
		}
	}
}

func TestTransferScenarioOverHTTP(t *testing.T) {
	h := newTestRouter(t)

	code, env := call(t, h, http.MethodPost, "/api/v1/assets", "ADMIN", "",
		`{"name":"M4 Carbine","type":"weapon","initialBase":"Base Alpha","initialQuantity":10}`)
	if code != http.StatusCreated {
		t.Fatalf("create asset: expected 201, got %d (%+v)", code, env.Error)
	}
	asset := decode[assets.AssetView](t, env)
	if asset.CurrentBalance != 10 || asset.CurrentBase != "Base Alpha" {
		t.Fatalf("unexpected created asset %+v", asset)
	}
	assetID := asset.ID.String()

	code, env = call(t, h, http.MethodPost, "/api/v1/purchases", "LOGISTICS", "Base Alpha",
		`{"assetId":"`+assetID+`","base":"Base Alpha","quantity":5}`)
	if code != http.StatusCreated {
		t.Fatalf("purchase: expected 201, got %d (%+v)", code, env.Error)
	}

	code, env = call(t, h, http.MethodPost, "/api/v1/transfers", "LOGISTICS", "Base Alpha",
		`{"assetId":"`+assetID+`","fromBase":"Base Alpha","toBase":"Base Bravo","quantity":15}`)
	if code != http.StatusCreated {
		t.Fatalf("transfer: expected 201, got %d (%+v)", code, env.Error)
	}
	result := decode[transfers.Result](t, env)
	if result.Out.Seq+1 != result.In.Seq {
		t.Fatalf("expected adjacent OUT/IN, got %d and %d", result.Out.Seq, result.In.Seq)
	}

	code, env = call(t, h, http.MethodPost, "/api/v1/transfers", "LOGISTICS", "Base Alpha",
		`{"assetId":"`+assetID+`","fromBase":"Base Alpha","toBase":"Base Bravo","quantity":1}`)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("overdraft: expected 422, got %d", code)
	}
	if env.Error == nil || env.Error.Code != "INSUFFICIENT_BALANCE" {
		t.Fatalf("overdraft: unexpected error %+v", env.Error)
	}
	if env.Error.Details["available"] != float64(0) {
		t.Fatalf("overdraft: expected available 0, got %v", env.Error.Details["available"])
	}

	code, env = call(t, h, http.MethodGet, "/api/v1/assets/"+assetID+"?base=Base%20Bravo", "ADMIN", "", "")
	if code != http.StatusOK {
		t.Fatalf("asset detail: expected 200, got %d", code)
	}
	if view := decode[assets.AssetView](t, env); view.CurrentBalance != 15 {
		t.Fatalf("expected 15 at Base Bravo, got %d", view.CurrentBalance)
	}

	code, env = call(t, h, http.MethodGet, "/api/v1/transfers?base=Base%20Bravo", "LOGISTICS", "Base Alpha", "")
	if code != http.StatusOK {
		t.Fatalf("list transfers: expected 200, got %d", code)
	}
	page := decode[transfers.ListResult](t, env)
	if len(page.Items) != 1 || page.Items[0].Quantity != 15 || page.Items[0].Asset.Name != "M4 Carbine" {
		t.Fatalf("unexpected transfer history %+v", page.Items)
	}
	var raw struct {
		Items []map[string]json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(env.Data, &raw); err != nil || len(raw.Items) != 1 {
		t.Fatalf("decode raw transfer history: %v", err)
	}
	for _, key := range []string{"id", "asset", "fromBase", "toBase", "quantity", "transferTime"} {
		if _, ok := raw.Items[0][key]; !ok {
			t.Fatalf("transfer item missing %q: %s", key, string(env.Data))
		}
	}
	var ref struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw.Items[0]["asset"], &ref); err != nil || ref.ID != assetID || ref.Name != "M4 Carbine" || ref.Type == "" {
		t.Fatalf("unexpected transfer asset %s (%v)", string(raw.Items[0]["asset"]), err)
	}

	code, _ = call(t, h, http.MethodPost, "/api/v1/transfers", "LOGISTICS", "Base Alpha",
		`{"assetId":"`+assetID+`","fromBase":"Base Bravo","toBase":"Base Alpha","quantity":1}`)
	if code != http.StatusForbidden {
		t.Fatalf("foreign base: expected 403, got %d", code)
	}
}

func TestMovementsAndDashboardOverHTTP(t *testing.T) {
	h := newTestRouter(t)

	code, env := call(t, h, http.MethodPost, "/api/v1/assets", "BASE_COMMANDER", "Base Alpha",
		`{"name":"5.56mm Ball","type":"ammunition","initialBase":"Base Alpha","initialQuantity":100}`)
	if code != http.StatusCreated {
		t.Fatalf("create asset: expected 201, got %d (%+v)", code, env.Error)
	}
	assetID := decode[assets.AssetView](t, env).ID.String()

	code, env = call(t, h, http.MethodPost, "/api/v1/expenditures", "BASE_COMMANDER", "Base Alpha",
		`{"assetId":"`+assetID+`","base":"Base Alpha","quantity":30}`)
	if code != http.StatusCreated {
		t.Fatalf("expend: expected 201, got %d (%+v)", code, env.Error)
	}
	expended := decode[struct {
		ID string `json:"id"`
	}](t, env)

	code, env = call(t, h, http.MethodPost, "/api/v1/assignments", "BASE_COMMANDER", "Base Alpha",
		`{"assetId":"`+assetID+`","base":"Base Alpha","quantity":20}`)
	if code != http.StatusCreated {
		t.Fatalf("assign: expected 201, got %d (%+v)", code, env.Error)
	}

	code, env = call(t, h, http.MethodPost, "/api/v1/transactions/"+expended.ID+"/reverse", "BASE_COMMANDER", "Base Alpha", "")
	if code != http.StatusCreated {
		t.Fatalf("reverse: expected 201, got %d (%+v)", code, env.Error)
	}
	code, _ = call(t, h, http.MethodPost, "/api/v1/transactions/"+expended.ID+"/reverse", "ADMIN", "", "")
	if code != http.StatusConflict {
		t.Fatalf("second reverse: expected 409, got %d", code)
	}

	code, env = call(t, h, http.MethodGet, "/api/v1/dashboard", "BASE_COMMANDER", "Base Alpha", "")
	if code != http.StatusOK {
		t.Fatalf("dashboard: expected 200, got %d (%+v)", code, env.Error)
	}
	summary := decode[projector.Summary](t, env)
	if summary.OpeningBalance != 0 || summary.ClosingBalance != 80 {
		t.Fatalf("unexpected balances %+v", summary)
	}
	if summary.Purchases != 100 || summary.Assigned != 20 || summary.Expended != 0 {
		t.Fatalf("unexpected buckets %+v", summary)
	}
	if summary.ClosingBalance-summary.OpeningBalance != summary.NetMovement-summary.Assigned-summary.Expended {
		t.Fatalf("summary identity violated %+v", summary)
	}

	code, _ = call(t, h, http.MethodGet, "/api/v1/dashboard?base=Base%20Bravo", "BASE_COMMANDER", "Base Alpha", "")
	if code != http.StatusForbidden {
		t.Fatalf("foreign dashboard: expected 403, got %d", code)
	}
	code, _ = call(t, h, http.MethodGet, "/api/v1/dashboard?startDate=2024-02-30", "BASE_COMMANDER", "Base Alpha", "")
	if code != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d", code)
	}
}

func TestRequestValidation(t *testing.T) {
	h := newTestRouter(t)

	code, env := call(t, h, http.MethodPost, "/api/v1/transfers", "ADMIN", "", `{"fromBase":"Base Alpha","toBase":"Base Bravo","quantity":0}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if env.Error == nil || env.Error.Details["quantity"] == nil || env.Error.Details["assetId"] == nil {
		t.Fatalf("expected field details, got %+v", env.Error)
	}

	code, _ = call(t, h, http.MethodPost, "/api/v1/purchases", "ADMIN", "", `{"unknown":true}`)
	if code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", code)
	}

	code, _ = call(t, h, http.MethodGet, "/api/v1/assets/not-a-uuid", "ADMIN", "", "")
	if code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t)

	code, env := call(t, h, http.MethodPost, "/api/v1/assets", "ADMIN", "",
		`{"name":"Humvee","type":"vehicle","initialBase":"Base Alpha","initialQuantity":2}`)
	if code != http.StatusCreated {
		t.Fatalf("create asset: expected 201, got %d (%+v)", code, env.Error)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `ledger_transactions_appended_total{kind="PURCHASE"} 1`) {
		t.Fatalf("expected appended counter in metrics output:\n%s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `armory_http_requests_total{method="POST",route="/api/v1/assets`) {
		t.Fatalf("expected request counter keyed by route pattern:\n%s", rec.Body.String())
	}
}
