//go:build integration

package router_test

// End-to-end tests against real Postgres + Redis via testcontainers.
// Run with: go test -tags integration ./internal/router/... -v

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pettycash/internal/config"
	"pettycash/internal/infra"
	"pettycash/internal/model"
	"pettycash/internal/router"
	"pettycash/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type e2eEnv struct {
	server  *httptest.Server
	rdb     *redis.Client
	cashier string
	admin   string
}

func setupE2E(t *testing.T) *e2eEnv {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.Run(ctx, "postgres:16-alpine",
		tcPostgres.WithDatabase("pettycash_test"),
		tcPostgres.WithUsername("pettycash"),
		tcPostgres.WithPassword("pettycash"),
		tcPostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rdC, err := tcRedis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })

	rdURL, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &config.Config{
		Env:                 "test",
		JWTSecret:           testSecret,
		DatabaseURL:         pgURL,
		RedisURL:            rdURL,
		IdempotencyTTLHours: 1,
		CORSOrigins:         "*",
		ReportStoragePath:   t.TempDir(),
	}

	require.NoError(t, infra.RunMigrations(cfg.DatabaseURL))

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	require.NoError(t, err)

	rdb, err := infra.NewRedis(cfg.RedisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(router.New(cfg, db, rdb, nil, nil))
	t.Cleanup(srv.Close)

	return &e2eEnv{
		server:  srv,
		rdb:     rdb,
		cashier: token(t, model.RoleCashier),
		admin:   token(t, model.RoleAdministrator),
	}
}

func (e *e2eEnv) do(t *testing.T, method, path string, body any, tok string, headers ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeResp(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func TestE2E_SessionLifecycle(t *testing.T) {
	env := setupE2E(t)

	resp := env.do(t, http.MethodPost, "/v1/cash/sessions", map[string]any{"register_id": 1, "opening_amount": "100000.00"}, env.cashier)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var s model.CashSession
	decodeResp(t, resp, &s)
	base := "/v1/cash/sessions/" + s.ID.String()

	resp = env.do(t, http.MethodPost, base+"/expenses", map[string]any{"amount": "15000.00", "description": "laundry service", "category": "services"}, env.cashier)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = env.do(t, http.MethodPost, base+"/purchases", map[string]any{"product_ref": "massage-oil", "quantity": "2", "unit_price": "50.00"}, env.cashier)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = env.do(t, http.MethodPost, base+"/incomes", map[string]any{"amount": "5000.00", "description": "walk-in sauna", "category": "services", "payment_method": "cash"}, env.cashier)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, base+"/close", map[string]any{"actual_cash": "88000.00"}, env.cashier)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var closure model.CashClosure
	decodeResp(t, resp, &closure)
	assert.Equal(t, "89900.00", closure.ExpectedCash.StringFixed(2))
	assert.Equal(t, "-1900.00", closure.Difference.StringFixed(2))
	assert.Equal(t, "-2.11", closure.DifferencePct.StringFixed(2))
	assert.Equal(t, "warning", closure.Classification)

	// the report job is queued for the worker pool
	n, err := env.rdb.LLen(context.Background(), worker.QueueClosureReport).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	resp = env.do(t, http.MethodPost, base+"/expenses", map[string]any{"amount": "1", "description": "late", "category": "misc"}, env.cashier)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodDelete, base, nil, env.admin)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}

func TestE2E_ConcurrentOpensYieldOneSession(t *testing.T) {
	env := setupE2E(t)

	const attempts = 8
	codes := make([]int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := env.do(t, http.MethodPost, "/v1/cash/sessions", map[string]any{"register_id": 7, "opening_amount": "10"}, env.cashier)
			codes[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
		default:
			t.Fatalf("unexpected status %d", c)
		}
	}
	assert.Equal(t, 1, created)
}

func TestE2E_ConcurrentRecordsKeepLedgerIdentity(t *testing.T) {
	env := setupE2E(t)

	resp := env.do(t, http.MethodPost, "/v1/cash/sessions", map[string]any{"register_id": 3, "opening_amount": "1000"}, env.cashier)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var s model.CashSession
	decodeResp(t, resp, &s)
	base := "/v1/cash/sessions/" + s.ID.String()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := env.do(t, http.MethodPost, base+"/expenses", map[string]any{"amount": "12.35", "description": "parallel", "category": "misc"}, env.cashier)
			r.Body.Close()
		}()
	}
	wg.Wait()

	resp = env.do(t, http.MethodGet, base+"/summary", nil, env.cashier)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum struct {
		ExpectedCash  decimal.Decimal `json:"expected_cash"`
		CurrentAmount decimal.Decimal `json:"current_amount"`
	}
	decodeResp(t, resp, &sum)
	assert.Equal(t, "876.50", sum.ExpectedCash.StringFixed(2))
	assert.True(t, sum.ExpectedCash.Equal(sum.CurrentAmount))
}

func TestE2E_IdempotencyKeyAcrossRetries(t *testing.T) {
	env := setupE2E(t)

	resp := env.do(t, http.MethodPost, "/v1/cash/sessions", map[string]any{"register_id": 5, "opening_amount": "50"}, env.cashier)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var s model.CashSession
	decodeResp(t, resp, &s)
	path := "/v1/cash/sessions/" + s.ID.String() + "/incomes"
	body := map[string]any{"amount": "20", "description": "deposit", "category": "misc", "payment_method": "cash"}

	var first, second model.Income
	resp = env.do(t, http.MethodPost, path, body, env.cashier, "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeResp(t, resp, &first)

	resp = env.do(t, http.MethodPost, path, body, env.cashier, "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeResp(t, resp, &second)
	assert.Equal(t, first.ID, second.ID)

	ttl, err := env.rdb.TTL(context.Background(), "pettycash:idem:income:retry-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Minute)
}

func TestE2E_HealthReportsDependencies(t *testing.T) {
	env := setupE2E(t)

	resp := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	decodeResp(t, resp, &body)
	assert.Equal(t, "connected", body["db"])
	assert.Equal(t, "connected", body["redis"])
}
