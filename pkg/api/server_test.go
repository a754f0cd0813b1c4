package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ledger/pkg/account"
	"ledger/pkg/allocator"
	"ledger/pkg/autotransfer"
	"ledger/pkg/clock"
	"ledger/pkg/directory"
	"ledger/pkg/ledger"
	"ledger/pkg/resilience"
	"ledger/pkg/storage/memory"

	"github.com/prometheus/client_golang/prometheus"
)

type testServer struct {
	server *Server
	clock  *clock.Manual
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	c := clock.NewManual(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC))
	owners := directory.NewStatic(directory.Owner{ID: 1, Name: "Kim"}, directory.Owner{ID: 2, Name: "Lee"})

	svc := ledger.NewService(store, owners, allocator.New(allocator.DefaultConfig()), ledger.WithClock(c))
	registry := autotransfer.NewRegistry(store, c, time.UTC)
	executor := autotransfer.NewExecutor(store, svc, autotransfer.WithExecutorClock(c))

	reg := prometheus.NewRegistry()
	config := DefaultServerConfig()
	config.Registerer = reg
	config.Gatherer = reg

	server, err := NewServer(Deps{Ledger: svc, Registry: registry, Executor: executor, Store: store}, config)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return &testServer{server: server, clock: c}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (ts *testServer) openAccount(t *testing.T, owner int64, typ, deposit string) accountResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/accounts", map[string]interface{}{
		"owner_id":        owner,
		"type":            typ,
		"initial_deposit": deposit,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decodeBody[accountResponse](t, w)
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("Expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	resp := decodeBody[errorResponse](t, w)
	if resp.Error.Code != code {
		t.Errorf("Expected code %s, got %s", code, resp.Error.Code)
	}
}

func TestServer_Health(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	response := decodeBody[map[string]interface{}](t, w)
	if response["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", response["status"])
	}
}

func TestServer_CreateAccount(t *testing.T) {
	ts := setupTestServer(t)

	acc := ts.openAccount(t, 1, "savings", "10000")
	if !account.ValidNumber(acc.Number) {
		t.Errorf("Invalid account number %q", acc.Number)
	}
	if acc.Balance.String() != "10000.00" || acc.Status != "ACTIVE" || acc.Type != "SAVINGS" {
		t.Errorf("Unexpected account: %+v", acc)
	}
	if acc.MinBalance == nil || acc.MinBalance.String() != "10000.00" {
		t.Errorf("Expected savings floor, got %v", acc.MinBalance)
	}

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"missing deposit", map[string]interface{}{"owner_id": 1, "type": "DEPOSIT"}, http.StatusBadRequest, "INITIAL_DEPOSIT_REQUIRED"},
		{"below minimum", map[string]interface{}{"owner_id": 1, "type": "SAVINGS", "initial_deposit": "9999.99"}, http.StatusBadRequest, "INITIAL_DEPOSIT_BELOW_MIN"},
		{"unknown type", map[string]interface{}{"owner_id": 1, "type": "CHECKING", "initial_deposit": "5000"}, http.StatusBadRequest, "UNKNOWN_ACCOUNT_TYPE"},
		{"unknown owner", map[string]interface{}{"owner_id": 99, "type": "DEPOSIT", "initial_deposit": "5000"}, http.StatusNotFound, "USER_NOT_FOUND"},
		{"bad amount", map[string]interface{}{"owner_id": 1, "type": "DEPOSIT", "initial_deposit": "lots"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown field", `{"owner_id":1,"colour":"red"}`, http.StatusBadRequest, "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, ts.do(t, http.MethodPost, "/accounts", tt.body), tt.status, tt.code)
		})
	}
}

func TestServer_DepositWithdrawClose(t *testing.T) {
	ts := setupTestServer(t)
	acc := ts.openAccount(t, 1, "DEPOSIT", "1000")
	base := fmt.Sprintf("/accounts/%d", acc.ID)

	w := ts.do(t, http.MethodPost, base+"/deposit", map[string]string{"amount": "500.50"})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody[accountResponse](t, w).Balance.String(); got != "1500.50" {
		t.Errorf("Expected 1500.50, got %s", got)
	}

	expectError(t, ts.do(t, http.MethodPost, base+"/withdraw", map[string]string{"amount": "2000"}),
		http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE")
	expectError(t, ts.do(t, http.MethodPost, base+"/deposit", map[string]string{"amount": "0"}),
		http.StatusBadRequest, "AMOUNT_MUST_BE_POSITIVE")

	w = ts.do(t, http.MethodPost, base+"/withdraw", map[string]string{"amount": "0.50"})
	if got := decodeBody[accountResponse](t, w).Balance.String(); got != "1500.00" {
		t.Errorf("Expected 1500.00, got %s", got)
	}

	w = ts.do(t, http.MethodPost, base+"/close", nil)
	if got := decodeBody[accountResponse](t, w); got.Status != "CLOSED" || got.ClosedAt == nil {
		t.Errorf("Expected closed account, got %+v", got)
	}
	expectError(t, ts.do(t, http.MethodPost, base+"/deposit", map[string]string{"amount": "1"}),
		http.StatusUnprocessableEntity, "ACCOUNT_NOT_ACTIVE")

	w = ts.do(t, http.MethodGet, base+"/entries?limit=10", nil)
	entries := decodeBody[[]entryResponse](t, w)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].Kind != "WITHDRAW" || entries[2].Kind != "DEPOSIT" {
		t.Errorf("Expected newest first, got %s ... %s", entries[0].Kind, entries[2].Kind)
	}

	expectError(t, ts.do(t, http.MethodGet, "/accounts/424242", nil), http.StatusNotFound, "ACCOUNT_NOT_FOUND")
}

func TestServer_TransferIdempotency(t *testing.T) {
	ts := setupTestServer(t)
	src := ts.openAccount(t, 1, "DEPOSIT", "5000")
	dst := ts.openAccount(t, 2, "DEPOSIT", "1000")

	body := map[string]string{"from": src.Number, "to": dst.Number, "amount": "1200", "memo": "rent"}

	w := ts.do(t, http.MethodPost, "/transfers", body, IdempotencyKeyHeader, "rent-2025-03")
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	res := decodeBody[transferResponse](t, w)
	if res.From.Balance.String() != "3800.00" || res.To.Balance.String() != "2200.00" {
		t.Errorf("Unexpected balances: from=%s to=%s", res.From.Balance, res.To.Balance)
	}

	expectError(t, ts.do(t, http.MethodPost, "/transfers", body, IdempotencyKeyHeader, "rent-2025-03"),
		http.StatusConflict, "ALREADY_APPLIED")

	w = ts.do(t, http.MethodGet, "/accounts/by-number/"+src.Number, nil)
	if got := decodeBody[accountResponse](t, w).Balance.String(); got != "3800.00" {
		t.Errorf("Replay changed balance: %s", got)
	}

	expectError(t, ts.do(t, http.MethodPost, "/transfers",
		map[string]string{"from": src.Number, "to": src.Number, "amount": "1"}),
		http.StatusBadRequest, "SAME_ACCOUNT")
	expectError(t, ts.do(t, http.MethodPost, "/transfers",
		map[string]string{"from": "12-34", "to": dst.Number, "amount": "1"}),
		http.StatusBadRequest, "INVALID_ACCOUNT_NUMBER_FORMAT")
}

func TestServer_AutoTransfers(t *testing.T) {
	ts := setupTestServer(t)
	src := ts.openAccount(t, 1, "DEPOSIT", "5000")
	dst := ts.openAccount(t, 2, "DEPOSIT", "1000")

	w := ts.do(t, http.MethodPost, "/auto-transfers", map[string]interface{}{
		"owner_id":     1,
		"source":       src.Number,
		"destination":  dst.Number,
		"amount":       "300",
		"day_of_month": 15,
		"run_time":     "09:00",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	sc := decodeBody[scheduleResponse](t, w)
	want := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
	if !sc.NextRunAt.Equal(want) || !sc.Active {
		t.Errorf("Expected active schedule at %v, got %+v", want, sc)
	}

	expectError(t, ts.do(t, http.MethodPost, "/auto-transfers", map[string]interface{}{
		"owner_id": 2, "source": src.Number, "destination": dst.Number,
		"amount": "300", "day_of_month": 15, "run_time": "09:00",
	}), http.StatusForbidden, "NOT_OWNER")
	expectError(t, ts.do(t, http.MethodPost, "/auto-transfers", map[string]interface{}{
		"owner_id": 1, "source": src.Number, "destination": dst.Number,
		"amount": "300", "day_of_month": 32, "run_time": "09:00",
	}), http.StatusBadRequest, "INVALID_DAY_OF_MONTH")

	ts.clock.Set(want.Add(time.Minute))
	w = ts.do(t, http.MethodPost, "/auto-transfers/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if report := decodeBody[tickResponse](t, w); report.Due != 1 || report.Succeeded != 1 {
		t.Errorf("Unexpected tick report: %+v", report)
	}

	w = ts.do(t, http.MethodGet, "/accounts/by-number/"+dst.Number, nil)
	if got := decodeBody[accountResponse](t, w).Balance.String(); got != "1300.00" {
		t.Errorf("Expected 1300.00, got %s", got)
	}

	path := fmt.Sprintf("/auto-transfers/%d", sc.ID)
	w = ts.do(t, http.MethodGet, path, nil)
	if got := decodeBody[scheduleResponse](t, w); !got.NextRunAt.Equal(time.Date(2025, 4, 15, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected next run in April, got %v", got.NextRunAt)
	}

	expectError(t, ts.do(t, http.MethodPost, path+"/deactivate", map[string]int64{"owner_id": 2}),
		http.StatusForbidden, "NOT_OWNER")
	w = ts.do(t, http.MethodPost, path+"/deactivate", map[string]int64{"owner_id": 1})
	if got := decodeBody[scheduleResponse](t, w); got.Active {
		t.Error("Expected schedule to be inactive")
	}
	expectError(t, ts.do(t, http.MethodGet, "/auto-transfers/999", nil), http.StatusNotFound, "SCHEDULE_NOT_FOUND")
}

func TestServer_Metrics(t *testing.T) {
	ts := setupTestServer(t)
	ts.do(t, http.MethodGet, "/health", nil)

	w := ts.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `ledger_http_requests_total{endpoint="/health",method="GET",status="200"} 1`) {
		t.Errorf("Expected request counter in output:\n%s", w.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{ledger.ErrInsufficientBalance, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"},
		{fmt.Errorf("load: %w", ledger.ErrAccountNotFound), http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{ledger.ErrOptimisticConflict, http.StatusConflict, "OPTIMISTIC_CONFLICT"},
		{ledger.ErrAccountNumberGenerationFailed, http.StatusServiceUnavailable, "ACCOUNT_NUMBER_GENERATION_FAILED"},
		{resilience.ErrCircuitOpen, http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{resilience.ErrTimeout, http.StatusGatewayTimeout, "TIMEOUT"},
		{autotransfer.ErrTickInProgress, http.StatusConflict, "TICK_IN_PROGRESS"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		status, code := statusFor(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("statusFor(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}
