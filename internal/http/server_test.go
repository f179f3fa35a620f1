package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kharcha/internal/auth"
	"kharcha/internal/log"
	"kharcha/internal/parser"
	"kharcha/internal/services"
	"kharcha/internal/storage"
)

type scriptedModel struct {
	response string
}

func (m *scriptedModel) Generate(_ context.Context, _ string) (string, error) {
	return m.response, nil
}

func newTestServer(t *testing.T, model parser.Model) *Server {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}

	am := auth.NewManager(repo, "test-secret-at-least-16", time.Hour)
	ledger := services.NewLedgerService(repo, nil)
	t.Cleanup(func() { ledger.Close() })

	var p *parser.Parser
	if model != nil {
		p = parser.NewParser(model, repo, 16, time.Minute, log.New(log.DefaultConfig()))
	}

	srv := NewServer(":0", am, ledger, p)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func registerUser(t *testing.T, srv *Server, username string) string {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"password": "secret123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, rec.Code, rec.Body)
	}
	var session struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session.Token
}

func seedWallet(t *testing.T, srv *Server, token string, upi, cash int64) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPut, "/api/wallet", token, map[string]int64{
		"upi_cents":  upi,
		"cash_cents": cash,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed wallet: status %d body %s", rec.Code, rec.Body)
	}
}

func expensePayload(cents int64, method string) map[string]any {
	return map[string]any{
		"category":       "Groceries",
		"title":          "Weekly shop",
		"amount":         fmt.Sprintf("%d.%02d", cents/100, cents%100),
		"date":           "2024-07-21",
		"payment_method": method,
	}
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t, nil)

	token := registerUser(t, srv, "asha")
	if token == "" {
		t.Fatal("empty session token")
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "asha", "password": "secret123",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate register: status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "asha", "password": "wrongpass",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password: status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "asha", "password": "secret123",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("login: status %d body %s", rec.Code, rec.Body)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/api/expenses", "/api/wallet", "/api/categories"} {
		rec := doJSON(t, srv, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: status %d", path, rec.Code)
		}
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/wallet", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("forged token: status %d", rec.Code)
	}
}

func TestExpenseLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	token := registerUser(t, srv, "asha")
	seedWallet(t, srv, token, 10000, 10000)

	rec := doJSON(t, srv, http.MethodPost, "/api/expenses", token, expensePayload(2500, "UPI"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body)
	}
	var created struct {
		ID          int64 `json:"id"`
		AmountCents int64 `json:"amount_cents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.AmountCents != 2500 {
		t.Errorf("amount_cents = %d", created.AmountCents)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/wallet", token, nil)
	var wallet struct {
		UPICents int64 `json:"upi_cents"`
	}
	json.Unmarshal(rec.Body.Bytes(), &wallet)
	if wallet.UPICents != 7500 {
		t.Errorf("upi after create = %d, want 7500", wallet.UPICents)
	}

	path := fmt.Sprintf("/api/expenses/%d", created.ID)

	rec = doJSON(t, srv, http.MethodGet, path, token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get: status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPut, path, token, expensePayload(3000, "Cash"))
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, srv, http.MethodDelete, path, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodDelete, path, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d", rec.Code)
	}
}

func TestInsufficientFundsResponse(t *testing.T) {
	srv := newTestServer(t, nil)
	token := registerUser(t, srv, "asha")
	seedWallet(t, srv, token, 1000, 0)

	rec := doJSON(t, srv, http.MethodPost, "/api/expenses", token, expensePayload(2500, "UPI"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d body %s", rec.Code, rec.Body)
	}

	var resp struct {
		Method         string `json:"payment_method"`
		AvailableCents *int64 `json:"available_cents"`
		RequiredCents  *int64 `json:"required_cents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Method != "UPI" || resp.AvailableCents == nil || resp.RequiredCents == nil {
		t.Fatalf("incomplete rejection payload: %s", rec.Body)
	}
	if *resp.AvailableCents != 1000 || *resp.RequiredCents != 2500 {
		t.Errorf("figures = %d/%d, want 1000/2500", *resp.AvailableCents, *resp.RequiredCents)
	}
}

func TestListWithFilters(t *testing.T) {
	srv := newTestServer(t, nil)
	token := registerUser(t, srv, "asha")
	seedWallet(t, srv, token, 100000, 100000)

	entries := []struct {
		cents    int64
		category string
		date     string
	}{
		{1000, "Groceries", "2024-07-01"},
		{2000, "Travel", "2024-07-15"},
		{3000, "Groceries", "2024-08-01"},
	}
	for _, e := range entries {
		payload := expensePayload(e.cents, "UPI")
		payload["category"] = e.category
		payload["date"] = e.date
		if rec := doJSON(t, srv, http.MethodPost, "/api/expenses", token, payload); rec.Code != http.StatusCreated {
			t.Fatalf("seed expense: status %d body %s", rec.Code, rec.Body)
		}
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/expenses?categories=Groceries&from=2024-07-01&to=2024-08-31", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var list []struct {
		Date     string `json:"date"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("filtered rows = %d, want 2", len(list))
	}
	// Date descending.
	if list[0].Date != "2024-08-01" || list[1].Date != "2024-07-01" {
		t.Errorf("ordering: %+v", list)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/expenses?min_cents=1500&max_cents=2500", token, nil)
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 || list[0].Category != "Travel" {
		t.Errorf("amount filter: %+v", list)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/expenses?from=07/01/2024", token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad date filter: status %d", rec.Code)
	}
}

func TestParseEndpoint(t *testing.T) {
	model := &scriptedModel{
		response: `{ "category": "Food & Dining", "title": "Dinner with friends", "amount": 1250, "date": "2024-07-21" }`,
	}
	srv := newTestServer(t, model)
	token := registerUser(t, srv, "asha")
	seedWallet(t, srv, token, 500000, 0)

	// Without a payment method only the candidate comes back.
	rec := doJSON(t, srv, http.MethodPost, "/api/expenses/parse", token, map[string]string{
		"input": "dinner with friends 1250",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("parse: status %d body %s", rec.Code, rec.Body)
	}
	var candidate struct {
		Title  string  `json:"title"`
		Amount float64 `json:"amount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &candidate); err != nil {
		t.Fatalf("decode candidate: %v", err)
	}
	if candidate.Title != "Dinner with friends" || candidate.Amount != 1250 {
		t.Errorf("candidate: %+v", candidate)
	}

	// Naming a method commits the candidate to the ledger.
	rec = doJSON(t, srv, http.MethodPost, "/api/expenses/parse", token, map[string]string{
		"input":          "dinner with friends 1250",
		"payment_method": "UPI",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("parse and commit: status %d body %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/wallet", token, nil)
	var wallet struct {
		UPICents int64 `json:"upi_cents"`
	}
	json.Unmarshal(rec.Body.Bytes(), &wallet)
	if wallet.UPICents != 375000 {
		t.Errorf("upi after commit = %d, want 375000", wallet.UPICents)
	}
}

func TestParseEndpointWithoutModel(t *testing.T) {
	srv := newTestServer(t, nil)
	token := registerUser(t, srv, "asha")

	rec := doJSON(t, srv, http.MethodPost, "/api/expenses/parse", token, map[string]string{
		"input": "coffee 30",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status %d, want 503", rec.Code)
	}
}

func TestExportCSV(t *testing.T) {
	srv := newTestServer(t, nil)
	token := registerUser(t, srv, "asha")
	seedWallet(t, srv, token, 10000, 10000)

	if rec := doJSON(t, srv, http.MethodPost, "/api/expenses", token, expensePayload(2500, "Cash")); rec.Code != http.StatusCreated {
		t.Fatalf("seed expense: status %d", rec.Code)
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/export/csv", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status %d body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type: %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Weekly shop") {
		t.Errorf("missing expense row: %s", rec.Body)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/export/txt", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown format: status %d", rec.Code)
	}
}

func TestOwnershipIsolationOverAPI(t *testing.T) {
	srv := newTestServer(t, nil)
	owner := registerUser(t, srv, "asha")
	other := registerUser(t, srv, "ravi")
	seedWallet(t, srv, owner, 10000, 10000)

	rec := doJSON(t, srv, http.MethodPost, "/api/expenses", owner, expensePayload(2500, "UPI"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d", rec.Code)
	}
	var created struct {
		ID int64 `json:"id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)
	path := fmt.Sprintf("/api/expenses/%d", created.ID)

	if rec := doJSON(t, srv, http.MethodGet, path, other, nil); rec.Code != http.StatusNotFound {
		t.Errorf("cross-user get: status %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodDelete, path, other, nil); rec.Code != http.StatusNotFound {
		t.Errorf("cross-user delete: status %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodGet, path, owner, nil); rec.Code != http.StatusOK {
		t.Errorf("owner get after cross-user delete: status %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: status %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("readyz: status %d", rec.Code)
	}
}
