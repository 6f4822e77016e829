/*
handlers_test.go - HTTP tests for the API layer

Tests for:
- Authentication (login, bearer tokens)
- Error kind to status mapping (400, 401, 403, 404, 409, 413, 422)
- End-to-end workflows through the router
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/campus-engine/enrollment"
	"github.com/warp/campus-engine/fees"
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/generic/store"
	"github.com/warp/campus-engine/identity"
	"github.com/warp/campus-engine/ledger"
	"github.com/warp/campus-engine/metrics"
	"github.com/warp/campus-engine/payroll"
)

var (
	orgA = generic.MustParseID("5d1f0c2a-8b7e-4c3d-9a6f-0e1d2c3b4a01")
	orgB = generic.MustParseID("5d1f0c2a-8b7e-4c3d-9a6f-0e1d2c3b4a02")
)

type testServer struct {
	t       *testing.T
	server  *httptest.Server
	handler *Handler
	tokens  *identity.Provider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, generic.EnsureIndexes(ctx, mem,
		identity.Indexes(), enrollment.Indexes(), ledger.Indexes(), payroll.Indexes(), fees.Indexes()))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hasher := identity.NewBcryptHasher(bcrypt.MinCost)
	tokens := identity.NewProvider("test-secret", "campus-engine", 0)

	h := NewHandler(mem, Services{
		Enrollment: enrollment.New(mem, hasher, enrollment.WithMetrics(m)),
		Ledger:     ledger.New(mem, ledger.WithMetrics(m)),
		Payroll:    payroll.New(mem, payroll.WithMetrics(m)),
		Fees:       fees.New(mem, fees.WithMetrics(m)),
		Auth:       identity.NewAuthenticator(mem, hasher, tokens),
		Tokens:     tokens,
	}, nil)

	_, err := identity.Bootstrap(ctx, mem, hasher, "principal@a", "correct horse", identity.RoleAdmin, orgA)
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(h, RouterConfig{AllowedOrigins: []string{"*"}, Gatherer: reg}))
	t.Cleanup(srv.Close)
	return &testServer{t: t, server: srv, handler: h, tokens: tokens}
}

func (ts *testServer) token(role identity.Role, org generic.ID) string {
	ts.t.Helper()
	tok, err := ts.tokens.Issue(identity.Principal{UserID: generic.NewID(), Role: role, OrganizationID: org}, string(role))
	require.NoError(ts.t, err)
	return tok
}

// do sends body (marshalled unless it is already a string) and decodes
// the response into out when out is non-nil.
func (ts *testServer) do(method, path, token string, body any, out any) int {
	ts.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func admissionBody(contact string) map[string]any {
	return map[string]any{
		"academic_year":  "2025",
		"admission_date": "2025-01-10",
		"guardian": map[string]any{
			"father_name": "Karim Rahman",
			"mother_name": "Nasrin Rahman",
			"contact":     contact,
			"address":     "Dhanmondi",
		},
		"students": []map[string]any{
			{"first_name": "Ayaan", "gender": "Male", "date_of_birth": "2015-03-14"},
			{"first_name": "Inaya", "gender": "Female", "date_of_birth": "2017-09-02"},
		},
	}
}

// =============================================================================
// AUTH
// =============================================================================

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	// WHEN: The password is wrong
	var failed ErrorResponse
	status := ts.do("POST", "/api/auth/login", "", LoginRequest{Username: "principal@a", Password: "nope"}, &failed)

	// THEN: 401 without saying which part was wrong
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthenticated", failed.Error)

	// WHEN: The password is right
	var res identity.LoginResult
	status = ts.do("POST", "/api/auth/login", "", LoginRequest{Username: "Principal@A ", Password: "correct horse"}, &res)
	require.Equal(t, http.StatusOK, status)

	// THEN: The token resolves to the admin of org A
	var me identity.Principal
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/auth/me", res.Token, nil, &me))
	assert.Equal(t, identity.RoleAdmin, me.Role)
	assert.Equal(t, orgA, me.OrganizationID)
}

func TestAuthenticate_RejectsMissingAndForgedTokens(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, ts.do("GET", "/api/accounts", "", nil, nil))

	forged, err := identity.NewProvider("other-secret", "campus-engine", 0).
		Issue(identity.Principal{UserID: generic.NewID(), Role: identity.RoleAdmin, OrganizationID: orgA}, "x")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, ts.do("GET", "/api/accounts", forged, nil, nil))
}

// =============================================================================
// ENROLLMENT
// =============================================================================

func TestEnroll_CreatesFamilyAndListsChildren(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(identity.RoleAdmin, orgA)

	var res enrollment.EnrollResult
	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/admissions", admin, admissionBody("01711000001"), &res))
	assert.True(t, res.GuardianCreated)
	assert.Len(t, res.Credentials, 2)

	var guardians ListResponse[enrollment.GuardianSummary]
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/admissions/guardians", admin, nil, &guardians))
	require.Equal(t, 1, guardians.Count)
	assert.Equal(t, 2, guardians.Items[0].Children)

	// Another organization sees nothing
	var other ListResponse[enrollment.GuardianSummary]
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/admissions/guardians", ts.token(identity.RoleAdmin, orgB), nil, &other))
	assert.Zero(t, other.Count)
}

func TestEnroll_ValidationErrorsListFields(t *testing.T) {
	ts := newTestServer(t)
	body := admissionBody("01711000002")
	body["students"] = []map[string]any{}

	var res ErrorResponse
	status := ts.do("POST", "/api/admissions", ts.token(identity.RoleAdmin, orgA), body, &res)

	assert.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, res.Fields)
	assert.Equal(t, "students", res.Fields[0].Field)
}

func TestEnroll_MalformedJSON(t *testing.T) {
	ts := newTestServer(t)

	status := ts.do("POST", "/api/admissions", ts.token(identity.RoleAdmin, orgA), `{"guardian":`, nil)

	assert.Equal(t, http.StatusBadRequest, status)
}

func TestEnroll_StaffIsForbidden(t *testing.T) {
	ts := newTestServer(t)

	status := ts.do("POST", "/api/admissions", ts.token(identity.RoleStaff, orgA), admissionBody("01711000003"), nil)

	assert.Equal(t, http.StatusForbidden, status)
}

func TestBodyLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.handler.MaxBodyBytes = 256
	body := admissionBody("01711000004")
	body["students"].([]map[string]any)[0]["photo"] = strings.Repeat("x", 1024)

	status := ts.do("POST", "/api/admissions", ts.token(identity.RoleAdmin, orgA), body, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

// =============================================================================
// LEDGER
// =============================================================================

func openAccount(t *testing.T, ts *testServer, token, name string, opening int) ledger.Account {
	t.Helper()
	var acc ledger.Account
	status := ts.do("POST", "/api/accounts", token, map[string]any{"name": name, "type": "Cash", "opening_balance": opening}, &acc)
	require.Equal(t, http.StatusCreated, status)
	return acc
}

func TestPostTransaction_StatusMapping(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(identity.RoleAdmin, orgA)
	cash := openAccount(t, ts, admin, "Cash", 100)

	post := func(token string, accountID generic.ID, amount int) int {
		return ts.do("POST", "/api/transactions", token, map[string]any{
			"type": "Expense", "category": "Supplies", "account_id": accountID,
			"amount": amount, "date": "2025-02-01",
		}, nil)
	}

	assert.Equal(t, http.StatusCreated, post(admin, cash.ID, 40))
	assert.Equal(t, http.StatusUnprocessableEntity, post(admin, cash.ID, 61))
	assert.Equal(t, http.StatusNotFound, post(admin, generic.NewID(), 1))
	assert.Equal(t, http.StatusNotFound, post(ts.token(identity.RoleAdmin, orgB), cash.ID, 1))
	assert.Equal(t, http.StatusForbidden, post(ts.token(identity.RoleStaff, orgA), cash.ID, 1))

	var acc ledger.Account
	require.Equal(t, http.StatusOK, ts.do("GET", fmt.Sprintf("/api/accounts/%s", cash.ID), admin, nil, &acc))
	assert.Equal(t, "60", acc.Balance.String())

	var rec ledger.Reconciliation
	require.Equal(t, http.StatusOK, ts.do("GET", fmt.Sprintf("/api/accounts/%s/reconcile", cash.ID), admin, nil, &rec))
	assert.True(t, rec.Balanced)
}

func TestAccounts_DuplicateNameIsConflict(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(identity.RoleAdmin, orgA)
	openAccount(t, ts, admin, "Petty Cash", 0)

	status := ts.do("POST", "/api/accounts", admin, map[string]any{"name": "Petty Cash", "type": "Cash"}, nil)

	assert.Equal(t, http.StatusConflict, status)
}

func TestAccounts_InactiveRejectsPostings(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(identity.RoleAdmin, orgA)
	cash := openAccount(t, ts, admin, "Cash", 100)

	var acc ledger.Account
	require.Equal(t, http.StatusOK, ts.do("PUT", fmt.Sprintf("/api/accounts/%s/status", cash.ID), admin, map[string]any{"status": "Inactive"}, &acc))
	assert.Equal(t, ledger.AccountInactive, acc.Status)

	status := ts.do("POST", "/api/transactions", admin, map[string]any{
		"type": "Income", "category": "Donation", "account_id": cash.ID, "amount": 10, "date": "2025-02-01",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListTransactions_QueryValidation(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(identity.RoleAdmin, orgA)

	assert.Equal(t, http.StatusBadRequest, ts.do("GET", "/api/transactions?limit=-1", admin, nil, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do("GET", "/api/transactions?type=Refund", admin, nil, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do("GET", "/api/accounts/not-an-id/transactions", admin, nil, nil))
	assert.Equal(t, http.StatusOK, ts.do("GET", "/api/transactions?type=Income&limit=5", admin, nil, nil))
}

// =============================================================================
// PAYROLL & FEES
// =============================================================================

func TestPayroll_DuplicatePeriodIsConflict(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(identity.RoleAdmin, orgA)

	var staff payroll.Staff
	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/staff", admin, map[string]any{"name": "Farhana"}, &staff))
	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/staff/structures", admin, map[string]any{
		"staff_id": staff.ID, "basic_salary": 30000, "house_rent": 12000, "effective_from": "2025-01-01",
	}, nil))

	payment := map[string]any{"staff_id": staff.ID, "month": 3, "year": 2025, "gross": 42000, "method": "Bank"}
	var paid payroll.Payment
	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/salary-payments", admin, payment, &paid))
	assert.NotNil(t, paid.CompensationStructureID)

	var conflict ErrorResponse
	assert.Equal(t, http.StatusConflict, ts.do("POST", "/api/salary-payments", admin, payment, &conflict))
	assert.Contains(t, conflict.Details, "Farhana")

	var list ListResponse[payroll.PaymentDetail]
	require.Equal(t, http.StatusOK, ts.do("GET", fmt.Sprintf("/api/salary-payments?staff_id=%s&year=2025", staff.ID), admin, nil, &list))
	require.Equal(t, 1, list.Count)
	require.NotNil(t, list.Items[0].Structure)
	assert.Equal(t, "42000", list.Items[0].Structure.Total.String())
}

func TestFees_CreateUpdateAndConflict(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(identity.RoleAdmin, orgA)
	staff := ts.token(identity.RoleStaff, orgA)

	var res enrollment.EnrollResult
	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/admissions", admin, admissionBody("01711000005"), &res))
	studentID := res.StudentIDs[0]
	item := generic.NewID()

	body := map[string]any{"student_id": studentID, "fee_item_id": item, "month": "January", "year": 2025, "amount": 1000}
	var inv fees.Invoice
	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/fees", staff, body, &inv))
	assert.Equal(t, fees.StatusPending, inv.Status)

	assert.Equal(t, http.StatusConflict, ts.do("POST", "/api/fees", staff, body, nil))

	var updated fees.Invoice
	require.Equal(t, http.StatusOK, ts.do("PUT", fmt.Sprintf("/api/fees/%s", inv.ID), staff, map[string]any{"paid_amount": 400}, &updated))
	assert.Equal(t, fees.StatusPartial, updated.Status)
	assert.Equal(t, "600", updated.DueAmount.String())

	var partial ListResponse[fees.Invoice]
	require.Equal(t, http.StatusOK, ts.do("GET", fmt.Sprintf("/api/fees/students/%s?status=Partial", studentID), staff, nil, &partial))
	assert.Equal(t, 1, partial.Count)

	// A guardian may read but not write
	guardian := ts.token(identity.RoleGuardian, orgA)
	assert.Equal(t, http.StatusOK, ts.do("GET", fmt.Sprintf("/api/fees/%s", inv.ID), guardian, nil, nil))
	assert.Equal(t, http.StatusForbidden, ts.do("PUT", fmt.Sprintf("/api/fees/%s", inv.ID), guardian, map[string]any{"paid_amount": 1000}, nil))
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(identity.RoleAdmin, orgA)
	openAccount(t, ts, admin, "Cash", 0)

	assert.Equal(t, http.StatusOK, ts.do("GET", "/healthz", "", nil, nil))

	resp, err := http.Get(ts.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `campus_workflow_total{outcome="ok",workflow="ledger.open_account"} 1`)
}
