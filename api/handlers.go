/*
handlers.go - HTTP API handlers for the campus engine

PURPOSE:
  Exposes the four workflow engines via REST API. Handles HTTP
  request/response and JSON serialization, and delegates to the engines.
  Handlers hold no business rules.

ENDPOINTS:
  Auth:
    POST   /api/auth/login                       Issue a token
    GET    /api/auth/me                          Resolved principal

  Enrollment:
    POST   /api/admissions                       Enroll guardian and students
    PUT    /api/admissions                       Update an admission
    GET    /api/admissions/guardians             Guardians with children count
    GET    /api/admissions/guardians/{id}/students
    DELETE /api/admissions/students/{id}

  Ledger:
    POST   /api/accounts                         Open account
    GET    /api/accounts[/{id}]
    PUT    /api/accounts/{id}/status
    GET    /api/accounts/{id}/transactions
    GET    /api/accounts/{id}/reconcile
    GET    /api/accounts/reconcile               Every account, concurrently
    POST   /api/transactions                     Post a transaction
    GET    /api/transactions?type=&limit=&skip=

  Payroll:
    POST   /api/staff
    POST   /api/staff/structures                 New compensation structure
    GET    /api/staff/{id}/structures[/active]
    POST   /api/salary-payments
    GET    /api/salary-payments?staff_id=&year=

  Fees:
    POST   /api/fees
    GET    /api/fees/{id}
    PUT    /api/fees/{id}
    GET    /api/fees/students/{id}?status=

REQUEST FLOW:
  1. Read body (size-capped) and validate it against the engine's shape
  2. Take the principal from the request context
  3. Call the engine
  4. Serialize the result, or map the error kind to a status

SEE ALSO:
  - dto.go: Transport-only types
  - errors.go: Error rendering and body decoding
  - server.go: Router setup and middleware
*/
package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/warp/campus-engine/enrollment"
	"github.com/warp/campus-engine/fees"
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/identity"
	"github.com/warp/campus-engine/ledger"
	"github.com/warp/campus-engine/payroll"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Services are the engines the handlers delegate to.
type Services struct {
	Enrollment *enrollment.Engine
	Ledger     *ledger.Engine
	Payroll    *payroll.Engine
	Fees       *fees.Engine
	Auth       *identity.Authenticator
	Tokens     TokenResolver
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Services
	Store        generic.TxStore
	Logger       *slog.Logger
	MaxBodyBytes int64
}

// NewHandler creates a new handler over the given store and engines.
func NewHandler(store generic.TxStore, svc Services, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Services:     svc,
		Store:        store,
		Logger:       logger,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Login verifies a username and password and returns an access token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[LoginRequest](w, r, loginShape, h.MaxBodyBytes)
	if !ok {
		return
	}
	res, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Me returns the caller's principal.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, principal(r))
}

// =============================================================================
// ENROLLMENT HANDLERS
// =============================================================================

func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[enrollment.EnrollRequest](w, r, enrollment.EnrollShape, h.MaxBodyBytes)
	if !ok {
		return
	}
	res, err := h.Enrollment.EnrollGuardianAndStudents(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) UpdateAdmission(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[enrollment.AdmissionUpdate](w, r, enrollment.AdmissionUpdateShape, h.MaxBodyBytes)
	if !ok {
		return
	}
	res, err := h.Enrollment.UpdateAdmission(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListGuardians(w http.ResponseWriter, r *http.Request) {
	list, err := h.Enrollment.ListGuardians(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(list))
}

func (h *Handler) ListGuardianStudents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	list, err := h.Enrollment.ListStudents(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(list))
}

func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Enrollment.DeleteStudent(r.Context(), principal(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[ledger.OpenAccountRequest](w, r, ledger.OpenAccountShape, h.MaxBodyBytes)
	if !ok {
		return
	}
	acc, err := h.Ledger.OpenAccount(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.Ledger.ListAccounts(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(list))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	acc, err := h.Ledger.GetAccount(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (h *Handler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, ok := decode[AccountStatusRequest](w, r, accountStatusShape, h.MaxBodyBytes)
	if !ok {
		return
	}
	if err := h.Ledger.SetAccountStatus(r.Context(), principal(r), id, req.Status); err != nil {
		writeError(w, r, err)
		return
	}
	acc, err := h.Ledger.GetAccount(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (h *Handler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[ledger.PostRequest](w, r, ledger.PostShape, h.MaxBodyBytes)
	if !ok {
		return
	}
	tx, err := h.Ledger.PostTransaction(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q, ok := transactionQuery(w, r)
	if !ok {
		return
	}
	h.listTransactions(w, r, q)
}

func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q, ok := transactionQuery(w, r)
	if !ok {
		return
	}
	q.AccountID = id
	h.listTransactions(w, r, q)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request, q ledger.TransactionQuery) {
	list, err := h.Ledger.ListTransactions(r.Context(), principal(r), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(list))
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.Ledger.Reconcile(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	list, err := h.Ledger.ReconcileAll(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(list))
}

func transactionQuery(w http.ResponseWriter, r *http.Request) (ledger.TransactionQuery, bool) {
	q := ledger.TransactionQuery{Type: ledger.TxType(r.URL.Query().Get("type"))}
	if q.Type != "" && !q.Type.Valid() {
		writeError(w, r, generic.NewValidationError("type", "must be one of [Income, Expense, Transfer]"))
		return q, false
	}
	var ok bool
	if q.Limit, ok = queryInt(w, r, "limit"); !ok {
		return q, false
	}
	if q.Skip, ok = queryInt(w, r, "skip"); !ok {
		return q, false
	}
	return q, true
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

func (h *Handler) RegisterStaff(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[payroll.StaffRequest](w, r, payroll.StaffShape, h.MaxBodyBytes)
	if !ok {
		return
	}
	staff, err := h.Payroll.RegisterStaff(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, staff)
}

func (h *Handler) CreateStructure(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[payroll.StructureRequest](w, r, payroll.StructureShape, h.MaxBodyBytes)
	if !ok {
		return
	}
	s, err := h.Payroll.CreateCompensationStructure(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) ListStructures(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	list, err := h.Payroll.ListStructures(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(list))
}

func (h *Handler) ActiveStructure(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s, err := h.Payroll.ActiveStructure(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) PostPayment(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[payroll.PaymentRequest](w, r, payroll.PaymentShape, h.MaxBodyBytes)
	if !ok {
		return
	}
	p, err := h.Payroll.PostPayment(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	var q payroll.PaymentQuery
	if raw := r.URL.Query().Get("staff_id"); raw != "" {
		id, err := generic.ParseID(raw)
		if err != nil {
			writeError(w, r, generic.NewValidationError("staff_id", "%v", err))
			return
		}
		q.StaffID = id
	}
	var ok bool
	if q.Year, ok = queryInt(w, r, "year"); !ok {
		return
	}
	list, err := h.Payroll.ListPayments(r.Context(), principal(r), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(list))
}

// =============================================================================
// FEE HANDLERS
// =============================================================================

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[fees.CreateRequest](w, r, fees.CreateShape, h.MaxBodyBytes)
	if !ok {
		return
	}
	inv, err := h.Fees.CreateInvoice(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inv, err := h.Fees.GetInvoice(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, ok := decode[fees.UpdateRequest](w, r, fees.UpdateShape, h.MaxBodyBytes)
	if !ok {
		return
	}
	inv, err := h.Fees.UpdateInvoice(r.Context(), principal(r), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) ListStudentInvoices(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	status := fees.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, r, generic.NewValidationError("status", "must be one of [Paid, Partial, Pending, Overdue]"))
		return
	}
	list, err := h.Fees.ListStudentInvoices(r.Context(), principal(r), id, status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(list))
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(w http.ResponseWriter, r *http.Request) (generic.ID, bool) {
	id, err := generic.ParseID(chi.URLParam(r, "id"))
	if err != nil || id.IsZero() {
		writeError(w, r, generic.NewValidationError("id", "must be a valid id"))
		return "", false
	}
	return id, true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, r, generic.NewValidationError(name, "must be a non-negative integer"))
		return 0, false
	}
	return n, true
}
