package fees

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/warp/campus-engine/enrollment"
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/identity"
	"github.com/warp/campus-engine/metrics"
)

// Engine issues and updates fee invoices.
type Engine struct {
	store       generic.TxStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
	mode        RecomputeMode
	now         func() time.Time
	timeout     time.Duration
	maxAttempts int
	atomic      *generic.Atomic
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option         { return func(e *Engine) { e.logger = l } }
func WithMetrics(m *metrics.Metrics) Option    { return func(e *Engine) { e.metrics = m } }
func WithTxTimeout(d time.Duration) Option     { return func(e *Engine) { e.timeout = d } }
func WithMaxAttempts(n int) Option             { return func(e *Engine) { e.maxAttempts = n } }
func WithClock(now func() time.Time) Option    { return func(e *Engine) { e.now = now } }
func WithRecomputeMode(m RecomputeMode) Option { return func(e *Engine) { e.mode = m } }

// New creates a fee engine. The default mode is RecomputeAlways.
func New(store generic.TxStore, opts ...Option) *Engine {
	e := &Engine{store: store, logger: slog.Default(), mode: RecomputeAlways, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.atomic = generic.NewAtomic(store, e.timeout, e.maxAttempts)
	return e
}

var (
	writers = []identity.Role{identity.RoleStaff, identity.RoleAdmin, identity.RoleSuperAdmin}
	readers = []identity.Role{identity.RoleGuardian, identity.RoleStudent, identity.RoleStaff, identity.RoleAdmin, identity.RoleSuperAdmin}
)

// =============================================================================
// CREATE
// =============================================================================

// CreateInvoice issues one invoice per student, fee item and period.
func (e *Engine) CreateInvoice(ctx context.Context, p identity.Principal, req CreateRequest) (inv Invoice, err error) {
	start := time.Now()
	defer func() { e.finish(ctx, "fees.create", p, start, err) }()

	if err := p.Require("create invoices", writers...); err != nil {
		return Invoice{}, err
	}
	if err := validateCreate(req); err != nil {
		return Invoice{}, err
	}

	err = e.atomic.Run(ctx, func(tx generic.Store) error {
		var student enrollment.Student
		err := generic.FetchInto(ctx, tx, enrollment.StudentsCollection, p.Scope(generic.Filter{"id": req.StudentID}), &student)
		if errors.Is(err, generic.ErrNoDocument) {
			return &generic.NotFoundError{Resource: "student", ID: req.StudentID}
		}
		if err != nil {
			return err
		}

		period := generic.Filter{
			"student_id":  req.StudentID,
			"fee_item_id": req.FeeItemID,
			"month":       req.Month,
			"year":        req.Year,
		}
		n, err := tx.Count(ctx, InvoicesCollection, period)
		if err != nil {
			return err
		}
		if n > 0 {
			return periodConflict()
		}

		now := e.now().UTC()
		due, status := Derive(req.Amount, req.PaidAmount)
		inv = Invoice{
			ID:             generic.NewID(),
			OrganizationID: student.OrganizationID,
			StudentID:      req.StudentID,
			FeeItemID:      req.FeeItemID,
			Month:          req.Month,
			Year:           req.Year,
			Amount:         req.Amount,
			PaidAmount:     req.PaidAmount,
			DueAmount:      due,
			Status:         status,
			PaymentDate:    req.PaymentDate,
			TransactionRef: req.TransactionRef,
			Remarks:        req.Remarks,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return generic.InsertValue(ctx, tx, InvoicesCollection, inv)
	})
	if err != nil {
		return Invoice{}, translate("create invoice", err)
	}
	return inv, nil
}

func validateCreate(req CreateRequest) error {
	var fields []generic.FieldError
	add := func(field, msg string) { fields = append(fields, generic.FieldError{Field: field, Message: msg}) }

	if req.StudentID.IsZero() {
		add("student_id", "is required")
	}
	if req.FeeItemID.IsZero() {
		add("fee_item_id", "is required")
	}
	if req.Month != "" && !validMonth(req.Month) {
		add("month", "must be a month name or empty")
	}
	if req.Year < 2000 || req.Year > 2100 {
		add("year", "must be between 2000 and 2100")
	}
	if req.Amount.IsNegative() {
		add("amount", "must be greater than or equal to 0")
	}
	if req.PaidAmount.IsNegative() {
		add("paid_amount", "must be greater than or equal to 0")
	}
	if len(fields) > 0 {
		return &generic.ValidationError{Fields: fields}
	}
	return nil
}

func validMonth(m string) bool {
	for _, name := range Months {
		if name == m {
			return true
		}
	}
	return false
}

func periodConflict() error {
	return &generic.ConflictError{Resource: "invoice", Reason: "fee record already generated for this period"}
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateInvoice applies changes and keeps due amount and status derived.
//
// With both amount and paid_amount present, due and status are always
// recomputed. With one of them present, RecomputeAlways merges it with
// the stored value and recomputes; RecomputeWhenBothPresent stores it and
// leaves due and status untouched. A recomputed status replaces any
// status named in the request.
func (e *Engine) UpdateInvoice(ctx context.Context, p identity.Principal, id generic.ID, req UpdateRequest) (inv Invoice, err error) {
	start := time.Now()
	defer func() { e.finish(ctx, "fees.update", p, start, err) }()

	if err := p.Require("update invoices", writers...); err != nil {
		return Invoice{}, err
	}
	if err := validateUpdate(req); err != nil {
		return Invoice{}, err
	}

	err = e.atomic.Run(ctx, func(tx generic.Store) error {
		filter := p.Scope(generic.Filter{"id": id})
		var current Invoice
		if err := generic.FetchInto(ctx, tx, InvoicesCollection, filter, &current); err != nil {
			if errors.Is(err, generic.ErrNoDocument) {
				return &generic.NotFoundError{Resource: "invoice", ID: id}
			}
			return err
		}

		set := generic.Document{"updated_at": e.now().UTC()}
		if req.Status != nil {
			set["status"] = *req.Status
		}
		if req.PaymentDate != nil {
			set["payment_date"] = req.PaymentDate.UTC()
		}
		if req.TransactionRef != nil {
			set["transaction_ref"] = *req.TransactionRef
		}
		if req.Remarks != nil {
			set["remarks"] = *req.Remarks
		}

		amount, paid := current.Amount, current.PaidAmount
		if req.Amount != nil {
			amount = *req.Amount
			set["amount"] = amount
		}
		if req.PaidAmount != nil {
			paid = *req.PaidAmount
			set["paid_amount"] = paid
		}
		if e.shouldRecompute(req) {
			due, status := Derive(amount, paid)
			set["due_amount"] = due
			set["status"] = status
		}

		if _, err := tx.Update(ctx, InvoicesCollection, filter, set); err != nil {
			return err
		}
		return generic.FetchInto(ctx, tx, InvoicesCollection, filter, &inv)
	})
	if err != nil {
		return Invoice{}, translate("update invoice", err)
	}
	return inv, nil
}

func (e *Engine) shouldRecompute(req UpdateRequest) bool {
	both := req.Amount != nil && req.PaidAmount != nil
	either := req.Amount != nil || req.PaidAmount != nil
	if e.mode == RecomputeWhenBothPresent {
		return both
	}
	return either
}

func validateUpdate(req UpdateRequest) error {
	var fields []generic.FieldError
	if req.Amount != nil && req.Amount.IsNegative() {
		fields = append(fields, generic.FieldError{Field: "amount", Message: "must be greater than or equal to 0"})
	}
	if req.PaidAmount != nil && req.PaidAmount.IsNegative() {
		fields = append(fields, generic.FieldError{Field: "paid_amount", Message: "must be greater than or equal to 0"})
	}
	if req.Status != nil && !req.Status.Valid() {
		fields = append(fields, generic.FieldError{Field: "status", Message: "must be one of [Paid, Partial, Pending, Overdue]"})
	}
	if len(fields) > 0 {
		return &generic.ValidationError{Fields: fields}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// GetInvoice returns one invoice of the caller's organization.
func (e *Engine) GetInvoice(ctx context.Context, p identity.Principal, id generic.ID) (Invoice, error) {
	if err := p.Require("read invoices", readers...); err != nil {
		return Invoice{}, err
	}
	var inv Invoice
	err := generic.FetchInto(ctx, e.store, InvoicesCollection, p.Scope(generic.Filter{"id": id}), &inv)
	if errors.Is(err, generic.ErrNoDocument) {
		return Invoice{}, &generic.NotFoundError{Resource: "invoice", ID: id}
	}
	if err != nil {
		return Invoice{}, generic.Internal("get invoice", err)
	}
	return inv, nil
}

// ListStudentInvoices returns a student's invoices, newest first,
// optionally narrowed to one status.
func (e *Engine) ListStudentInvoices(ctx context.Context, p identity.Principal, studentID generic.ID, status Status) ([]Invoice, error) {
	if err := p.Require("read invoices", readers...); err != nil {
		return nil, err
	}
	filter := p.Scope(generic.Filter{"student_id": studentID})
	if status != "" {
		filter["status"] = status
	}
	out, err := generic.FetchAll[Invoice](ctx, e.store, InvoicesCollection, filter, generic.SortBy("created_at", true))
	if err != nil {
		return nil, generic.Internal("list invoices", err)
	}
	return out, nil
}

// =============================================================================
// ERRORS & OBSERVABILITY
// =============================================================================

func translate(op string, err error) error {
	if errors.Is(err, generic.ErrDuplicateKey) {
		return periodConflict()
	}
	return generic.Internal(op, err)
}

func (e *Engine) finish(ctx context.Context, op string, p identity.Principal, start time.Time, err error) {
	e.metrics.Observe(op, start, err)
	if err == nil {
		return
	}
	level := slog.LevelDebug
	if !generic.IsClientError(err) {
		level = slog.LevelError
	}
	e.logger.Log(ctx, level, "workflow failed",
		"op", op,
		"organization_id", p.OrganizationID,
		"error", err)
}
