package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/identity"
	"github.com/warp/campus-engine/metrics"
)

// Engine runs payroll workflows.
type Engine struct {
	store       generic.TxStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	timeout     time.Duration
	maxAttempts int
	atomic      *generic.Atomic
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option      { return func(e *Engine) { e.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithTxTimeout(d time.Duration) Option  { return func(e *Engine) { e.timeout = d } }
func WithMaxAttempts(n int) Option          { return func(e *Engine) { e.maxAttempts = n } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates a payroll engine.
func New(store generic.TxStore, opts ...Option) *Engine {
	e := &Engine{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.atomic = generic.NewAtomic(store, e.timeout, e.maxAttempts)
	return e
}

var (
	writers = []identity.Role{identity.RoleAdmin, identity.RoleSuperAdmin}
	readers = []identity.Role{identity.RoleStaff, identity.RoleAdmin, identity.RoleSuperAdmin}
)

// =============================================================================
// STAFF
// =============================================================================

// RegisterStaff inserts a staff record.
func (e *Engine) RegisterStaff(ctx context.Context, p identity.Principal, req StaffRequest) (Staff, error) {
	if err := p.Require("register staff", writers...); err != nil {
		return Staff{}, err
	}
	org := p.TargetOrganization(req.OrganizationID)
	if org.IsZero() {
		return Staff{}, generic.NewValidationError("organization_id", "is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return Staff{}, generic.NewValidationError("name", "is required")
	}
	s := Staff{
		ID:             generic.NewID(),
		OrganizationID: org,
		Name:           strings.TrimSpace(req.Name),
		Designation:    req.Designation,
		Phone:          req.Phone,
		Status:         "Active",
		CreatedAt:      e.now().UTC(),
	}
	if err := generic.InsertValue(ctx, e.store, StaffCollection, s); err != nil {
		return Staff{}, generic.Internal("register staff", err)
	}
	return s, nil
}

// loadStaff finds a staff member visible to p. Super admins see every
// organization.
func loadStaff(ctx context.Context, s generic.Store, p identity.Principal, id generic.ID) (Staff, error) {
	var staff Staff
	err := generic.FetchInto(ctx, s, StaffCollection, p.Scope(generic.Filter{"id": id}), &staff)
	if errors.Is(err, generic.ErrNoDocument) {
		return Staff{}, &generic.NotFoundError{Resource: "staff", ID: id}
	}
	return staff, err
}

// =============================================================================
// COMPENSATION STRUCTURES
// =============================================================================

// CreateCompensationStructure retires every active structure of the
// staff member and activates a new one, atomically.
func (e *Engine) CreateCompensationStructure(ctx context.Context, p identity.Principal, req StructureRequest) (created Structure, err error) {
	start := time.Now()
	defer func() { e.finish(ctx, "payroll.create_structure", p, start, err) }()

	if err := p.Require("create compensation structures", writers...); err != nil {
		return Structure{}, err
	}
	if err := validateComponents(req); err != nil {
		return Structure{}, err
	}

	err = e.atomic.Run(ctx, func(tx generic.Store) error {
		staff, err := loadStaff(ctx, tx, p, req.StaffID)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		// Retire first: a failure past this point can leave zero active
		// structures, never two.
		if _, err := tx.Update(ctx, StructuresCollection,
			generic.Filter{"staff_id": staff.ID, "status": StructureActive},
			generic.Document{"status": StructureInactive, "updated_at": now}); err != nil {
			return err
		}

		created = Structure{
			ID:             generic.NewID(),
			OrganizationID: staff.OrganizationID,
			StaffID:        staff.ID,
			Components:     req.Components,
			Total:          req.Components.Total(),
			EffectiveFrom:  req.EffectiveFrom.UTC(),
			Status:         StructureActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return generic.InsertValue(ctx, tx, StructuresCollection, created)
	})
	if err != nil {
		return Structure{}, translate("create compensation structure", err)
	}
	return created, nil
}

func validateComponents(req StructureRequest) error {
	var fields []generic.FieldError
	if req.StaffID.IsZero() {
		fields = append(fields, generic.FieldError{Field: "staff_id", Message: "is required"})
	}
	c := req.Components
	for name, v := range map[string]generic.Money{
		"basic_salary":        c.BasicSalary,
		"house_rent":          c.HouseRent,
		"medical_allowance":   c.MedicalAllowance,
		"transport_allowance": c.TransportAllowance,
		"other_allowance":     c.OtherAllowance,
	} {
		if v.IsNegative() {
			fields = append(fields, generic.FieldError{Field: name, Message: "must be greater than or equal to 0"})
		}
	}
	if req.EffectiveFrom.IsZero() {
		fields = append(fields, generic.FieldError{Field: "effective_from", Message: "is required"})
	}
	if len(fields) > 0 {
		return &generic.ValidationError{Fields: fields}
	}
	return nil
}

// ActiveStructure returns the staff member's active structure.
func (e *Engine) ActiveStructure(ctx context.Context, p identity.Principal, staffID generic.ID) (Structure, error) {
	if err := p.Require("read compensation structures", readers...); err != nil {
		return Structure{}, err
	}
	var s Structure
	err := generic.FetchInto(ctx, e.store, StructuresCollection,
		p.Scope(generic.Filter{"staff_id": staffID, "status": StructureActive}), &s)
	if errors.Is(err, generic.ErrNoDocument) {
		return Structure{}, &generic.NotFoundError{Resource: "active compensation structure for staff", ID: staffID}
	}
	if err != nil {
		return Structure{}, generic.Internal("active structure", err)
	}
	return s, nil
}

// ListStructures returns every structure version of a staff member,
// newest first.
func (e *Engine) ListStructures(ctx context.Context, p identity.Principal, staffID generic.ID) ([]Structure, error) {
	if err := p.Require("read compensation structures", readers...); err != nil {
		return nil, err
	}
	out, err := generic.FetchAll[Structure](ctx, e.store, StructuresCollection,
		p.Scope(generic.Filter{"staff_id": staffID}), generic.SortBy("created_at", true))
	if err != nil {
		return nil, generic.Internal("list structures", err)
	}
	return out, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PostPayment records one salary payment per staff member and period.
func (e *Engine) PostPayment(ctx context.Context, p identity.Principal, req PaymentRequest) (paid Payment, err error) {
	start := time.Now()
	defer func() { e.finish(ctx, "payroll.post_payment", p, start, err) }()

	if err := p.Require("post salary payments", writers...); err != nil {
		return Payment{}, err
	}
	if err := validatePayment(req); err != nil {
		return Payment{}, err
	}

	err = e.atomic.Run(ctx, func(tx generic.Store) error {
		staff, err := loadStaff(ctx, tx, p, req.StaffID)
		if err != nil {
			return err
		}

		existing, err := tx.Count(ctx, PaymentsCollection, generic.Filter{
			"staff_id": staff.ID, "month": req.Month, "year": req.Year,
		})
		if err != nil {
			return err
		}
		if existing > 0 {
			return periodConflict(staff, req.Month, req.Year)
		}

		structureID, err := linkStructure(ctx, tx, staff, req.CompensationStructureID)
		if err != nil {
			return err
		}

		status := req.Status
		if status == "" {
			status = PaymentPaid
		}
		paymentDate := req.PaymentDate
		if paymentDate.IsZero() {
			paymentDate = e.now()
		}
		paid = Payment{
			ID:                      generic.NewID(),
			OrganizationID:          staff.OrganizationID,
			StaffID:                 staff.ID,
			CompensationStructureID: structureID,
			Month:                   req.Month,
			Year:                    req.Year,
			Gross:                   req.Gross,
			Deductions:              req.Deductions,
			Net:                     req.Gross.Sub(req.Deductions),
			PaymentDate:             paymentDate.UTC(),
			Method:                  req.Method,
			TransactionRef:          req.TransactionRef,
			Note:                    req.Note,
			Status:                  status,
			CreatedAt:               e.now().UTC(),
		}
		err = generic.InsertValue(ctx, tx, PaymentsCollection, paid)
		if errors.Is(err, generic.ErrDuplicateKey) {
			return periodConflict(staff, req.Month, req.Year)
		}
		return err
	})
	if err != nil {
		return Payment{}, translate("post payment", err)
	}
	return paid, nil
}

func periodConflict(staff Staff, month, year int) error {
	return &generic.ConflictError{
		Resource: "salary payment",
		Reason:   fmt.Sprintf("payment already exists for %s for %d/%d", staff.Name, month, year),
	}
}

// linkStructure resolves the structure a payment is recorded against.
// An explicit id must belong to the staff member; otherwise the active
// structure is used when there is one.
func linkStructure(ctx context.Context, tx generic.Store, staff Staff, explicit generic.ID) (*generic.ID, error) {
	if !explicit.IsZero() {
		n, err := tx.Count(ctx, StructuresCollection, generic.Filter{"id": explicit, "staff_id": staff.ID})
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, &generic.NotFoundError{Resource: "compensation structure", ID: explicit}
		}
		return generic.IDPtr(explicit), nil
	}

	var active Structure
	err := generic.FetchInto(ctx, tx, StructuresCollection, generic.Filter{"staff_id": staff.ID, "status": StructureActive}, &active)
	switch {
	case errors.Is(err, generic.ErrNoDocument):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return generic.IDPtr(active.ID), nil
}

func validatePayment(req PaymentRequest) error {
	var fields []generic.FieldError
	add := func(field, msg string) { fields = append(fields, generic.FieldError{Field: field, Message: msg}) }

	if req.StaffID.IsZero() {
		add("staff_id", "is required")
	}
	if req.Month < 1 || req.Month > 12 {
		add("month", "must be between 1 and 12")
	}
	if req.Year < 2000 || req.Year > 2100 {
		add("year", "must be between 2000 and 2100")
	}
	if req.Gross.IsNegative() {
		add("gross", "must be greater than or equal to 0")
	}
	if req.Deductions.IsNegative() {
		add("deductions", "must be greater than or equal to 0")
	}
	if req.Deductions.Value.GreaterThan(req.Gross.Value) {
		add("deductions", "must not exceed gross")
	}
	switch req.Method {
	case MethodBank, MethodMobileBanking, MethodCash:
	default:
		add("method", "must be one of [Bank, Mobile Banking, Cash]")
	}
	switch req.Status {
	case "", PaymentPaid, PaymentPending:
	default:
		add("status", "must be one of [paid, pending]")
	}
	if len(fields) > 0 {
		return &generic.ValidationError{Fields: fields}
	}
	return nil
}

// PaymentQuery filters ListPayments.
type PaymentQuery struct {
	StaffID generic.ID
	Year    int
}

// ListPayments returns payments newest period first, each joined with
// the structure it was linked to.
func (e *Engine) ListPayments(ctx context.Context, p identity.Principal, q PaymentQuery) ([]PaymentDetail, error) {
	if err := p.Require("read salary payments", readers...); err != nil {
		return nil, err
	}
	filter := p.Scope(nil)
	if !q.StaffID.IsZero() {
		filter["staff_id"] = q.StaffID
	}
	if q.Year != 0 {
		filter["year"] = q.Year
	}

	docs, err := e.store.FetchMany(ctx, PaymentsCollection, filter, generic.FindOptions{Sort: []generic.SortField{
		{Field: "year", Desc: true},
		{Field: "month", Desc: true},
	}})
	if err != nil {
		return nil, generic.Internal("list payments", err)
	}
	joined, err := generic.Join(ctx, e.store, docs, generic.JoinSpec{
		From:         StructuresCollection,
		LocalField:   "compensation_structure_id",
		ForeignField: "id",
		As:           "structure",
	})
	if err != nil {
		return nil, generic.Internal("list payments", err)
	}
	out, err := generic.DecodeAll[PaymentDetail](joined)
	if err != nil {
		return nil, generic.Internal("list payments", err)
	}
	return out, nil
}

// =============================================================================
// ERRORS & OBSERVABILITY
// =============================================================================

func translate(op string, err error) error {
	var dup *generic.DuplicateKeyError
	if errors.As(err, &dup) {
		switch dup.Index {
		case "ux_structures_active_staff":
			return &generic.ConflictError{Resource: "compensation structure", Reason: "another structure was activated concurrently"}
		case "ux_payments_staff_period":
			return &generic.ConflictError{Resource: "salary payment", Reason: "payment already exists for this period"}
		}
		return &generic.ConflictError{Resource: dup.Collection, Reason: "duplicate " + dup.Index}
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
