package payroll_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/generic/store"
	"github.com/warp/campus-engine/identity"
	"github.com/warp/campus-engine/payroll"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	orgA      = generic.MustParseID("4e1f6b7a-2c3d-4e5f-8a9b-0c1d2e3f4a01")
	orgB      = generic.MustParseID("4e1f6b7a-2c3d-4e5f-8a9b-0c1d2e3f4a02")
	effective = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
)

func admin(org generic.ID) identity.Principal {
	return identity.Principal{UserID: generic.NewID(), Role: identity.RoleAdmin, OrganizationID: org}
}

func setup(t *testing.T) (*payroll.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, generic.EnsureIndexes(context.Background(), mem, payroll.Indexes()))
	return payroll.New(mem), mem
}

func registerStaff(t *testing.T, e *payroll.Engine, org generic.ID, name string) payroll.Staff {
	t.Helper()
	s, err := e.RegisterStaff(context.Background(), admin(org), payroll.StaffRequest{Name: name, Designation: "Teacher"})
	require.NoError(t, err)
	return s
}

func structureRequest(staffID generic.ID, basic, houseRent int64) payroll.StructureRequest {
	return payroll.StructureRequest{
		StaffID: staffID,
		Components: payroll.Components{
			BasicSalary: generic.NewMoney(basic),
			HouseRent:   generic.NewMoney(houseRent),
		},
		EffectiveFrom: effective,
	}
}

func paymentRequest(staffID generic.ID, month, year int) payroll.PaymentRequest {
	return payroll.PaymentRequest{
		StaffID:    staffID,
		Month:      month,
		Year:       year,
		Gross:      generic.NewMoney(1200),
		Deductions: generic.NewMoney(200),
		Method:     payroll.MethodBank,
	}
}

func activeCount(t *testing.T, mem *store.Memory, staffID generic.ID) int64 {
	t.Helper()
	n, err := mem.Count(context.Background(), payroll.StructuresCollection,
		generic.Filter{"staff_id": staffID, "status": payroll.StructureActive})
	require.NoError(t, err)
	return n
}

// failingInsertStore fails inserts into one collection inside transactions.
type failingInsertStore struct {
	generic.TxStore
	coll string
}

func (f *failingInsertStore) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return f.TxStore.WithTx(ctx, func(tx generic.Store) error {
		return fn(&failingInsertTx{Store: tx, coll: f.coll})
	})
}

type failingInsertTx struct {
	generic.Store
	coll string
}

func (f *failingInsertTx) Insert(ctx context.Context, coll string, doc generic.Document) error {
	if coll == f.coll {
		return errors.New("connection reset")
	}
	return f.Store.Insert(ctx, coll, doc)
}

// =============================================================================
// COMPENSATION STRUCTURES
// =============================================================================

func TestCreateStructure_ScenarioC_SupersedesActive(t *testing.T) {
	e, mem := setup(t)
	ctx := context.Background()
	staff := registerStaff(t, e, orgA, "Abdul Karim")

	// GIVEN: Structure A with total 1000
	a, err := e.CreateCompensationStructure(ctx, admin(orgA), structureRequest(staff.ID, 800, 200))
	require.NoError(t, err)
	assert.Equal(t, "1000", a.Total.String())

	// WHEN: Structure B with total 1200
	b, err := e.CreateCompensationStructure(ctx, admin(orgA), structureRequest(staff.ID, 1000, 200))
	require.NoError(t, err)

	// THEN: A inactive, B active, exactly one active
	assert.Equal(t, "1200", b.Total.String())
	structures, err := e.ListStructures(ctx, admin(orgA), staff.ID)
	require.NoError(t, err)
	require.Len(t, structures, 2)
	status := map[generic.ID]payroll.StructureStatus{}
	for _, s := range structures {
		status[s.ID] = s.Status
	}
	assert.Equal(t, payroll.StructureInactive, status[a.ID])
	assert.Equal(t, payroll.StructureActive, status[b.ID])
	assert.Equal(t, int64(1), activeCount(t, mem, staff.ID))

	active, err := e.ActiveStructure(ctx, admin(orgA), staff.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, active.ID)
}

func TestCreateStructure_AlwaysExactlyOneActive(t *testing.T) {
	e, mem := setup(t)
	staff := registerStaff(t, e, orgA, "Abdul Karim")
	other := registerStaff(t, e, orgA, "Fatema Khatun")
	_, err := e.CreateCompensationStructure(context.Background(), admin(orgA), structureRequest(other.ID, 500, 0))
	require.NoError(t, err)

	for i := int64(1); i <= 10; i++ {
		_, err := e.CreateCompensationStructure(context.Background(), admin(orgA), structureRequest(staff.ID, 1000+i, 0))
		require.NoError(t, err)
		assert.Equal(t, int64(1), activeCount(t, mem, staff.ID))
	}

	// Other staff members are not touched
	assert.Equal(t, int64(1), activeCount(t, mem, other.ID))
}

func TestCreateStructure_FailedInsertKeepsPreviousActive(t *testing.T) {
	// GIVEN: An active structure and a store that fails the next insert
	e, mem := setup(t)
	staff := registerStaff(t, e, orgA, "Abdul Karim")
	a, err := e.CreateCompensationStructure(context.Background(), admin(orgA), structureRequest(staff.ID, 1000, 0))
	require.NoError(t, err)
	broken := payroll.New(&failingInsertStore{TxStore: mem, coll: payroll.StructuresCollection})

	// WHEN: Creating a replacement
	_, err = broken.CreateCompensationStructure(context.Background(), admin(orgA), structureRequest(staff.ID, 2000, 0))

	// THEN: The deactivation was rolled back with the insert
	assert.ErrorIs(t, err, generic.ErrInternal)
	active, err := e.ActiveStructure(context.Background(), admin(orgA), staff.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)
}

func TestCreateStructure_StoreRejectsSecondActive(t *testing.T) {
	e, mem := setup(t)
	staff := registerStaff(t, e, orgA, "Abdul Karim")
	_, err := e.CreateCompensationStructure(context.Background(), admin(orgA), structureRequest(staff.ID, 1000, 0))
	require.NoError(t, err)

	// A write that bypasses the engine still cannot add a second active row
	err = mem.Insert(context.Background(), payroll.StructuresCollection, generic.Document{
		"id": generic.NewID(), "staff_id": staff.ID, "status": "active",
	})

	assert.ErrorIs(t, err, generic.ErrDuplicateKey)
}

func TestCreateStructure_StaffScoping(t *testing.T) {
	e, mem := setup(t)
	staff := registerStaff(t, e, orgB, "Other org")

	// Another organization's admin cannot see the staff member
	_, err := e.CreateCompensationStructure(context.Background(), admin(orgA), structureRequest(staff.ID, 1000, 0))
	assert.ErrorIs(t, err, generic.ErrNotFound)

	// A super admin can, and the structure lands in the staff's organization
	super := identity.Principal{UserID: generic.NewID(), Role: identity.RoleSuperAdmin}
	s, err := e.CreateCompensationStructure(context.Background(), super, structureRequest(staff.ID, 1000, 0))
	require.NoError(t, err)
	assert.Equal(t, orgB, s.OrganizationID)
	assert.Equal(t, int64(1), activeCount(t, mem, staff.ID))
}

func TestCreateStructure_RejectsNegativeComponent(t *testing.T) {
	e, _ := setup(t)
	staff := registerStaff(t, e, orgA, "Abdul Karim")
	req := structureRequest(staff.ID, 1000, 0)
	req.HouseRent = generic.NewMoney(-1)

	_, err := e.CreateCompensationStructure(context.Background(), admin(orgA), req)

	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPostPayment_ComputesNetAndLinksActive(t *testing.T) {
	e, _ := setup(t)
	ctx := context.Background()
	staff := registerStaff(t, e, orgA, "Abdul Karim")
	active, err := e.CreateCompensationStructure(ctx, admin(orgA), structureRequest(staff.ID, 1000, 200))
	require.NoError(t, err)

	paid, err := e.PostPayment(ctx, admin(orgA), paymentRequest(staff.ID, 3, 2025))

	require.NoError(t, err)
	assert.Equal(t, "1000", paid.Net.String())
	require.NotNil(t, paid.CompensationStructureID)
	assert.Equal(t, active.ID, *paid.CompensationStructureID)
	assert.Equal(t, payroll.PaymentPaid, paid.Status)
}

func TestPostPayment_WithoutStructureIsUnlinked(t *testing.T) {
	e, _ := setup(t)
	staff := registerStaff(t, e, orgA, "Abdul Karim")

	paid, err := e.PostPayment(context.Background(), admin(orgA), paymentRequest(staff.ID, 3, 2025))

	require.NoError(t, err)
	assert.Nil(t, paid.CompensationStructureID)
}

func TestPostPayment_DuplicatePeriodIsConflict(t *testing.T) {
	e, mem := setup(t)
	ctx := context.Background()
	staff := registerStaff(t, e, orgA, "Abdul Karim")

	_, err := e.PostPayment(ctx, admin(orgA), paymentRequest(staff.ID, 3, 2025))
	require.NoError(t, err)

	// Retrying the same period any number of times never adds a row
	for i := 0; i < 3; i++ {
		_, err = e.PostPayment(ctx, admin(orgA), paymentRequest(staff.ID, 3, 2025))
		var conflict *generic.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Contains(t, conflict.Reason, "Abdul Karim")
	}

	// Another month is fine
	_, err = e.PostPayment(ctx, admin(orgA), paymentRequest(staff.ID, 4, 2025))
	require.NoError(t, err)

	n, err := mem.Count(ctx, payroll.PaymentsCollection, generic.Filter{"staff_id": staff.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPostPayment_ExplicitStructureMustBelongToStaff(t *testing.T) {
	e, _ := setup(t)
	ctx := context.Background()
	staff := registerStaff(t, e, orgA, "Abdul Karim")
	other := registerStaff(t, e, orgA, "Fatema Khatun")
	foreign, err := e.CreateCompensationStructure(ctx, admin(orgA), structureRequest(other.ID, 900, 0))
	require.NoError(t, err)

	req := paymentRequest(staff.ID, 5, 2025)
	req.CompensationStructureID = foreign.ID
	_, err = e.PostPayment(ctx, admin(orgA), req)

	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestPostPayment_Validation(t *testing.T) {
	e, _ := setup(t)
	staff := registerStaff(t, e, orgA, "Abdul Karim")

	tests := []struct {
		name   string
		mutate func(*payroll.PaymentRequest)
	}{
		{"month out of range", func(r *payroll.PaymentRequest) { r.Month = 13 }},
		{"year out of range", func(r *payroll.PaymentRequest) { r.Year = 1999 }},
		{"deductions exceed gross", func(r *payroll.PaymentRequest) { r.Deductions = generic.NewMoney(5000) }},
		{"unknown method", func(r *payroll.PaymentRequest) { r.Method = "Cheque" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := paymentRequest(staff.ID, 6, 2025)
			tt.mutate(&req)
			_, err := e.PostPayment(context.Background(), admin(orgA), req)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}
}

func TestListPayments_JoinsStructure(t *testing.T) {
	e, _ := setup(t)
	ctx := context.Background()
	staff := registerStaff(t, e, orgA, "Abdul Karim")
	s, err := e.CreateCompensationStructure(ctx, admin(orgA), structureRequest(staff.ID, 1000, 200))
	require.NoError(t, err)
	_, err = e.PostPayment(ctx, admin(orgA), paymentRequest(staff.ID, 1, 2025))
	require.NoError(t, err)
	_, err = e.PostPayment(ctx, admin(orgA), paymentRequest(staff.ID, 2, 2025))
	require.NoError(t, err)

	list, err := e.ListPayments(ctx, admin(orgA), payroll.PaymentQuery{StaffID: staff.ID})

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].Month)
	require.NotNil(t, list[0].Structure)
	assert.Equal(t, s.ID, list[0].Structure.ID)
	assert.Equal(t, "1200", list[0].Structure.Total.String())

	// Another organization sees nothing
	empty, err := e.ListPayments(ctx, admin(orgB), payroll.PaymentQuery{StaffID: staff.ID})
	require.NoError(t, err)
	assert.Empty(t, empty)
}
