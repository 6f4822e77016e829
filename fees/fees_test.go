package fees_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/campus-engine/enrollment"
	"github.com/warp/campus-engine/fees"
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/generic/store"
	"github.com/warp/campus-engine/identity"
)

var (
	orgA    = generic.MustParseID("7a6b5c4d-3e2f-4a1b-9c8d-7e6f5a4b3c01")
	orgB    = generic.MustParseID("7a6b5c4d-3e2f-4a1b-9c8d-7e6f5a4b3c02")
	tuition = generic.MustParseID("7a6b5c4d-3e2f-4a1b-9c8d-7e6f5a4b3cff")
)

func staff(org generic.ID) identity.Principal {
	return identity.Principal{UserID: generic.NewID(), Role: identity.RoleStaff, OrganizationID: org}
}

func setup(t *testing.T, opts ...fees.Option) (*fees.Engine, generic.ID) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, generic.EnsureIndexes(ctx, mem, fees.Indexes()))
	student := enrollment.Student{ID: generic.NewID(), OrganizationID: orgA, FirstName: "Amina"}
	require.NoError(t, generic.InsertValue(ctx, mem, enrollment.StudentsCollection, student))
	return fees.New(mem, opts...), student.ID
}

func createInvoice(t *testing.T, e *fees.Engine, studentID generic.ID, month string, amount, paid int64) fees.Invoice {
	t.Helper()
	inv, err := e.CreateInvoice(context.Background(), staff(orgA), fees.CreateRequest{
		StudentID:  studentID,
		FeeItemID:  tuition,
		Month:      month,
		Year:       2025,
		Amount:     generic.NewMoney(amount),
		PaidAmount: generic.NewMoney(paid),
	})
	require.NoError(t, err)
	return inv
}

func money(v int64) *generic.Money {
	m := generic.NewMoney(v)
	return &m
}

// =============================================================================
// DERIVATION
// =============================================================================

func TestDerive_StateTable(t *testing.T) {
	tests := []struct {
		paid   int64
		due    string
		status fees.Status
	}{
		{0, "1000", fees.StatusPending},
		{400, "600", fees.StatusPartial},
		{1000, "0", fees.StatusPaid},
		{1200, "0", fees.StatusPaid},
	}
	for _, tt := range tests {
		due, status := fees.Derive(generic.NewMoney(1000), generic.NewMoney(tt.paid))
		assert.Equal(t, tt.due, due.String(), "paid=%d", tt.paid)
		assert.Equal(t, tt.status, status, "paid=%d", tt.paid)
	}
}

func TestDerive_ZeroAmountIsPaid(t *testing.T) {
	due, status := fees.Derive(generic.Zero(), generic.Zero())
	assert.True(t, due.IsZero())
	assert.Equal(t, fees.StatusPaid, status)
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateInvoice_DerivesStatus(t *testing.T) {
	e, student := setup(t)

	inv := createInvoice(t, e, student, "January", 1000, 400)

	assert.Equal(t, fees.StatusPartial, inv.Status)
	assert.Equal(t, "600", inv.DueAmount.String())
	assert.Equal(t, orgA, inv.OrganizationID)
}

func TestCreateInvoice_DuplicatePeriodIsConflict(t *testing.T) {
	e, student := setup(t)
	createInvoice(t, e, student, "January", 1000, 0)

	// Same period again
	_, err := e.CreateInvoice(context.Background(), staff(orgA), fees.CreateRequest{
		StudentID: student, FeeItemID: tuition, Month: "January", Year: 2025, Amount: generic.NewMoney(500),
	})
	assert.ErrorIs(t, err, generic.ErrConflict)

	// Another month and the yearly period are distinct
	createInvoice(t, e, student, "February", 1000, 0)
	createInvoice(t, e, student, "", 5000, 0)

	list, err := e.ListStudentInvoices(context.Background(), staff(orgA), student, "")
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestCreateInvoice_StudentOutsideOrganizationIsNotFound(t *testing.T) {
	e, student := setup(t)

	_, err := e.CreateInvoice(context.Background(), staff(orgB), fees.CreateRequest{
		StudentID: student, FeeItemID: tuition, Year: 2025, Amount: generic.NewMoney(100),
	})

	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestCreateInvoice_Validation(t *testing.T) {
	e, student := setup(t)

	_, err := e.CreateInvoice(context.Background(), staff(orgA), fees.CreateRequest{
		StudentID: student, FeeItemID: tuition, Month: "Smarch", Year: 1990, Amount: generic.NewMoney(-1),
	})

	var verr *generic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 3)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdateInvoice_BothAmountsRecompute(t *testing.T) {
	e, student := setup(t)
	inv := createInvoice(t, e, student, "March", 1000, 0)

	got, err := e.UpdateInvoice(context.Background(), staff(orgA), inv.ID, fees.UpdateRequest{
		Amount: money(1200), PaidAmount: money(1200),
	})

	require.NoError(t, err)
	assert.Equal(t, fees.StatusPaid, got.Status)
	assert.True(t, got.DueAmount.IsZero())
}

func TestUpdateInvoice_SinglePaidAmount(t *testing.T) {
	tests := []struct {
		name   string
		mode   fees.RecomputeMode
		status fees.Status
		due    string
	}{
		{"always recomputes", fees.RecomputeAlways, fees.StatusPartial, "600"},
		{"both-present mode keeps stale values", fees.RecomputeWhenBothPresent, fees.StatusPending, "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, student := setup(t, fees.WithRecomputeMode(tt.mode))
			inv := createInvoice(t, e, student, "April", 1000, 0)

			got, err := e.UpdateInvoice(context.Background(), staff(orgA), inv.ID, fees.UpdateRequest{PaidAmount: money(400)})

			require.NoError(t, err)
			assert.Equal(t, "400", got.PaidAmount.String())
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.due, got.DueAmount.String())
		})
	}
}

func TestUpdateInvoice_ExplicitOverdue(t *testing.T) {
	e, student := setup(t)
	inv := createInvoice(t, e, student, "May", 1000, 0)
	overdue := fees.StatusOverdue
	remarks := "reminder sent"

	// WHEN: Only status and remarks change
	got, err := e.UpdateInvoice(context.Background(), staff(orgA), inv.ID, fees.UpdateRequest{Status: &overdue, Remarks: &remarks})

	// THEN: Overdue is stored as given
	require.NoError(t, err)
	assert.Equal(t, fees.StatusOverdue, got.Status)
	assert.Equal(t, "reminder sent", got.Remarks)

	// WHEN: A payment arrives together with a status
	got, err = e.UpdateInvoice(context.Background(), staff(orgA), inv.ID, fees.UpdateRequest{Status: &overdue, PaidAmount: money(1000)})

	// THEN: The derived status wins
	require.NoError(t, err)
	assert.Equal(t, fees.StatusPaid, got.Status)
}

func TestUpdateInvoice_OtherOrganizationIsNotFound(t *testing.T) {
	e, student := setup(t)
	inv := createInvoice(t, e, student, "June", 1000, 0)

	_, err := e.UpdateInvoice(context.Background(), staff(orgB), inv.ID, fees.UpdateRequest{PaidAmount: money(1000)})

	assert.ErrorIs(t, err, generic.ErrNotFound)
	got, err := e.GetInvoice(context.Background(), staff(orgA), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, fees.StatusPending, got.Status)
}

func TestListStudentInvoices_FiltersByStatus(t *testing.T) {
	e, student := setup(t)
	createInvoice(t, e, student, "January", 1000, 1000)
	createInvoice(t, e, student, "February", 1000, 0)

	pending, err := e.ListStudentInvoices(context.Background(), staff(orgA), student, fees.StatusPending)

	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "February", pending[0].Month)
}

func TestParseRecomputeMode(t *testing.T) {
	m, err := fees.ParseRecomputeMode("both")
	require.NoError(t, err)
	assert.Equal(t, fees.RecomputeWhenBothPresent, m)

	m, err = fees.ParseRecomputeMode("")
	require.NoError(t, err)
	assert.Equal(t, fees.RecomputeAlways, m)

	_, err = fees.ParseRecomputeMode("sometimes")
	assert.ErrorIs(t, err, generic.ErrValidation)
}
