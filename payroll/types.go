/*
Package payroll versions staff compensation and records salary payments.

PURPOSE:
  A compensation structure is a versioned set of pay components. A staff
  member has at most one active structure; creating a new one retires the
  current one in the same atomic section. Monthly payments are recorded
  once per (staff, month, year).

STATE MACHINE (per staff member):

      create B              create C
  [A active] ───────► [A inactive, B active] ───────► [.., C active]

  Retire-then-activate runs in one section. Deactivation is written
  first: if the section fails midway the store rolls back, and even a
  store without rollback could only be left with zero active structures,
  which the next create heals. The partial unique index on staff_id
  WHERE status = active makes two active structures impossible.

KEY CONCEPTS IN THIS FILE (types.go):
  - Staff: Minimal staff record payroll hangs off
  - Components: Pay components summed into the total
  - Structure: One version of a staff member's compensation
  - Payment: One monthly salary payment

SEE ALSO:
  - engine.go: Workflows
  - shapes.go: Payload field tables
*/
package payroll

import (
	"time"

	"github.com/warp/campus-engine/generic"
)

const (
	StaffCollection      = "staff"
	StructuresCollection = "compensation_structures"
	PaymentsCollection   = "salary_payments"
)

// Indexes declares the payroll uniqueness rules.
func Indexes() []generic.IndexSpec {
	return []generic.IndexSpec{
		{
			Name:       "ux_structures_active_staff",
			Collection: StructuresCollection,
			Fields:     []string{"staff_id"},
			Where:      map[string]string{"status": string(StructureActive)},
		},
		{
			Name:       "ux_payments_staff_period",
			Collection: PaymentsCollection,
			Fields:     []string{"staff_id", "month", "year"},
		},
	}
}

// StructureStatus is the lifecycle state of a compensation structure.
type StructureStatus string

const (
	StructureActive   StructureStatus = "active"
	StructureInactive StructureStatus = "inactive"
)

// PaymentMethod is how a salary was paid out.
type PaymentMethod string

const (
	MethodBank          PaymentMethod = "Bank"
	MethodMobileBanking PaymentMethod = "Mobile Banking"
	MethodCash          PaymentMethod = "Cash"
)

// PaymentStatus records whether money has actually left.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
)

// Staff is the minimal staff record payroll needs.
type Staff struct {
	ID             generic.ID `json:"id"`
	OrganizationID generic.ID `json:"organization_id"`
	Name           string     `json:"name"`
	Designation    string     `json:"designation"`
	Phone          string     `json:"phone"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Components are the pay components of a structure.
type Components struct {
	BasicSalary        generic.Money `json:"basic_salary"`
	HouseRent          generic.Money `json:"house_rent"`
	MedicalAllowance   generic.Money `json:"medical_allowance"`
	TransportAllowance generic.Money `json:"transport_allowance"`
	OtherAllowance     generic.Money `json:"other_allowance"`
}

// Total is the sum of all components.
func (c Components) Total() generic.Money {
	return generic.Sum(c.BasicSalary, c.HouseRent, c.MedicalAllowance, c.TransportAllowance, c.OtherAllowance)
}

// Structure is one version of a staff member's compensation.
type Structure struct {
	ID             generic.ID `json:"id"`
	OrganizationID generic.ID `json:"organization_id"`
	StaffID        generic.ID `json:"staff_id"`
	Components
	Total         generic.Money   `json:"total"`
	EffectiveFrom time.Time       `json:"effective_from"`
	Status        StructureStatus `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Payment is one monthly salary payment.
type Payment struct {
	ID                      generic.ID    `json:"id"`
	OrganizationID          generic.ID    `json:"organization_id"`
	StaffID                 generic.ID    `json:"staff_id"`
	CompensationStructureID *generic.ID   `json:"compensation_structure_id"`
	Month                   int           `json:"month"`
	Year                    int           `json:"year"`
	Gross                   generic.Money `json:"gross"`
	Deductions              generic.Money `json:"deductions"`
	Net                     generic.Money `json:"net"`
	PaymentDate             time.Time     `json:"payment_date"`
	Method                  PaymentMethod `json:"method"`
	TransactionRef          string        `json:"transaction_ref"`
	Note                    string        `json:"note"`
	Status                  PaymentStatus `json:"status"`
	CreatedAt               time.Time     `json:"created_at"`
}

// PaymentDetail is a payment with the structure it was linked to.
type PaymentDetail struct {
	Payment
	Structure *Structure `json:"structure"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// StaffRequest registers a staff member.
type StaffRequest struct {
	OrganizationID generic.ID `json:"organization_id"`
	Name           string     `json:"name"`
	Designation    string     `json:"designation"`
	Phone          string     `json:"phone"`
}

// StructureRequest creates a new active structure.
type StructureRequest struct {
	StaffID generic.ID `json:"staff_id"`
	Components
	EffectiveFrom time.Time `json:"effective_from"`
}

// PaymentRequest records a salary payment. CompensationStructureID is
// optional; the active structure is linked when it is absent.
type PaymentRequest struct {
	StaffID                 generic.ID    `json:"staff_id"`
	CompensationStructureID generic.ID    `json:"compensation_structure_id"`
	Month                   int           `json:"month"`
	Year                    int           `json:"year"`
	Gross                   generic.Money `json:"gross"`
	Deductions              generic.Money `json:"deductions"`
	PaymentDate             time.Time     `json:"payment_date"`
	Method                  PaymentMethod `json:"method"`
	TransactionRef          string        `json:"transaction_ref"`
	Note                    string        `json:"note"`
	Status                  PaymentStatus `json:"status"`
}
