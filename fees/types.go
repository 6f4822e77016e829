/*
Package fees keeps student fee invoices and their payment status.

PURPOSE:
  An invoice is one fee obligation of a student for one period. Its due
  amount and status are derived from amount and paid amount; callers
  never set them directly except for the explicit Overdue status.

STATE TABLE:
  paid == 0              -> Pending, due = amount
  0 < paid < amount      -> Partial, due = amount - paid
  paid >= amount         -> Paid,    due = 0 (never negative)

  Overdue is never derived. It is only stored when an update names it
  and does not also recompute.

PERIOD:
  (student_id, fee_item_id, month, year). Month is "" for yearly fees.
  One invoice per period, backed by a unique index.

SEE ALSO:
  - engine.go: CreateInvoice, UpdateInvoice, reads
*/
package fees

import (
	"time"

	"github.com/warp/campus-engine/generic"
)

const InvoicesCollection = "fees"

// Indexes declares the invoice uniqueness rules.
func Indexes() []generic.IndexSpec {
	return []generic.IndexSpec{
		{Name: "ux_fees_student_item_period", Collection: InvoicesCollection, Fields: []string{"student_id", "fee_item_id", "month", "year"}},
	}
}

// Status is the payment state of an invoice.
type Status string

const (
	StatusPending Status = "Pending"
	StatusPartial Status = "Partial"
	StatusPaid    Status = "Paid"
	StatusOverdue Status = "Overdue"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

// Months are the accepted month names. An empty month means a yearly fee.
var Months = []string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// RecomputeMode decides what UpdateInvoice does when only one of amount
// and paid_amount is present.
type RecomputeMode int

const (
	// RecomputeAlways merges the present field with the stored one and
	// recomputes due amount and status.
	RecomputeAlways RecomputeMode = iota
	// RecomputeWhenBothPresent stores the field and leaves due amount and
	// status as they were.
	RecomputeWhenBothPresent
)

// ParseRecomputeMode accepts "always" and "both".
func ParseRecomputeMode(s string) (RecomputeMode, error) {
	switch s {
	case "", "always":
		return RecomputeAlways, nil
	case "both":
		return RecomputeWhenBothPresent, nil
	}
	return 0, generic.NewValidationError("recompute", "must be one of [always, both]")
}

// Invoice is one fee obligation.
type Invoice struct {
	ID             generic.ID    `json:"id"`
	OrganizationID generic.ID    `json:"organization_id"`
	StudentID      generic.ID    `json:"student_id"`
	FeeItemID      generic.ID    `json:"fee_item_id"`
	Month          string        `json:"month"`
	Year           int           `json:"year"`
	Amount         generic.Money `json:"amount"`
	PaidAmount     generic.Money `json:"paid_amount"`
	DueAmount      generic.Money `json:"due_amount"`
	Status         Status        `json:"status"`
	PaymentDate    *time.Time    `json:"payment_date"`
	TransactionRef string        `json:"transaction_ref"`
	Remarks        string        `json:"remarks"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// CreateRequest issues an invoice.
type CreateRequest struct {
	StudentID      generic.ID    `json:"student_id"`
	FeeItemID      generic.ID    `json:"fee_item_id"`
	Month          string        `json:"month"`
	Year           int           `json:"year"`
	Amount         generic.Money `json:"amount"`
	PaidAmount     generic.Money `json:"paid_amount"`
	PaymentDate    *time.Time    `json:"payment_date"`
	TransactionRef string        `json:"transaction_ref"`
	Remarks        string        `json:"remarks"`
}

// UpdateRequest changes an invoice. Nil fields are left as stored.
type UpdateRequest struct {
	Amount         *generic.Money `json:"amount"`
	PaidAmount     *generic.Money `json:"paid_amount"`
	Status         *Status        `json:"status"`
	PaymentDate    *time.Time     `json:"payment_date"`
	TransactionRef *string        `json:"transaction_ref"`
	Remarks        *string        `json:"remarks"`
}

// Derive computes due amount and status from amount and paid amount.
func Derive(amount, paid generic.Money) (generic.Money, Status) {
	due := amount.Sub(paid).Max(generic.Zero())
	switch {
	case paid.GreaterThanOrEqual(amount):
		return due, StatusPaid
	case paid.IsPositive():
		return due, StatusPartial
	default:
		return due, StatusPending
	}
}
