/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate an organization with
	realistic data for demos. Each scenario drives the real engines with
	the caller's principal, so every rule (roles, scoping, uniqueness)
	applies exactly as it does for API clients.

AVAILABLE SCENARIOS:
	admission:  One guardian, two students, one fee invoice each
	ledger:     Cash and bank accounts with income, expense and transfer
	payroll:    Staff member, revised salary structure, one payment
	campus:     All of the above

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "ledger"}

	Super admins add "organization_id".

NOTE:
	Scenarios add data; they do not reset. POST /api/scenarios/reset
	clears the whole store and is restricted to super admins.

SEE ALSO:
  - handlers.go: Engine-backed handlers
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/campus-engine/enrollment"
	"github.com/warp/campus-engine/fees"
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/identity"
	"github.com/warp/campus-engine/ledger"
	"github.com/warp/campus-engine/payroll"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "admission",
		Name:        "Family Admission",
		Description: "Guardian with two children admitted together, with monthly tuition invoices",
		Category:    "enrollment",
	},
	{
		ID:          "ledger",
		Name:        "Cash Book",
		Description: "Cash and bank accounts with income, expense and a transfer",
		Category:    "ledger",
	},
	{
		ID:          "payroll",
		Name:        "Salary Revision",
		Description: "Teacher with a revised salary structure and one paid month",
		Category:    "payroll",
	},
	{
		ID:          "campus",
		Name:        "Whole Campus",
		Description: "All scenarios in one organization",
		Category:    "all",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, p identity.Principal, org generic.ID, created map[string]any) error

var loaders = map[string][]scenarioLoader{
	"admission": {loadAdmissionScenario},
	"ledger":    {loadLedgerScenario},
	"payroll":   {loadPayrollScenario},
	"campus":    {loadAdmissionScenario, loadLedgerScenario, loadPayrollScenario},
}

// ListScenarios returns all available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listOf(scenarios))
}

// LoadScenario seeds the caller's organization with a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[LoadScenarioRequest](w, r, loadScenarioShape, h.MaxBodyBytes)
	if !ok {
		return
	}
	steps, found := loaders[req.ScenarioID]
	if !found {
		writeError(w, r, &generic.NotFoundError{Resource: "scenario", ID: generic.ID(req.ScenarioID)})
		return
	}

	p := principal(r)
	if err := p.Require("load scenarios", identity.RoleAdmin, identity.RoleSuperAdmin); err != nil {
		writeError(w, r, err)
		return
	}

	created := map[string]any{}
	for _, step := range steps {
		if err := step(r.Context(), h, p, req.OrganizationID, created); err != nil {
			writeError(w, r, err)
			return
		}
	}
	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID, "organization_id", p.TargetOrganization(req.OrganizationID))
	writeJSON(w, http.StatusCreated, ScenarioResult{ScenarioID: req.ScenarioID, Created: created})
}

// ResetDatabase deletes every document in the store.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := principal(r).Require("reset the database", identity.RoleSuperAdmin); err != nil {
		writeError(w, r, err)
		return
	}
	resetter, ok := h.Store.(generic.Resetter)
	if !ok {
		writeError(w, r, generic.Internal("reset", fmt.Errorf("store %T cannot be reset", h.Store)))
		return
	}
	if err := resetter.Reset(r.Context()); err != nil {
		writeError(w, r, generic.Internal("reset", err))
		return
	}
	h.Logger.Warn("database reset", "user_id", principal(r).UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadAdmissionScenario(ctx context.Context, h *Handler, p identity.Principal, org generic.ID, created map[string]any) error {
	now := time.Now().UTC()
	year := now.Year()
	res, err := h.Enrollment.EnrollGuardianAndStudents(ctx, p, enrollment.EnrollRequest{
		OrganizationID: org,
		AcademicYear:   fmt.Sprintf("%d", year),
		AdmissionDate:  now,
		Guardian: enrollment.GuardianInput{
			FatherName: "Karim Rahman",
			MotherName: "Nasrin Rahman",
			Contact:    fmt.Sprintf("01710%06d", now.UnixNano()%1_000_000),
			Address:    "House 12, Road 5, Dhanmondi",
		},
		Students: []enrollment.StudentInput{
			{FirstName: "Ayaan", LastName: "Rahman", Gender: "Male", DateOfBirth: time.Date(2015, 3, 14, 0, 0, 0, 0, time.UTC)},
			{FirstName: "Inaya", LastName: "Rahman", Gender: "Female", DateOfBirth: time.Date(2017, 9, 2, 0, 0, 0, 0, time.UTC)},
		},
	})
	if err != nil {
		return err
	}
	created["admission"] = res

	tuition := generic.NewID()
	month := fees.Months[now.Month()-1]
	var invoices []fees.Invoice
	for i, studentID := range res.StudentIDs {
		inv, err := h.Fees.CreateInvoice(ctx, p, fees.CreateRequest{
			StudentID:  studentID,
			FeeItemID:  tuition,
			Month:      month,
			Year:       year,
			Amount:     generic.NewMoney(2500),
			PaidAmount: generic.NewMoney(int64(i) * 1000),
		})
		if err != nil {
			return err
		}
		invoices = append(invoices, inv)
	}
	created["invoices"] = invoices
	return nil
}

func loadLedgerScenario(ctx context.Context, h *Handler, p identity.Principal, org generic.ID, created map[string]any) error {
	suffix := time.Now().UTC().Format("150405.000")
	cash, err := h.Ledger.OpenAccount(ctx, p, ledger.OpenAccountRequest{
		OrganizationID: org, Name: "Cash Box " + suffix, Type: ledger.AccountCash, OpeningBalance: generic.NewMoney(5000),
	})
	if err != nil {
		return err
	}
	bank, err := h.Ledger.OpenAccount(ctx, p, ledger.OpenAccountRequest{
		OrganizationID: org, Name: "School Bank " + suffix, Type: ledger.AccountBank,
	})
	if err != nil {
		return err
	}

	today := time.Now().UTC()
	postings := []ledger.PostRequest{
		{Type: ledger.TxIncome, Category: "Tuition", AccountID: cash.ID, Amount: generic.NewMoney(12000), Date: today},
		{Type: ledger.TxExpense, Category: "Utilities", AccountID: cash.ID, Amount: generic.NewMoney(1800), Date: today},
		{Type: ledger.TxTransfer, Category: "Deposit", AccountID: cash.ID, TransferToAccountID: bank.ID, Amount: generic.NewMoney(10000), Date: today},
	}
	for _, req := range postings {
		if _, err := h.Ledger.PostTransaction(ctx, p, req); err != nil {
			return err
		}
	}

	accounts := make([]ledger.Account, 0, 2)
	for _, id := range []generic.ID{cash.ID, bank.ID} {
		acc, err := h.Ledger.GetAccount(ctx, p, id)
		if err != nil {
			return err
		}
		accounts = append(accounts, acc)
	}
	created["accounts"] = accounts
	return nil
}

func loadPayrollScenario(ctx context.Context, h *Handler, p identity.Principal, org generic.ID, created map[string]any) error {
	staff, err := h.Payroll.RegisterStaff(ctx, p, payroll.StaffRequest{
		OrganizationID: org, Name: "Farhana Akter", Designation: "Senior Teacher",
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := h.Payroll.CreateCompensationStructure(ctx, p, payroll.StructureRequest{
		StaffID:       staff.ID,
		Components:    payroll.Components{BasicSalary: generic.NewMoney(30000), HouseRent: generic.NewMoney(12000)},
		EffectiveFrom: now.AddDate(-1, 0, 0),
	}); err != nil {
		return err
	}
	revised, err := h.Payroll.CreateCompensationStructure(ctx, p, payroll.StructureRequest{
		StaffID: staff.ID,
		Components: payroll.Components{
			BasicSalary:        generic.NewMoney(34000),
			HouseRent:          generic.NewMoney(13000),
			MedicalAllowance:   generic.NewMoney(2000),
			TransportAllowance: generic.NewMoney(1500),
		},
		EffectiveFrom: now,
	})
	if err != nil {
		return err
	}

	payment, err := h.Payroll.PostPayment(ctx, p, payroll.PaymentRequest{
		StaffID:     staff.ID,
		Month:       int(now.Month()),
		Year:        now.Year(),
		Gross:       revised.Total,
		Deductions:  generic.NewMoney(1500),
		PaymentDate: now,
		Method:      payroll.MethodBank,
	})
	if err != nil {
		return err
	}
	created["staff"] = staff
	created["structure"] = revised
	created["payment"] = payment
	return nil
}
