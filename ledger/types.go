/*
Package ledger posts financial transactions against organization accounts.

PURPOSE:
  The ledger is the append-only transaction log plus the account balances
  it produces. A posting writes the transaction record and applies the
  balance delta(s) in one atomic section, so the balance always equals
  opening balance plus the signed sum of accepted postings.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: Cash, bank or mobile-banking account with a running balance
  - Transaction: Immutable Income, Expense or Transfer record
  - PostRequest: Input of PostTransaction
  - Reconciliation: Audit of a balance against its postings

BALANCE DELTAS:
  Income:   +amount on account
  Expense:  -amount on account            (requires balance >= amount)
  Transfer: -amount on account,           (requires balance >= amount)
            +amount on transfer_to account

CONCURRENCY:
  Every balance write carries a version precondition. A posting that
  loses the race sees zero matched documents and the section is retried
  from the start, so the funds check never runs against a stale balance.

SEE ALSO:
  - engine.go: OpenAccount, PostTransaction, Reconcile
  - generic/atomic.go: Retry loop
*/
package ledger

import (
	"time"

	"github.com/warp/campus-engine/generic"
)

const (
	AccountsCollection     = "accounts"
	TransactionsCollection = "transactions"
)

// Indexes declares the ledger uniqueness rules.
func Indexes() []generic.IndexSpec {
	return []generic.IndexSpec{
		{Name: "ux_accounts_org_name", Collection: AccountsCollection, Fields: []string{"organization_id", "name"}},
	}
}

// AccountType is the kind of money holder.
type AccountType string

const (
	AccountCash          AccountType = "Cash"
	AccountBank          AccountType = "Bank"
	AccountMobileBanking AccountType = "Mobile Banking"
)

// AccountStatus controls whether an account accepts postings.
type AccountStatus string

const (
	AccountActive   AccountStatus = "Active"
	AccountInactive AccountStatus = "Inactive"
)

// TxType is the kind of posting.
type TxType string

const (
	TxIncome   TxType = "Income"
	TxExpense  TxType = "Expense"
	TxTransfer TxType = "Transfer"
)

// Valid reports whether t is a known posting type.
func (t TxType) Valid() bool {
	switch t {
	case TxIncome, TxExpense, TxTransfer:
		return true
	}
	return false
}

// Debits reports whether the posting takes money out of its account.
func (t TxType) Debits() bool {
	return t == TxExpense || t == TxTransfer
}

// Account holds a running balance. Balance is only written by postings.
type Account struct {
	ID             generic.ID    `json:"id"`
	OrganizationID generic.ID    `json:"organization_id"`
	Name           string        `json:"name"`
	Type           AccountType   `json:"type"`
	AccountNumber  string        `json:"account_number"`
	OpeningBalance generic.Money `json:"opening_balance"`
	Balance        generic.Money `json:"balance"`
	Status         AccountStatus `json:"status"`
	Version        int64         `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Transaction is one immutable ledger posting.
type Transaction struct {
	ID                  generic.ID    `json:"id"`
	OrganizationID      generic.ID    `json:"organization_id"`
	Type                TxType        `json:"type"`
	Category            string        `json:"category"`
	AccountID           generic.ID    `json:"account_id"`
	TransferToAccountID *generic.ID   `json:"transfer_to_account_id"`
	Amount              generic.Money `json:"amount"`
	Date                time.Time     `json:"date"`
	Description         string        `json:"description"`
	ReferenceID         string        `json:"reference_id"`
	PostedBy            generic.ID    `json:"posted_by"`
	CreatedAt           time.Time     `json:"created_at"`
}

// OpenAccountRequest creates an account.
type OpenAccountRequest struct {
	OrganizationID generic.ID    `json:"organization_id"`
	Name           string        `json:"name"`
	Type           AccountType   `json:"type"`
	AccountNumber  string        `json:"account_number"`
	OpeningBalance generic.Money `json:"opening_balance"`
}

// PostRequest is the input of PostTransaction.
type PostRequest struct {
	Type                TxType        `json:"type"`
	Category            string        `json:"category"`
	AccountID           generic.ID    `json:"account_id"`
	TransferToAccountID generic.ID    `json:"transfer_to_account_id"`
	Amount              generic.Money `json:"amount"`
	Date                time.Time     `json:"date"`
	Description         string        `json:"description"`
	ReferenceID         string        `json:"reference_id"`
}

// TransactionQuery filters ListTransactions. A zero AccountID lists the
// whole organization.
type TransactionQuery struct {
	AccountID generic.ID
	Type      TxType
	Limit     int
	Skip      int
}

// Reconciliation compares a stored balance with its postings.
type Reconciliation struct {
	AccountID generic.ID    `json:"account_id"`
	Opening   generic.Money `json:"opening_balance"`
	Computed  generic.Money `json:"computed_balance"`
	Balance   generic.Money `json:"balance"`
	Postings  int           `json:"postings"`
	Balanced  bool          `json:"balanced"`
}

// Delta returns the signed change a posting makes to accountID.
func (t Transaction) Delta(accountID generic.ID) generic.Money {
	switch {
	case t.Type == TxIncome && t.AccountID == accountID:
		return t.Amount
	case t.Type.Debits() && t.AccountID == accountID:
		return t.Amount.Neg()
	case t.Type == TxTransfer && t.TransferToAccountID != nil && *t.TransferToAccountID == accountID:
		return t.Amount
	}
	return generic.Zero()
}
