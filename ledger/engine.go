package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/identity"
	"github.com/warp/campus-engine/metrics"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine posts transactions and maintains account balances.
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
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithMaxAttempts bounds how often a posting is retried after losing a
// race on an account balance.
func WithMaxAttempts(n int) Option { return func(e *Engine) { e.maxAttempts = n } }

// New creates a ledger engine.
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
// ACCOUNTS
// =============================================================================

// OpenAccount creates an active account whose balance starts at the
// opening balance.
func (e *Engine) OpenAccount(ctx context.Context, p identity.Principal, req OpenAccountRequest) (acc Account, err error) {
	start := time.Now()
	defer func() { e.finish(ctx, "ledger.open_account", p, start, err) }()

	if err := p.Require("open accounts", writers...); err != nil {
		return Account{}, err
	}
	org := p.TargetOrganization(req.OrganizationID)
	if org.IsZero() {
		return Account{}, generic.NewValidationError("organization_id", "is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return Account{}, generic.NewValidationError("name", "is required")
	}
	switch req.Type {
	case AccountCash, AccountBank, AccountMobileBanking:
	default:
		return Account{}, generic.NewValidationError("type", "must be one of [Cash, Bank, Mobile Banking]")
	}

	now := e.now().UTC()
	acc = Account{
		ID:             generic.NewID(),
		OrganizationID: org,
		Name:           strings.TrimSpace(req.Name),
		Type:           req.Type,
		AccountNumber:  req.AccountNumber,
		OpeningBalance: req.OpeningBalance,
		Balance:        req.OpeningBalance,
		Status:         AccountActive,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := generic.InsertValue(ctx, e.store, AccountsCollection, acc); err != nil {
		return Account{}, translate("open account", err)
	}
	return acc, nil
}

// GetAccount returns one account of the caller's organization.
func (e *Engine) GetAccount(ctx context.Context, p identity.Principal, id generic.ID) (Account, error) {
	if err := p.Require("read accounts", readers...); err != nil {
		return Account{}, err
	}
	acc, err := loadAccount(ctx, e.store, p.Scope(generic.Filter{"id": id}), id)
	if err != nil {
		return Account{}, translate("get account", err)
	}
	return acc, nil
}

// ListAccounts returns the caller's accounts by name.
func (e *Engine) ListAccounts(ctx context.Context, p identity.Principal) ([]Account, error) {
	if err := p.Require("read accounts", readers...); err != nil {
		return nil, err
	}
	accounts, err := generic.FetchAll[Account](ctx, e.store, AccountsCollection, p.Scope(nil), generic.SortBy("name", false))
	if err != nil {
		return nil, generic.Internal("list accounts", err)
	}
	return accounts, nil
}

// SetAccountStatus activates or deactivates an account. Inactive
// accounts reject postings but keep their history.
func (e *Engine) SetAccountStatus(ctx context.Context, p identity.Principal, id generic.ID, status AccountStatus) error {
	if err := p.Require("change account status", writers...); err != nil {
		return err
	}
	if status != AccountActive && status != AccountInactive {
		return generic.NewValidationError("status", "must be one of [Active, Inactive]")
	}
	n, err := e.store.Update(ctx, AccountsCollection, p.Scope(generic.Filter{"id": id}),
		generic.Document{"status": status, "updated_at": e.now().UTC()})
	if err != nil {
		return generic.Internal("set account status", err)
	}
	if n == 0 {
		return &generic.NotFoundError{Resource: "account", ID: id}
	}
	return nil
}

// =============================================================================
// POSTING
// =============================================================================

// PostTransaction validates a posting, inserts the transaction record and
// applies the balance delta(s) in one atomic section.
func (e *Engine) PostTransaction(ctx context.Context, p identity.Principal, req PostRequest) (posted Transaction, err error) {
	start := time.Now()
	defer func() { e.finish(ctx, "ledger.post", p, start, err) }()

	if err := p.Require("post transactions", writers...); err != nil {
		return Transaction{}, err
	}
	if err := validatePost(req); err != nil {
		return Transaction{}, err
	}

	err = e.atomic.Run(ctx, func(tx generic.Store) error {
		source, err := loadAccount(ctx, tx, p.Scope(generic.Filter{"id": req.AccountID}), req.AccountID)
		if err != nil {
			return err
		}
		if source.Status != AccountActive {
			return generic.NewValidationError("account_id", "account %s is inactive", source.ID)
		}
		if req.Type.Debits() && source.Balance.LessThan(req.Amount) {
			return &generic.InsufficientFundsError{
				AccountID: source.ID,
				Available: source.Balance,
				Requested: req.Amount,
			}
		}

		var dest Account
		if req.Type == TxTransfer {
			// The destination must live in the source's organization,
			// including for super admins.
			filter := generic.Filter{"id": req.TransferToAccountID, "organization_id": source.OrganizationID}
			if dest, err = loadAccount(ctx, tx, filter, req.TransferToAccountID); err != nil {
				return err
			}
			if dest.Status != AccountActive {
				return generic.NewValidationError("transfer_to_account_id", "account %s is inactive", dest.ID)
			}
		}

		now := e.now().UTC()
		posted = Transaction{
			ID:             generic.NewID(),
			OrganizationID: source.OrganizationID,
			Type:           req.Type,
			Category:       req.Category,
			AccountID:      source.ID,
			Amount:         req.Amount,
			Date:           req.Date.UTC(),
			Description:    req.Description,
			ReferenceID:    req.ReferenceID,
			PostedBy:       p.UserID,
			CreatedAt:      now,
		}
		if req.Type == TxTransfer {
			posted.TransferToAccountID = generic.IDPtr(dest.ID)
		}
		if err := generic.InsertValue(ctx, tx, TransactionsCollection, posted); err != nil {
			return err
		}

		if err := applyDelta(ctx, tx, source, posted.Delta(source.ID), now); err != nil {
			return err
		}
		if req.Type == TxTransfer {
			return applyDelta(ctx, tx, dest, posted.Delta(dest.ID), now)
		}
		return nil
	})
	if err != nil {
		return Transaction{}, translate("post transaction", err)
	}

	e.metrics.AddPosted(string(posted.Type), posted.Amount)
	return posted, nil
}

func validatePost(req PostRequest) error {
	var fields []generic.FieldError
	add := func(field, msg string) { fields = append(fields, generic.FieldError{Field: field, Message: msg}) }

	if !req.Type.Valid() {
		add("type", "must be one of [Income, Expense, Transfer]")
	}
	if req.AccountID.IsZero() {
		add("account_id", "is required")
	}
	if req.Amount.IsNegative() {
		add("amount", "must be greater than or equal to 0")
	}
	switch {
	case req.Type == TxTransfer && req.TransferToAccountID.IsZero():
		add("transfer_to_account_id", "is required for Transfer")
	case req.Type == TxTransfer && req.TransferToAccountID == req.AccountID:
		add("transfer_to_account_id", "must differ from account_id")
	case req.Type != TxTransfer && !req.TransferToAccountID.IsZero():
		add("transfer_to_account_id", "is only allowed for Transfer")
	}
	if req.Date.IsZero() {
		add("date", "is required")
	}
	if len(fields) > 0 {
		return &generic.ValidationError{Fields: fields}
	}
	return nil
}

// applyDelta writes the new balance guarded by the version read earlier
// in the same section.
func applyDelta(ctx context.Context, tx generic.Store, acc Account, delta generic.Money, now time.Time) error {
	n, err := tx.Update(ctx, AccountsCollection,
		generic.Filter{"id": acc.ID, "version": acc.Version},
		generic.Document{
			"balance":    acc.Balance.Add(delta),
			"version":    acc.Version + 1,
			"updated_at": now,
		})
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func loadAccount(ctx context.Context, s generic.Store, filter generic.Filter, id generic.ID) (Account, error) {
	var acc Account
	err := generic.FetchInto(ctx, s, AccountsCollection, filter, &acc)
	if errors.Is(err, generic.ErrNoDocument) {
		return Account{}, &generic.NotFoundError{Resource: "account", ID: id}
	}
	return acc, err
}

// =============================================================================
// READS
// =============================================================================

// ListTransactions returns postings newest first. With an account id it
// includes transfers into that account.
func (e *Engine) ListTransactions(ctx context.Context, p identity.Principal, q TransactionQuery) ([]Transaction, error) {
	if err := p.Require("read transactions", readers...); err != nil {
		return nil, err
	}
	base := p.Scope(nil)
	if q.Type != "" {
		base["type"] = q.Type
	}
	newestFirst := generic.FindOptions{Sort: []generic.SortField{{Field: "date", Desc: true}, {Field: "created_at", Desc: true}}}

	if q.AccountID.IsZero() {
		opts := newestFirst
		opts.Limit, opts.Skip = q.Limit, q.Skip
		txs, err := generic.FetchAll[Transaction](ctx, e.store, TransactionsCollection, base, opts)
		if err != nil {
			return nil, generic.Internal("list transactions", err)
		}
		return txs, nil
	}

	out, err := generic.FetchAll[Transaction](ctx, e.store, TransactionsCollection, base.With("account_id", q.AccountID), generic.FindOptions{})
	if err != nil {
		return nil, generic.Internal("list transactions", err)
	}
	incoming, err := generic.FetchAll[Transaction](ctx, e.store, TransactionsCollection, base.With("transfer_to_account_id", q.AccountID), generic.FindOptions{})
	if err != nil {
		return nil, generic.Internal("list transactions", err)
	}
	out = append(out, incoming...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, q.Skip, q.Limit), nil
}

func page[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Reconcile recomputes an account balance from its opening balance and
// postings and compares it with the stored balance.
func (e *Engine) Reconcile(ctx context.Context, p identity.Principal, accountID generic.ID) (Reconciliation, error) {
	if err := p.Require("reconcile accounts", readers...); err != nil {
		return Reconciliation{}, err
	}

	var rec Reconciliation
	// Read inside a section so balance and postings are one snapshot.
	err := e.store.WithTx(ctx, func(tx generic.Store) error {
		acc, err := loadAccount(ctx, tx, p.Scope(generic.Filter{"id": accountID}), accountID)
		if err != nil {
			return err
		}
		scope := generic.Filter{"organization_id": acc.OrganizationID}
		own, err := generic.FetchAll[Transaction](ctx, tx, TransactionsCollection, scope.With("account_id", acc.ID), generic.FindOptions{})
		if err != nil {
			return err
		}
		incoming, err := generic.FetchAll[Transaction](ctx, tx, TransactionsCollection, scope.With("transfer_to_account_id", acc.ID), generic.FindOptions{})
		if err != nil {
			return err
		}

		computed := acc.OpeningBalance
		for _, t := range append(own, incoming...) {
			computed = computed.Add(t.Delta(acc.ID))
		}
		rec = Reconciliation{
			AccountID: acc.ID,
			Opening:   acc.OpeningBalance,
			Computed:  computed,
			Balance:   acc.Balance,
			Postings:  len(own) + len(incoming),
			Balanced:  computed.Equal(acc.Balance),
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, translate("reconcile", err)
	}
	if !rec.Balanced {
		e.logger.WarnContext(ctx, "account balance drift",
			"account_id", rec.AccountID,
			"balance", rec.Balance.String(),
			"computed", rec.Computed.String())
	}
	return rec, nil
}

// reconcileWorkers bounds concurrent reconciliations in ReconcileAll.
const reconcileWorkers = 4

// ReconcileAll reconciles every account visible to the principal, in the
// order ListAccounts returns them. The first failure cancels the rest.
func (e *Engine) ReconcileAll(ctx context.Context, p identity.Principal) ([]Reconciliation, error) {
	accounts, err := e.ListAccounts(ctx, p)
	if err != nil {
		return nil, err
	}

	out := make([]Reconciliation, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileWorkers)
	for i, acc := range accounts {
		g.Go(func() error {
			rec, err := e.Reconcile(gctx, p, acc.ID)
			if err != nil {
				return err
			}
			out[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// ERRORS & OBSERVABILITY
// =============================================================================

func translate(op string, err error) error {
	var dup *generic.DuplicateKeyError
	switch {
	case errors.As(err, &dup):
		return &generic.ConflictError{Resource: "account", Reason: "an account with this name already exists"}
	case errors.Is(err, generic.ErrConcurrentModification):
		return &generic.ConflictError{Resource: "account", Reason: "balance changed concurrently, retry the posting"}
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
