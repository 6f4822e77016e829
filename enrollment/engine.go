/*
engine.go - Admission workflows

PURPOSE:
  Runs admissions, admission edits and student deletion as atomic
  sections over the document store.

ENROLLMENT STEPS (one atomic section):
  1. Resolve the guardian (explicit id, contact match, or create)
  2. For a new guardian: credential, guardian profile, back-link
  3. For each student: credential, student profile, back-link
  4. Return ids and the generated student logins

  Passwords are hashed before the section opens so the transaction is
  not held open across bcrypt work.

DELETION:
  A student and its credential are removed together. The guardian and
  any siblings are left as they are, even when the guardian has no
  children left.

SEE ALSO:
  - types.go: Documents and requests
  - username.go: Generated student logins
  - generic/atomic.go: Deadline and retry around WithTx
*/
package enrollment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/identity"
	"github.com/warp/campus-engine/metrics"
)

// DefaultStudentPassword is used when an admission names no password.
const DefaultStudentPassword = "123456"

// Engine runs admission workflows.
type Engine struct {
	store           generic.TxStore
	hasher          identity.Hasher
	logger          *slog.Logger
	metrics         *metrics.Metrics
	usernames       UsernameFunc
	defaultPassword string
	now             func() time.Time
	timeout         time.Duration
	maxAttempts     int
	atomic          *generic.Atomic
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option      { return func(e *Engine) { e.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithTxTimeout(d time.Duration) Option  { return func(e *Engine) { e.timeout = d } }
func WithMaxAttempts(n int) Option          { return func(e *Engine) { e.maxAttempts = n } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithUsernames replaces the student username generator.
func WithUsernames(fn UsernameFunc) Option { return func(e *Engine) { e.usernames = fn } }

// WithDefaultPassword sets the password given to students enrolled
// without one.
func WithDefaultPassword(pw string) Option { return func(e *Engine) { e.defaultPassword = pw } }

// New creates an enrollment engine.
func New(store generic.TxStore, hasher identity.Hasher, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		hasher:          hasher,
		logger:          slog.Default(),
		usernames:       RandomUsername,
		defaultPassword: DefaultStudentPassword,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.atomic = generic.NewAtomic(store, e.timeout, e.maxAttempts)
	return e
}

// =============================================================================
// ENROLL
// =============================================================================

type preparedStudent struct {
	input    StudentInput
	password string
	hash     string
}

// EnrollGuardianAndStudents admits one or more students under one guardian.
func (e *Engine) EnrollGuardianAndStudents(ctx context.Context, p identity.Principal, req EnrollRequest) (result EnrollResult, err error) {
	start := time.Now()
	defer func() { e.finish(ctx, "enrollment.enroll", p, start, err) }()

	if err := p.Require("enroll students", identity.RoleAdmin, identity.RoleSuperAdmin); err != nil {
		return EnrollResult{}, err
	}
	org := p.TargetOrganization(req.OrganizationID)
	if org.IsZero() {
		return EnrollResult{}, generic.NewValidationError("organization_id", "is required")
	}
	if len(req.Students) == 0 {
		return EnrollResult{}, generic.NewValidationError("students", "must contain at least 1 items")
	}
	contact := strings.TrimSpace(req.Guardian.Contact)
	if contact == "" && req.GuardianID.IsZero() {
		return EnrollResult{}, generic.NewValidationError("guardian.contact", "is required")
	}
	req.Guardian.Contact = contact

	var guardianHash string
	if req.GuardianID.IsZero() {
		if guardianHash, err = e.hasher.Hash(contact); err != nil {
			return EnrollResult{}, err
		}
	}
	students := make([]preparedStudent, len(req.Students))
	for i, in := range req.Students {
		pw := in.Password
		if pw == "" {
			pw = e.defaultPassword
		}
		hash, err := e.hasher.Hash(pw)
		if err != nil {
			return EnrollResult{}, err
		}
		students[i] = preparedStudent{input: in, password: pw, hash: hash}
	}

	now := e.now().UTC()
	err = e.atomic.Run(ctx, func(tx generic.Store) error {
		result = EnrollResult{StudentIDs: []generic.ID{}, Credentials: []IssuedCredential{}}

		guardianID, created, err := e.resolveGuardian(ctx, tx, org, req, guardianHash, now)
		if err != nil {
			return err
		}
		result.GuardianID = guardianID
		result.GuardianCreated = created

		taken := make(map[string]bool, len(students))
		for _, s := range students {
			studentID, username, err := e.admitStudent(ctx, tx, org, guardianID, req, s, taken, now)
			if err != nil {
				return err
			}
			result.StudentIDs = append(result.StudentIDs, studentID)
			result.Credentials = append(result.Credentials, IssuedCredential{
				StudentID: studentID,
				Username:  username,
				Password:  s.password,
			})
		}
		return nil
	})
	if err != nil {
		return EnrollResult{}, translate("enroll", err)
	}

	e.metrics.AddEnrolled(len(result.StudentIDs))
	return result, nil
}

func (e *Engine) resolveGuardian(ctx context.Context, tx generic.Store, org generic.ID, req EnrollRequest, hash string, now time.Time) (generic.ID, bool, error) {
	if !req.GuardianID.IsZero() {
		var g Guardian
		err := generic.FetchInto(ctx, tx, GuardiansCollection, generic.Filter{"id": req.GuardianID, "organization_id": org}, &g)
		if errors.Is(err, generic.ErrNoDocument) {
			return "", false, &generic.NotFoundError{Resource: "guardian", ID: req.GuardianID}
		}
		if err != nil {
			return "", false, err
		}
		return g.ID, false, nil
	}

	var existing Guardian
	err := generic.FetchInto(ctx, tx, GuardiansCollection, generic.Filter{"organization_id": org, "contact": req.Guardian.Contact}, &existing)
	switch {
	case err == nil:
		set, err := generic.Encode(req.Guardian)
		if err != nil {
			return "", false, err
		}
		set["updated_at"] = now
		if _, err := tx.Update(ctx, GuardiansCollection, generic.Filter{"id": existing.ID}, set); err != nil {
			return "", false, err
		}
		return existing.ID, false, nil
	case !errors.Is(err, generic.ErrNoDocument):
		return "", false, err
	}

	cred := identity.Credential{
		ID:             generic.NewID(),
		Username:       identity.NormalizeUsername(req.Guardian.Contact),
		PasswordHash:   hash,
		Role:           identity.RoleGuardian,
		OrganizationID: org,
		CreatedAt:      now,
	}
	if err := generic.InsertValue(ctx, tx, identity.CredentialsCollection, cred); err != nil {
		return "", false, err
	}

	in := req.Guardian
	g := Guardian{
		ID:               generic.NewID(),
		OrganizationID:   org,
		FatherName:       in.FatherName,
		MotherName:       in.MotherName,
		FatherOccupation: in.FatherOccupation,
		MotherOccupation: in.MotherOccupation,
		Contact:          in.Contact,
		MotherContact:    in.MotherContact,
		Email:            in.Email,
		Address:          in.Address,
		NID:              in.NID,
		CredentialID:     cred.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := generic.InsertValue(ctx, tx, GuardiansCollection, g); err != nil {
		return "", false, err
	}
	if err := backLink(ctx, tx, cred.ID, g.ID); err != nil {
		return "", false, err
	}
	return g.ID, true, nil
}

func (e *Engine) admitStudent(ctx context.Context, tx generic.Store, org, guardianID generic.ID, req EnrollRequest, s preparedStudent, taken map[string]bool, now time.Time) (generic.ID, string, error) {
	username, err := e.uniqueUsername(ctx, tx, s.input.FirstName, taken)
	if err != nil {
		return "", "", err
	}
	cred := identity.Credential{
		ID:             generic.NewID(),
		Username:       username,
		PasswordHash:   s.hash,
		Role:           identity.RoleStudent,
		OrganizationID: org,
		CreatedAt:      now,
	}
	if err := generic.InsertValue(ctx, tx, identity.CredentialsCollection, cred); err != nil {
		return "", "", err
	}

	in := s.input
	student := Student{
		ID:              generic.NewID(),
		OrganizationID:  org,
		GuardianID:      guardianID,
		CredentialID:    cred.ID,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		Gender:          in.Gender,
		DateOfBirth:     in.DateOfBirth,
		BloodGroup:      in.BloodGroup,
		ClassID:         in.ClassID,
		SectionID:       in.SectionID,
		AcademicYear:    req.AcademicYear,
		AdmissionDate:   req.AdmissionDate,
		AdmissionStatus: AdmissionStatusActive,
		Transport:       in.Transport,
		Hostel:          in.Hostel,
		Photo:           in.Photo,
		Note:            in.Note,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := generic.InsertValue(ctx, tx, StudentsCollection, student); err != nil {
		return "", "", err
	}
	if err := backLink(ctx, tx, cred.ID, student.ID); err != nil {
		return "", "", err
	}
	return student.ID, username, nil
}

func backLink(ctx context.Context, tx generic.Store, credentialID, profileID generic.ID) error {
	n, err := tx.Update(ctx, identity.CredentialsCollection, generic.Filter{"id": credentialID}, generic.Document{"profile_id": profileID})
	if err != nil {
		return err
	}
	if n != 1 {
		return generic.Internal("back-link credential", errors.New("credential vanished inside the section"))
	}
	return nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Admission is a guardian with the students touched by an update.
type Admission struct {
	Guardian Guardian  `json:"guardian"`
	Students []Student `json:"students"`
}

// UpdateAdmission merges guardian and student fields in one atomic
// section. Credentials are never touched.
func (e *Engine) UpdateAdmission(ctx context.Context, p identity.Principal, upd AdmissionUpdate) (out Admission, err error) {
	start := time.Now()
	defer func() { e.finish(ctx, "enrollment.update", p, start, err) }()

	if err := p.Require("update admissions", identity.RoleAdmin, identity.RoleSuperAdmin); err != nil {
		return Admission{}, err
	}
	if upd.GuardianID.IsZero() {
		return Admission{}, generic.NewValidationError("guardian_id", "is required")
	}

	now := e.now().UTC()
	err = e.atomic.Run(ctx, func(tx generic.Store) error {
		out = Admission{Students: []Student{}}
		guardianFilter := p.Scope(generic.Filter{"id": upd.GuardianID})
		if err := generic.FetchInto(ctx, tx, GuardiansCollection, guardianFilter, &out.Guardian); err != nil {
			if errors.Is(err, generic.ErrNoDocument) {
				return &generic.NotFoundError{Resource: "guardian", ID: upd.GuardianID}
			}
			return err
		}

		if upd.Guardian != nil {
			set, err := patchDocument(upd.Guardian)
			if err != nil {
				return err
			}
			if len(set) > 0 {
				set["updated_at"] = now
				if _, err := tx.Update(ctx, GuardiansCollection, guardianFilter, set); err != nil {
					return err
				}
			}
			if err := generic.FetchInto(ctx, tx, GuardiansCollection, guardianFilter, &out.Guardian); err != nil {
				return err
			}
		}

		for _, sp := range upd.Students {
			studentFilter := p.Scope(generic.Filter{"id": sp.ID, "guardian_id": upd.GuardianID})
			set, err := patchDocument(sp)
			if err != nil {
				return err
			}
			delete(set, "id")
			set["updated_at"] = now
			n, err := tx.Update(ctx, StudentsCollection, studentFilter, set)
			if err != nil {
				return err
			}
			if n == 0 {
				return &generic.NotFoundError{Resource: "student", ID: sp.ID}
			}
			var s Student
			if err := generic.FetchInto(ctx, tx, StudentsCollection, studentFilter, &s); err != nil {
				return err
			}
			out.Students = append(out.Students, s)
		}
		return nil
	})
	if err != nil {
		return Admission{}, translate("update admission", err)
	}
	return out, nil
}

// patchDocument encodes a patch struct and drops unset fields.
func patchDocument(patch any) (generic.Document, error) {
	doc, err := generic.Encode(patch)
	if err != nil {
		return nil, err
	}
	for k, v := range doc {
		if v == nil {
			delete(doc, k)
		}
	}
	return doc, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteStudent removes a student and its credential together.
func (e *Engine) DeleteStudent(ctx context.Context, p identity.Principal, studentID generic.ID) (err error) {
	start := time.Now()
	defer func() { e.finish(ctx, "enrollment.delete_student", p, start, err) }()

	if err := p.Require("delete students", identity.RoleAdmin, identity.RoleSuperAdmin); err != nil {
		return err
	}

	err = e.atomic.Run(ctx, func(tx generic.Store) error {
		filter := p.Scope(generic.Filter{"id": studentID})
		var s Student
		if err := generic.FetchInto(ctx, tx, StudentsCollection, filter, &s); err != nil {
			if errors.Is(err, generic.ErrNoDocument) {
				return &generic.NotFoundError{Resource: "student", ID: studentID}
			}
			return err
		}
		if _, err := tx.Delete(ctx, StudentsCollection, filter); err != nil {
			return err
		}
		if s.CredentialID.IsZero() {
			return nil
		}
		_, err := tx.Delete(ctx, identity.CredentialsCollection, generic.Filter{"id": s.CredentialID})
		return err
	})
	if err != nil {
		return translate("delete student", err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// ListGuardians returns the caller's guardians with their children count.
func (e *Engine) ListGuardians(ctx context.Context, p identity.Principal) ([]GuardianSummary, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	docs, err := e.store.FetchMany(ctx, GuardiansCollection, p.Scope(nil), generic.SortBy("father_name", false))
	if err != nil {
		return nil, generic.Internal("list guardians", err)
	}
	joined, err := generic.Join(ctx, e.store, docs, generic.JoinSpec{
		From:         StudentsCollection,
		LocalField:   "id",
		ForeignField: "guardian_id",
		As:           "children",
		Many:         true,
	})
	if err != nil {
		return nil, generic.Internal("list guardians", err)
	}

	out := make([]GuardianSummary, 0, len(joined))
	for _, doc := range joined {
		children, _ := doc["children"].([]generic.Document)
		delete(doc, "children")
		var g Guardian
		if err := generic.Decode(doc, &g); err != nil {
			return nil, generic.Internal("list guardians", err)
		}
		out = append(out, GuardianSummary{Guardian: g, Children: len(children)})
	}
	return out, nil
}

// ListStudents returns the students of one guardian.
func (e *Engine) ListStudents(ctx context.Context, p identity.Principal, guardianID generic.ID) ([]Student, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	students, err := generic.FetchAll[Student](ctx, e.store, StudentsCollection,
		p.Scope(generic.Filter{"guardian_id": guardianID}), generic.SortBy("first_name", false))
	if err != nil {
		return nil, generic.Internal("list students", err)
	}
	return students, nil
}

// =============================================================================
// ERRORS & OBSERVABILITY
// =============================================================================

// translate turns store errors that escaped the section into domain errors.
func translate(op string, err error) error {
	var dup *generic.DuplicateKeyError
	if errors.As(err, &dup) {
		switch dup.Index {
		case "ux_guardians_org_contact":
			return &generic.ConflictError{Resource: "guardian", Reason: "contact already registered in this organization"}
		case "ux_credentials_username":
			return &generic.ConflictError{Resource: "credential", Reason: "username already taken"}
		default:
			return &generic.ConflictError{Resource: dup.Collection, Reason: "duplicate " + dup.Index}
		}
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
		"role", p.Role,
		"error", err)
}
