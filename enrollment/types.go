/*
Package enrollment admits students into an organization.

PURPOSE:
  One admission creates or reuses a guardian, creates one or more
  students, and creates a login credential for each new person, all as
  a single unit of work. If any step fails nothing is left behind: no
  orphan credential, no guardian without students, no half the siblings.

KEY CONCEPTS IN THIS FILE (types.go):
  - Guardian: Parent contact for one or more students
  - Student: Enrolled learner with admission metadata
  - EnrollRequest/EnrollResult: Admission input and outcome
  - AdmissionUpdate: Field-level edits of guardian and students

GUARDIAN RESOLUTION:
  1. Explicit guardian_id found in the organization: reuse, no overwrite
  2. Otherwise a guardian with the same contact: reuse and overwrite
     its fields from the request (an accidental duplicate admission)
  3. Otherwise: create guardian + credential (username = contact)

SEE ALSO:
  - engine.go: The workflows
  - shapes.go: Payload field tables
  - identity/credential.go: Credential documents
*/
package enrollment

import (
	"time"

	"github.com/warp/campus-engine/generic"
)

const (
	GuardiansCollection = "guardians"
	StudentsCollection  = "students"
)

// AdmissionStatusActive is set on every newly admitted student.
const AdmissionStatusActive = "Active"

// Indexes declares the enrollment uniqueness rules.
func Indexes() []generic.IndexSpec {
	return []generic.IndexSpec{
		{Name: "ux_guardians_org_contact", Collection: GuardiansCollection, Fields: []string{"organization_id", "contact"}},
	}
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// Guardian is the parent contact for one or more students.
type Guardian struct {
	ID               generic.ID `json:"id"`
	OrganizationID   generic.ID `json:"organization_id"`
	FatherName       string     `json:"father_name"`
	MotherName       string     `json:"mother_name"`
	FatherOccupation string     `json:"father_occupation"`
	MotherOccupation string     `json:"mother_occupation"`
	Contact          string     `json:"contact"`
	MotherContact    string     `json:"mother_contact"`
	Email            string     `json:"email"`
	Address          string     `json:"address"`
	NID              string     `json:"nid"`
	CredentialID     generic.ID `json:"credential_id"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Service describes optional transport or hostel enrollment.
type Service struct {
	Required bool   `json:"required"`
	Option   string `json:"option"`
}

// Student is an enrolled learner.
type Student struct {
	ID              generic.ID  `json:"id"`
	OrganizationID  generic.ID  `json:"organization_id"`
	GuardianID      generic.ID  `json:"guardian_id"`
	CredentialID    generic.ID  `json:"credential_id"`
	FirstName       string      `json:"first_name"`
	LastName        string      `json:"last_name"`
	Gender          string      `json:"gender"`
	DateOfBirth     time.Time   `json:"date_of_birth"`
	BloodGroup      string      `json:"blood_group"`
	ClassID         *generic.ID `json:"class_id"`
	SectionID       *generic.ID `json:"section_id"`
	RollNumber      string      `json:"roll_number"`
	AcademicYear    string      `json:"academic_year"`
	AdmissionDate   time.Time   `json:"admission_date"`
	AdmissionStatus string      `json:"admission_status"`
	Transport       *Service    `json:"transport,omitempty"`
	Hostel          *Service    `json:"hostel,omitempty"`
	Photo           string      `json:"photo,omitempty"`
	Note            string      `json:"note"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// GuardianSummary is a guardian with the number of enrolled children.
type GuardianSummary struct {
	Guardian
	Children int `json:"children"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// GuardianInput is the guardian descriptor of an admission.
type GuardianInput struct {
	FatherName       string `json:"father_name"`
	MotherName       string `json:"mother_name"`
	FatherOccupation string `json:"father_occupation"`
	MotherOccupation string `json:"mother_occupation"`
	Contact          string `json:"contact"`
	MotherContact    string `json:"mother_contact"`
	Email            string `json:"email"`
	Address          string `json:"address"`
	NID              string `json:"nid"`
}

// StudentInput describes one student of an admission.
type StudentInput struct {
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	Gender      string      `json:"gender"`
	DateOfBirth time.Time   `json:"date_of_birth"`
	BloodGroup  string      `json:"blood_group"`
	ClassID     *generic.ID `json:"class_id"`
	SectionID   *generic.ID `json:"section_id"`
	Transport   *Service    `json:"transport"`
	Hostel      *Service    `json:"hostel"`
	Photo       string      `json:"photo"`
	Note        string      `json:"note"`
	// Password overrides the default student password.
	Password string `json:"password"`
}

// EnrollRequest admits one or more students under one guardian.
type EnrollRequest struct {
	// OrganizationID names the target organization for super admins.
	OrganizationID generic.ID     `json:"organization_id"`
	GuardianID     generic.ID     `json:"guardian_id"`
	AcademicYear   string         `json:"academic_year"`
	AdmissionDate  time.Time      `json:"admission_date"`
	Guardian       GuardianInput  `json:"guardian"`
	Students       []StudentInput `json:"students"`
}

// IssuedCredential is a plaintext username/password pair handed back
// once so it can be given to the student.
type IssuedCredential struct {
	StudentID generic.ID `json:"student_id"`
	Username  string     `json:"username"`
	Password  string     `json:"password"`
}

// EnrollResult reports what an admission created.
type EnrollResult struct {
	GuardianID      generic.ID         `json:"guardian_id"`
	GuardianCreated bool               `json:"guardian_created"`
	StudentIDs      []generic.ID       `json:"student_ids"`
	Credentials     []IssuedCredential `json:"credentials"`
}

// GuardianPatch holds guardian fields to change. Nil means unchanged.
type GuardianPatch struct {
	FatherName       *string `json:"father_name"`
	MotherName       *string `json:"mother_name"`
	FatherOccupation *string `json:"father_occupation"`
	MotherOccupation *string `json:"mother_occupation"`
	Contact          *string `json:"contact"`
	MotherContact    *string `json:"mother_contact"`
	Email            *string `json:"email"`
	Address          *string `json:"address"`
	NID              *string `json:"nid"`
}

// StudentPatch holds student fields to change. Nil means unchanged.
type StudentPatch struct {
	ID              generic.ID  `json:"id"`
	FirstName       *string     `json:"first_name"`
	LastName        *string     `json:"last_name"`
	Gender          *string     `json:"gender"`
	DateOfBirth     *time.Time  `json:"date_of_birth"`
	BloodGroup      *string     `json:"blood_group"`
	ClassID         *generic.ID `json:"class_id"`
	SectionID       *generic.ID `json:"section_id"`
	RollNumber      *string     `json:"roll_number"`
	AdmissionStatus *string     `json:"admission_status"`
	Note            *string     `json:"note"`
}

// AdmissionUpdate edits a guardian and any of its students together.
type AdmissionUpdate struct {
	GuardianID generic.ID     `json:"guardian_id"`
	Guardian   *GuardianPatch `json:"guardian"`
	Students   []StudentPatch `json:"students"`
}
