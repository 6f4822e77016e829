/*
Package identity resolves who is calling and which organization they act for.

PURPOSE:
  Every operation runs on behalf of a Principal: {user_id, role,
  organization_id}. This package turns tokens into principals, checks
  roles, and applies tenant scoping to store filters and documents.

TENANT SCOPING:
  - Reads:  Scope(filter) adds organization_id = principal's organization
  - Writes: Stamp(doc) sets organization_id on the new document
  - super_admin is exempt from both: it sees every organization and must
    name the target organization explicitly when writing

ROLES:
  guardian, student, staff, admin, super_admin

SEE ALSO:
  - token.go: JWT issue/resolve
  - hasher.go: bcrypt password hashing
  - credential.go: Login credentials and authentication
*/
package identity

import (
	"github.com/warp/campus-engine/generic"
)

// Role is the caller's role within an organization.
type Role string

const (
	RoleGuardian   Role = "guardian"
	RoleStudent    Role = "student"
	RoleStaff      Role = "staff"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleGuardian, RoleStudent, RoleStaff, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Principal is the resolved identity of a caller.
type Principal struct {
	UserID         generic.ID `json:"user_id"`
	Role           Role       `json:"role"`
	OrganizationID generic.ID `json:"organization_id"`
}

// IsSuperAdmin reports whether the principal bypasses tenant scoping.
func (p Principal) IsSuperAdmin() bool {
	return p.Role == RoleSuperAdmin
}

// Validate checks that a non-super-admin principal belongs to an organization.
func (p Principal) Validate() error {
	if !p.Role.Valid() {
		return &generic.PermissionError{Role: string(p.Role), Operation: "act without a known role"}
	}
	if !p.IsSuperAdmin() && p.OrganizationID.IsZero() {
		return &generic.PermissionError{Role: string(p.Role), Operation: "act without an organization"}
	}
	return nil
}

// Require fails unless the principal holds one of roles.
func (p Principal) Require(operation string, roles ...Role) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return &generic.PermissionError{Role: string(p.Role), Operation: operation}
}

// Scope restricts a read filter to the principal's organization.
// The input filter is not modified.
func (p Principal) Scope(filter generic.Filter) generic.Filter {
	out := make(generic.Filter, len(filter)+1)
	for k, v := range filter {
		out[k] = v
	}
	if !p.IsSuperAdmin() {
		out["organization_id"] = p.OrganizationID
	}
	return out
}

// Stamp sets organization_id on a document being written. For a super
// admin, target names the organization; otherwise it is ignored.
func (p Principal) Stamp(doc generic.Document, target generic.ID) generic.Document {
	doc["organization_id"] = p.TargetOrganization(target)
	return doc
}

// TargetOrganization is the organization a write lands in.
func (p Principal) TargetOrganization(target generic.ID) generic.ID {
	if p.IsSuperAdmin() && !target.IsZero() {
		return target
	}
	return p.OrganizationID
}
