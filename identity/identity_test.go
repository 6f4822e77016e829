package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/generic/store"
	"github.com/warp/campus-engine/identity"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// TENANT SCOPING
// =============================================================================

func TestPrincipal_Scope_AddsOrganization(t *testing.T) {
	org := generic.NewID()
	admin := identity.Principal{UserID: generic.NewID(), Role: identity.RoleAdmin, OrganizationID: org}

	in := generic.Filter{"status": "active"}
	out := admin.Scope(in)

	assert.Equal(t, org, out["organization_id"])
	assert.Equal(t, "active", out["status"])
	assert.NotContains(t, in, "organization_id", "input filter is not modified")
}

func TestPrincipal_Scope_SuperAdminSeesAll(t *testing.T) {
	super := identity.Principal{UserID: generic.NewID(), Role: identity.RoleSuperAdmin}

	out := super.Scope(generic.Filter{"id": "x"})

	assert.NotContains(t, out, "organization_id")
	assert.Equal(t, "x", out["id"])
}

func TestPrincipal_Stamp(t *testing.T) {
	org, other := generic.NewID(), generic.NewID()

	// An admin always writes into their own organization
	admin := identity.Principal{Role: identity.RoleAdmin, OrganizationID: org}
	doc := admin.Stamp(generic.Document{}, other)
	assert.Equal(t, org, doc["organization_id"])

	// A super admin writes into the organization it names
	super := identity.Principal{Role: identity.RoleSuperAdmin}
	doc = super.Stamp(generic.Document{}, other)
	assert.Equal(t, other, doc["organization_id"])
}

func TestPrincipal_Require(t *testing.T) {
	org := generic.NewID()
	staff := identity.Principal{Role: identity.RoleStaff, OrganizationID: org}

	err := staff.Require("post transactions", identity.RoleAdmin, identity.RoleSuperAdmin)
	assert.ErrorIs(t, err, generic.ErrForbidden)

	admin := identity.Principal{Role: identity.RoleAdmin, OrganizationID: org}
	assert.NoError(t, admin.Require("post transactions", identity.RoleAdmin))

	// Non-super-admins must belong to an organization
	orphan := identity.Principal{Role: identity.RoleAdmin}
	assert.ErrorIs(t, orphan.Require("anything", identity.RoleAdmin), generic.ErrForbidden)
}

// =============================================================================
// TOKENS
// =============================================================================

func TestProvider_IssueAndResolve(t *testing.T) {
	provider := identity.NewProvider("secret", "campus", time.Hour)
	want := identity.Principal{UserID: generic.NewID(), Role: identity.RoleAdmin, OrganizationID: generic.NewID()}

	token, err := provider.Issue(want, "admin")
	require.NoError(t, err)

	got, err := provider.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestProvider_RejectsForeignSignature(t *testing.T) {
	issuer := identity.NewProvider("secret-a", "campus", time.Hour)
	verifier := identity.NewProvider("secret-b", "campus", time.Hour)

	token, err := issuer.Issue(identity.Principal{UserID: generic.NewID(), Role: identity.RoleSuperAdmin}, "root")
	require.NoError(t, err)

	_, err = verifier.Resolve(token)
	assert.ErrorIs(t, err, generic.ErrUnauthenticated)
}

func TestProvider_RejectsExpiredToken(t *testing.T) {
	provider := identity.NewProvider("secret", "campus", time.Millisecond)
	token, err := provider.Issue(identity.Principal{UserID: generic.NewID(), Role: identity.RoleSuperAdmin}, "root")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	_, err = provider.Resolve(token)
	assert.ErrorIs(t, err, generic.ErrUnauthenticated)
}

// =============================================================================
// LOGIN
// =============================================================================

func TestAuthenticator_Login(t *testing.T) {
	// GIVEN: A stored credential
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, generic.EnsureIndexes(ctx, mem, identity.Indexes()))
	hasher := identity.NewBcryptHasher(bcrypt.MinCost)
	provider := identity.NewProvider("secret", "campus", time.Hour)
	org := generic.NewID()

	cred, err := identity.Bootstrap(ctx, mem, hasher, " Principal ", "s3cret", identity.RoleAdmin, org)
	require.NoError(t, err)
	assert.Equal(t, "principal", cred.Username)

	auth := identity.NewAuthenticator(mem, hasher, provider)

	// WHEN: Logging in with the right password (username is case-insensitive)
	result, err := auth.Login(ctx, "PRINCIPAL", "s3cret")

	// THEN: The token resolves to the credential's principal
	require.NoError(t, err)
	principal, err := provider.Resolve(result.Token)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, principal.UserID)
	assert.Equal(t, org, principal.OrganizationID)
	assert.Equal(t, identity.RoleAdmin, principal.Role)

	// AND: Wrong password and unknown user fail the same way
	_, err = auth.Login(ctx, "principal", "wrong")
	assert.ErrorIs(t, err, generic.ErrUnauthenticated)
	_, err = auth.Login(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, generic.ErrUnauthenticated)
}

func TestBootstrap_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	hasher := identity.NewBcryptHasher(bcrypt.MinCost)

	first, err := identity.Bootstrap(ctx, mem, hasher, "root", "pw", identity.RoleSuperAdmin, "")
	require.NoError(t, err)
	second, err := identity.Bootstrap(ctx, mem, hasher, "root", "other", identity.RoleSuperAdmin, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	n, err := mem.Count(ctx, identity.CredentialsCollection, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
