package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/campus-engine/generic"
)

// CredentialsCollection holds login credentials for every organization.
const CredentialsCollection = "credentials"

// Credential is a login identity. Usernames are unique across all
// organizations. ProfileID points back at the guardian, student or
// staff document the credential belongs to.
type Credential struct {
	ID             generic.ID `json:"id"`
	Username       string     `json:"username"`
	PasswordHash   string     `json:"password_hash"`
	Role           Role       `json:"role"`
	OrganizationID generic.ID `json:"organization_id"`
	ProfileID      generic.ID `json:"profile_id"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Principal returns the identity a credential authenticates as.
func (c Credential) Principal() Principal {
	return Principal{UserID: c.ID, Role: c.Role, OrganizationID: c.OrganizationID}
}

// Indexes declares the credential uniqueness rules.
func Indexes() []generic.IndexSpec {
	return []generic.IndexSpec{
		{Name: "ux_credentials_username", Collection: CredentialsCollection, Fields: []string{"username"}},
	}
}

// NormalizeUsername trims and lowercases a username.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// =============================================================================
// AUTHENTICATOR - Username/password login
// =============================================================================

// Authenticator verifies credentials and issues tokens.
type Authenticator struct {
	store    generic.Store
	hasher   Hasher
	provider *Provider
}

func NewAuthenticator(store generic.Store, hasher Hasher, provider *Provider) *Authenticator {
	return &Authenticator{store: store, hasher: hasher, provider: provider}
}

// LoginResult is returned on successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	Principal Principal `json:"principal"`
	Username  string    `json:"username"`
}

// Login checks username and password and returns a signed token.
// Unknown users and wrong passwords produce the same error.
func (a *Authenticator) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return LoginResult{}, generic.NewValidationError("", "username and password are required")
	}

	var cred Credential
	err := generic.FetchInto(ctx, a.store, CredentialsCollection, generic.Filter{"username": username}, &cred)
	if errors.Is(err, generic.ErrNoDocument) {
		return LoginResult{}, fmt.Errorf("invalid credentials: %w", generic.ErrUnauthenticated)
	}
	if err != nil {
		return LoginResult{}, generic.Internal("login", err)
	}
	if err := a.hasher.Verify(password, cred.PasswordHash); err != nil {
		if errors.Is(err, generic.ErrUnauthenticated) {
			return LoginResult{}, err
		}
		return LoginResult{}, generic.Internal("login", err)
	}

	principal := cred.Principal()
	token, err := a.provider.Issue(principal, cred.Username)
	if err != nil {
		return LoginResult{}, generic.Internal("login", err)
	}
	return LoginResult{Token: token, Principal: principal, Username: cred.Username}, nil
}

// Bootstrap ensures an administrative credential exists. It is used at
// startup to seed the first super admin of a fresh database.
func Bootstrap(ctx context.Context, store generic.Store, hasher Hasher, username, password string, role Role, org generic.ID) (Credential, error) {
	username = NormalizeUsername(username)
	var existing Credential
	err := generic.FetchInto(ctx, store, CredentialsCollection, generic.Filter{"username": username}, &existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, generic.ErrNoDocument) {
		return Credential{}, generic.Internal("bootstrap credential", err)
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		return Credential{}, err
	}
	cred := Credential{
		ID:             generic.NewID(),
		Username:       username,
		PasswordHash:   hash,
		Role:           role,
		OrganizationID: org,
		CreatedAt:      time.Now().UTC(),
	}
	if err := (Principal{Role: role, OrganizationID: org}).Validate(); err != nil {
		return Credential{}, err
	}
	if err := generic.InsertValue(ctx, store, CredentialsCollection, cred); err != nil {
		return Credential{}, generic.Internal("bootstrap credential", err)
	}
	return cred, nil
}
