package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/warp/campus-engine/generic"
)

// DefaultTokenTTL is how long issued access tokens stay valid.
const DefaultTokenTTL = 24 * time.Hour

// Claims represents the JWT claims for our access tokens.
type Claims struct {
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id,omitempty"`
	Username       string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Provider issues and resolves HS256 access tokens.
type Provider struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

func NewProvider(signingKey, issuer string, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Provider{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Issue signs a token for the principal.
func (p *Provider) Issue(principal Principal, username string) (string, error) {
	now := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:         principal.UserID.String(),
		Role:           string(principal.Role),
		OrganizationID: principal.OrganizationID.String(),
		Username:       username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    p.issuer,
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(p.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Resolve validates a token and returns the principal it carries.
func (p *Provider) Resolve(tokenString string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return p.signingKey, nil
	}, jwt.WithIssuer(p.issuer), jwt.WithTimeFunc(p.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, fmt.Errorf("token has expired: %w", generic.ErrUnauthenticated)
		}
		return Principal{}, fmt.Errorf("invalid token: %w", generic.ErrUnauthenticated)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, fmt.Errorf("invalid token claims: %w", generic.ErrUnauthenticated)
	}

	userID, err := generic.ParseID(claims.UserID)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid token subject: %w", generic.ErrUnauthenticated)
	}
	orgID, err := generic.ParseID(claims.OrganizationID)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid token organization: %w", generic.ErrUnauthenticated)
	}
	principal := Principal{UserID: userID, Role: Role(claims.Role), OrganizationID: orgID}
	if err := principal.Validate(); err != nil {
		return Principal{}, fmt.Errorf("%v: %w", err, generic.ErrUnauthenticated)
	}
	return principal, nil
}
