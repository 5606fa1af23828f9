// Package token issues and verifies relay session tokens. A session names the signed-in
// user and the customers they may act for.
package token

import (
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-social-connect/internal/utils"
)

const (
	DefaultIssuer = "social-connect-relay"
	RoleAgency    = "agency"
)

// Claims is the verified content of a session token.
type Claims struct {
	ID        string    `json:"jti"`
	UserID    string    `json:"sub"`
	Customers []string  `json:"customers"`
	Roles     []string  `json:"roles,omitempty"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// IsAgency reports whether the session may read accounts of any customer.
func (c *Claims) IsAgency() bool {
	return slices.Contains(c.Roles, RoleAgency)
}

// CanActFor reports whether the session may mutate the customer's accounts.
func (c *Claims) CanActFor(customerID string) bool {
	return customerID != "" && slices.Contains(c.Customers, customerID)
}

// CanRead reports whether the session may list the customer's accounts.
func (c *Claims) CanRead(customerID string) bool {
	return c.CanActFor(customerID) || (customerID != "" && c.IsAgency())
}

// Sessions creates and verifies session tokens.
type Sessions struct {
	signer Signer
	issuer string
	expiry time.Duration
	now    func() time.Time
}

type Option func(*Sessions)

func WithIssuer(issuer string) Option {
	return func(s *Sessions) {
		s.issuer = issuer
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Sessions) {
		s.now = now
	}
}

func NewSessions(signer Signer, expiry time.Duration, opts ...Option) (*Sessions, error) {
	if signer == nil {
		return nil, errors.New("[NewSessions] signer is required")
	}
	if expiry <= 0 {
		return nil, errors.New("[NewSessions] expiry must be positive")
	}
	s := &Sessions{signer: signer, issuer: DefaultIssuer, expiry: expiry, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a session for the user.
func (s *Sessions) Issue(userID string, customers []string, agency bool) (string, *Claims, error) {
	if userID == "" {
		return "", nil, errors.New("[Sessions Issue] userID is required")
	}
	now := s.now().Truncate(time.Second)
	c := &Claims{
		ID:        uuid.NewString(),
		UserID:    userID,
		Customers: customers,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.expiry),
	}
	if agency {
		c.Roles = []string{RoleAgency}
	}

	claims := jwt.MapClaims{
		"iss":       s.issuer,
		"sub":       c.UserID,
		"customers": c.Customers,
		"iat":       c.IssuedAt.Unix(),
		"exp":       c.ExpiresAt.Unix(),
		"jti":       c.ID,
	}
	if len(c.Roles) > 0 {
		claims["roles"] = c.Roles
	}
	signed, err := s.signer.Sign(claims)
	if err != nil {
		return "", nil, errors.Wrap(err, "[Sessions Issue]")
	}
	return signed, c, nil
}

// Verify checks the signature, issuer and expiry of a raw session token.
func (s *Sessions) Verify(raw string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty session token")
	}
	parsed, err := jwt.ParseWithClaims(raw, jwt.MapClaims{}, s.signer.GetVerificationKey,
		jwt.WithValidMethods([]string{s.signer.GetSigningMethod().Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.Wrap(err, "invalid session token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("error extracting claims from session token")
	}

	c := &Claims{}
	c.ID, _ = claims["jti"].(string)
	c.UserID, _ = claims["sub"].(string)
	if c.UserID == "" {
		return nil, errors.New("session token missing sub claim")
	}
	if v, ok := claims["customers"].([]any); ok {
		c.Customers = utils.ToStringSlice(v)
	}
	if v, ok := claims["roles"].([]any); ok {
		c.Roles = utils.ToStringSlice(v)
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}
