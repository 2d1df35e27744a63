// Package token provides a TokenVerifier implementation for HS256 bearer
// tokens signed with a server-held secret.
//
// The secret is injected at construction and never read from the process
// environment inside the component, so the verifier is testable without
// environment mutation. There is deliberately no decode-without-verify entry
// point: unverified decoding authenticates nothing and must not exist on any
// security-deciding path.
package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	tenantauth "github.com/harborlist/tenantauth-go"
)

// Verifier implements tenantauth.TokenVerifier using an HMAC-SHA256 secret.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// compile-time check
var _ tenantauth.TokenVerifier = (*Verifier)(nil)

// Option configures the Verifier.
type Option func(*Verifier)

// WithIssuer requires tokens to carry the given issuer claim.
func WithIssuer(issuer string) Option {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithLeeway sets the clock skew tolerance for expiry checks. Default: none.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) { v.leeway = d }
}

// NewVerifier creates a new HS256 token verifier with the given secret.
func NewVerifier(secret []byte, opts ...Option) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("tenantauth/token: signing secret is required")
	}
	v := &Verifier{secret: secret}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Verify validates the token's signature and expiry and returns the extracted
// claims. All failures map to tenantauth.ErrInvalidToken.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*tenantauth.Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(v.leeway))
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	parser := jwt.NewParser(parserOpts...)

	parsed, err := parser.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("tenantauth/token: %w: %v", tenantauth.ErrInvalidToken, err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("tenantauth/token: %w: malformed claims", tenantauth.ErrInvalidToken)
	}
	claims := mapToClaims(mapClaims)
	if claims.Subject == "" {
		return nil, fmt.Errorf("tenantauth/token: %w: missing subject", tenantauth.ErrInvalidToken)
	}
	return claims, nil
}

// ExtractBearer pulls the raw token out of a standard Authorization header
// value of the form "Bearer <token>". Returns the empty string when the
// header is absent or not a bearer credential.
func ExtractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// mapToClaims converts jwt.MapClaims to tenantauth.Claims.
func mapToClaims(m jwt.MapClaims) *tenantauth.Claims {
	c := &tenantauth.Claims{
		Extra: make(map[string]any),
	}

	if v, ok := m["sub"].(string); ok {
		c.Subject = v
	}
	if v, ok := m["email"].(string); ok {
		c.Email = v
	}
	if v, ok := m["iss"].(string); ok {
		c.Issuer = v
	}
	if v, ok := m["exp"].(float64); ok {
		c.ExpiresAt = time.Unix(int64(v), 0)
	}
	if v, ok := m["iat"].(float64); ok {
		c.IssuedAt = time.Unix(int64(v), 0)
	}
	if roles, ok := m["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				c.Roles = append(c.Roles, s)
			}
		}
	}

	// Non-standard claims go to Extra
	standard := map[string]bool{
		"sub": true, "email": true, "iss": true,
		"exp": true, "iat": true, "roles": true,
		"aud": true, "nbf": true, "jti": true,
	}
	for k, v := range m {
		if !standard[k] {
			c.Extra[k] = v
		}
	}

	return c
}
