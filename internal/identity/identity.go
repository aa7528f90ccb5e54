package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/glidestudio/glide/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/fx"
)

// Identity is the authenticated principal supplied by the external identity
// provider. The core trusts these claims once the token verifies.
type Identity struct {
	SubjectID  string
	Email      string
	GivenName  string
	FamilyName string
}

var (
	ErrMissingToken = errors.New("missing_token")
	ErrInvalidToken = errors.New("invalid_token")
)

// Verifier validates bearer tokens minted by the identity provider.
type Verifier struct {
	secret []byte
}

func NewVerifier(cfg config.Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.IdentityJWTSecret)
	if secret == "" {
		return nil, errors.New("identity jwt secret required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

type claims struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	jwt.RegisteredClaims
}

// Verify parses and validates a bearer token and returns the identity it
// asserts.
func (v *Verifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	subject := strings.TrimSpace(c.Subject)
	if subject == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		SubjectID:  subject,
		Email:      strings.TrimSpace(c.Email),
		GivenName:  strings.TrimSpace(c.GivenName),
		FamilyName: strings.TrimSpace(c.FamilyName),
	}, nil
}

type contextKey struct{}

// WithIdentity stores the verified identity on the request context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the verified identity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

var Module = fx.Module("identity",
	fx.Provide(NewVerifier),
)
