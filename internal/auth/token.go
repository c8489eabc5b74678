package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims captures the bearer-token payload the relay acts on: the subject
// identifier and whether the subject holds administrator rights.
type Claims struct {
	jwt.RegisteredClaims
	UserID  string `json:"userId,omitempty"`
	IsAdmin bool   `json:"isAdmin"`
}

// VerifierOption configures a Verifier instance.
type VerifierOption func(*Verifier)

// WithLeeway sets the clock-skew allowance applied to time-based claims.
func WithLeeway(leeway time.Duration) VerifierOption {
	return func(v *Verifier) {
		if leeway > 0 {
			v.leeway = leeway
		}
	}
}

// Verifier validates admin bearer tokens signed with a shared HMAC secret.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// insecurePlaceholderSecret ships in deployment templates and example env
// files. Refusing it at construction forces operators to provision a real
// secret instead of serving with a guessable one.
const insecurePlaceholderSecret = "your-secret-key"

// NewVerifier constructs a Verifier for the provided HS256 signing secret.
// An empty secret or the published placeholder is a configuration error.
func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, ErrSecretMissing
	}
	if trimmed == insecurePlaceholderSecret {
		return nil, ErrSecretInsecure
	}
	verifier := &Verifier{
		secret: []byte(secret),
		leeway: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	return verifier, nil
}

// Verify parses and validates the provided compact token. Every failure mode
// surfaces as ErrInvalidToken so callers cannot reveal which check rejected
// the token; the underlying cause stays wrapped for logging.
func (v *Verifier) Verify(token string) (*Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(trimmed, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.IsAdmin {
		return nil, fmt.Errorf("%w: subject lacks admin rights", ErrInvalidToken)
	}
	return claims, nil
}

var (
	// ErrInvalidToken is returned for every verification failure. Callers must
	// surface it verbatim so responses stay identical across failure causes.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrSecretMissing indicates no signing secret was configured.
	ErrSecretMissing = errors.New("jwt signing secret is required")

	// ErrSecretInsecure indicates the configured secret is the published placeholder.
	ErrSecretInsecure = errors.New("jwt signing secret is the placeholder value and must be replaced")
)
