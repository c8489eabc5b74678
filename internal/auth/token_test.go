package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func mintToken(t *testing.T, secret string, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func adminClaims(expiry time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID:  "admin-1",
		IsAdmin: true,
	}
}

func TestNewVerifierRejectsBadSecrets(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		want   error
	}{
		{name: "empty", secret: "", want: ErrSecretMissing},
		{name: "whitespace only", secret: "   ", want: ErrSecretMissing},
		{name: "placeholder", secret: "your-secret-key", want: ErrSecretInsecure},
		{name: "padded placeholder", secret: "  your-secret-key\n", want: ErrSecretInsecure},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewVerifier(tc.secret); !errors.Is(err, tc.want) {
				t.Fatalf("NewVerifier(%q) error = %v, want %v", tc.secret, err, tc.want)
			}
		})
	}
}

func TestVerifyAcceptsAdminToken(t *testing.T) {
	verifier, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	token := mintToken(t, testSecret, jwt.SigningMethodHS256, adminClaims(time.Now().Add(time.Hour)))

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.UserID != "admin-1" {
		t.Fatalf("UserID = %q, want %q", claims.UserID, "admin-1")
	}
	if !claims.IsAdmin {
		t.Fatalf("IsAdmin = false, want true")
	}
}

func TestVerifyFailuresAreIndistinguishable(t *testing.T) {
	verifier, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	nonAdmin := adminClaims(time.Now().Add(time.Hour))
	nonAdmin.IsAdmin = false

	noExpiry := Claims{UserID: "admin-1", IsAdmin: true}

	cases := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.token"},
		{name: "wrong secret", token: mintToken(t, "other-secret", jwt.SigningMethodHS256, adminClaims(time.Now().Add(time.Hour)))},
		{name: "expired", token: mintToken(t, testSecret, jwt.SigningMethodHS256, adminClaims(time.Now().Add(-time.Hour)))},
		{name: "missing expiry", token: mintToken(t, testSecret, jwt.SigningMethodHS256, noExpiry)},
		{name: "non-admin", token: mintToken(t, testSecret, jwt.SigningMethodHS256, nonAdmin)},
		{name: "wrong method", token: mintToken(t, testSecret, jwt.SigningMethodHS384, adminClaims(time.Now().Add(time.Hour)))},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := verifier.Verify(tc.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Verify error = %v, want ErrInvalidToken", err)
			}
			if !strings.HasPrefix(err.Error(), ErrInvalidToken.Error()) {
				t.Fatalf("error text %q must lead with the generic message", err.Error())
			}
		})
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	verifier, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, adminClaims(time.Now().Add(time.Hour))).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	if _, err := verifier.Verify(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyAppliesLeeway(t *testing.T) {
	verifier, err := NewVerifier(testSecret, WithLeeway(2*time.Minute))
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	justExpired := mintToken(t, testSecret, jwt.SigningMethodHS256, adminClaims(time.Now().Add(-time.Minute)))
	if _, err := verifier.Verify(justExpired); err != nil {
		t.Fatalf("token inside leeway window rejected: %v", err)
	}

	longExpired := mintToken(t, testSecret, jwt.SigningMethodHS256, adminClaims(time.Now().Add(-time.Hour)))
	if _, err := verifier.Verify(longExpired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token beyond leeway accepted, error = %v", err)
	}
}
