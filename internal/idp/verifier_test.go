package idp

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/hanumo-auth/internal/claims"
)

const testSecret = "test-privy-app-secret"

// signHS256 はテスト用にHS256で署名したIDトークンを生成する。
func signHS256(t *testing.T, secret string, c *claims.IdentityClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func validClaims(now time.Time) *claims.IdentityClaims {
	return &claims.IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "did:privy:abc",
			Audience:  jwt.ClaimStrings{"app-1"},
			Issuer:    "privy.io",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email:    "alice@example.com",
		GoogleID: "g-1",
	}
}

func TestIsPlaceholderSecret(t *testing.T) {
	for _, s := range []string{"", "   ", "your-privy-app-secret"} {
		if !IsPlaceholderSecret(s) {
			t.Errorf("IsPlaceholderSecret(%q) = false, want true", s)
		}
	}
	if IsPlaceholderSecret(testSecret) {
		t.Error("real secret should not be a placeholder")
	}
}

func TestNewVerifier_Placeholder_ReturnsErrNotConfigured(t *testing.T) {
	_, err := NewVerifier(Config{Key: "your-privy-app-secret"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestVerify_HS256_Valid(t *testing.T) {
	now := time.Now()
	v, err := NewVerifier(Config{Key: testSecret, AppID: "app-1", Issuer: "privy.io"})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	got, err := v.Verify(context.Background(), signHS256(t, testSecret, validClaims(now)))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.Subject != "did:privy:abc" {
		t.Errorf("Subject = %q, want %q", got.Subject, "did:privy:abc")
	}
	if got.Email != "alice@example.com" || got.GoogleID != "g-1" {
		t.Errorf("optional claims not decoded: %+v", got)
	}
}

func TestVerify_WrongSecret_ReturnsInvalid(t *testing.T) {
	v, _ := NewVerifier(Config{Key: testSecret})

	_, err := v.Verify(context.Background(), signHS256(t, "other-secret", validClaims(time.Now())))
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestVerify_Expired_ReturnsExpired(t *testing.T) {
	v, _ := NewVerifier(Config{Key: testSecret})

	c := validClaims(time.Now().Add(-3 * time.Hour))
	_, err := v.Verify(context.Background(), signHS256(t, testSecret, c))
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerify_AudienceMismatch_ReturnsInvalid(t *testing.T) {
	v, _ := NewVerifier(Config{Key: testSecret, AppID: "another-app"})

	_, err := v.Verify(context.Background(), signHS256(t, testSecret, validClaims(time.Now())))
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestVerify_MissingSubject_ReturnsInvalid(t *testing.T) {
	v, _ := NewVerifier(Config{Key: testSecret})

	c := validClaims(time.Now())
	c.Subject = ""
	_, err := v.Verify(context.Background(), signHS256(t, testSecret, c))
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestVerify_Malformed_ReturnsInvalid(t *testing.T) {
	v, _ := NewVerifier(Config{Key: testSecret})

	for _, token := range []string{"", "mock_token_for_testing", "eyExample.Payload.Sig"} {
		if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Verify(%q) err = %v, want ErrTokenInvalid", token, err)
		}
	}
}

func TestVerify_ES256_PEMKey(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	v, err := NewVerifier(Config{Key: pemKey})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	if algs := v.Algorithms(); len(algs) != 1 || algs[0] != "ES256" {
		t.Fatalf("Algorithms() = %v, want [ES256]", algs)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, validClaims(time.Now())).SignedString(priv)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	// HMACで署名されたトークンはES256鍵では受け付けない
	if _, err := v.Verify(context.Background(), signHS256(t, pemKey, validClaims(time.Now()))); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("HS256 token err = %v, want ErrTokenInvalid", err)
	}
}

func TestSynthesizedClaims_FixedValues(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := SynthesizedClaims(now)

	if c.Subject != SynthesizedSubject {
		t.Errorf("Subject = %q, want %q", c.Subject, SynthesizedSubject)
	}
	if c.ExpiresAt.Time.Sub(c.IssuedAt.Time) != time.Hour {
		t.Errorf("lifetime = %v, want 1h", c.ExpiresAt.Time.Sub(c.IssuedAt.Time))
	}
	if c.Email != SynthesizedEmail || c.WalletAddress != SynthesizedWallet {
		t.Errorf("unexpected canned identity: %+v", c)
	}
	if claims.ResolveLoginMethod(c) != "wallet" {
		t.Errorf("login method = %q, want wallet", claims.ResolveLoginMethod(c))
	}
}
