// internal/token/token_test.go
package token_test

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/davidshare/ObservaShop/internal/autherr"
	"github.com/davidshare/ObservaShop/internal/token"
)

const (
	testIssuer   = "observashop-auth"
	testAudience = "observashop"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func newSigner(t *testing.T, accessTTL, refreshTTL time.Duration) interface {
	token.Signer
	token.Verifier
} {
	t.Helper()
	s, err := token.NewRS256Signer(testKey(t), testIssuer, testAudience, accessTTL, refreshTTL)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s
}

func TestAccessToken_RoundTrip(t *testing.T) {
	s := newSigner(t, 15*time.Minute, 7*24*time.Hour)

	raw, issued, err := s.SignAccess("user-1", []string{"user", "admin"})
	if err != nil {
		t.Fatalf("sign access: %v", err)
	}

	claims, err := s.VerifyAccess(raw)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.UserID() != "user-1" {
		t.Errorf("subject mismatch: %q", claims.UserID())
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "user" {
		t.Errorf("roles mismatch: %v", claims.Roles)
	}
	if claims.JTI() == "" || claims.JTI() != issued.JTI() {
		t.Errorf("jti mismatch: %q vs %q", claims.JTI(), issued.JTI())
	}
	if claims.FamilyID != "" {
		t.Errorf("access token must not carry family id")
	}
}

func TestRefreshToken_RoundTrip(t *testing.T) {
	s := newSigner(t, 15*time.Minute, 7*24*time.Hour)

	raw, _, err := s.SignRefresh("user-1", "fam-1", 3)
	if err != nil {
		t.Fatalf("sign refresh: %v", err)
	}

	claims, err := s.VerifyRefresh(raw)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if claims.FamilyID != "fam-1" || claims.Generation != 3 {
		t.Errorf("family/generation mismatch: %q gen=%d", claims.FamilyID, claims.Generation)
	}
}

func TestVerify_TypeConfusionRejected(t *testing.T) {
	s := newSigner(t, 15*time.Minute, 7*24*time.Hour)

	access, _, _ := s.SignAccess("user-1", nil)
	refresh, _, _ := s.SignRefresh("user-1", "fam-1", 0)

	if _, err := s.VerifyRefresh(access); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Errorf("access-as-refresh: want ErrTokenInvalid, got %v", err)
	}
	if _, err := s.VerifyAccess(refresh); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Errorf("refresh-as-access: want ErrTokenInvalid, got %v", err)
	}
}

func TestVerify_WrongKeyRejected(t *testing.T) {
	s := newSigner(t, 15*time.Minute, 7*24*time.Hour)
	raw, _, _ := s.SignAccess("user-1", nil)

	other, err := token.NewRS256Verifier(&testKey(t).PublicKey, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := other.VerifyAccess(raw); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Errorf("want ErrTokenInvalid, got %v", err)
	}
}

func TestVerify_WrongAudienceRejected(t *testing.T) {
	key := testKey(t)
	s, _ := token.NewRS256Signer(key, testIssuer, "other-audience", time.Minute, time.Hour)
	raw, _, _ := s.SignAccess("user-1", nil)

	v, _ := token.NewRS256Verifier(&key.PublicKey, testIssuer, testAudience)
	if _, err := v.VerifyAccess(raw); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Errorf("want ErrTokenInvalid, got %v", err)
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	s := newSigner(t, time.Millisecond, time.Millisecond)
	raw, _, err := s.SignAccess("user-1", nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := s.VerifyAccess(raw); !errors.Is(err, autherr.ErrTokenExpired) {
		t.Errorf("want ErrTokenExpired, got %v", err)
	}
}

func TestVerifySignatureOnly_AcceptsExpired(t *testing.T) {
	s := newSigner(t, time.Millisecond, time.Millisecond)
	raw, _, _ := s.SignRefresh("user-1", "fam-1", 0)
	time.Sleep(10 * time.Millisecond)

	claims, err := s.VerifySignatureOnly(raw)
	if err != nil {
		t.Fatalf("signature-only verify: %v", err)
	}
	if claims.FamilyID != "fam-1" {
		t.Errorf("family mismatch: %q", claims.FamilyID)
	}
}

func TestVerifySignatureOnly_RejectsForgery(t *testing.T) {
	s := newSigner(t, time.Minute, time.Hour)
	other := newSigner(t, time.Minute, time.Hour)
	raw, _, _ := other.SignRefresh("user-1", "fam-1", 0)

	if _, err := s.VerifySignatureOnly(raw); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Errorf("want ErrTokenInvalid, got %v", err)
	}
}

func TestRemainingTTL(t *testing.T) {
	s := newSigner(t, time.Minute, time.Hour)
	_, claims, _ := s.SignAccess("user-1", nil)

	if got := claims.RemainingTTL(time.Now()); got <= 0 || got > time.Minute {
		t.Errorf("remaining ttl out of range: %v", got)
	}
	if got := claims.RemainingTTL(time.Now().Add(2 * time.Minute)); got != 0 {
		t.Errorf("expired token must report 0, got %v", got)
	}
}

func TestSignerRejectsBadConfig(t *testing.T) {
	if _, err := token.NewRS256Signer(nil, testIssuer, testAudience, time.Minute, time.Hour); err == nil {
		t.Error("nil key must be rejected")
	}
	if _, err := token.NewRS256Signer(testKey(t), testIssuer, testAudience, 0, time.Hour); err == nil {
		t.Error("non-positive TTL must be rejected")
	}
}
