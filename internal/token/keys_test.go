// internal/token/keys_test.go
package token_test

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidshare/ObservaShop/internal/token"
)

func TestLoadKeys_RoundTrip(t *testing.T) {
	key := testKey(t)
	dir := t.TempDir()

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	privPath := filepath.Join(dir, "jwt_rsa.pem")
	pubPath := filepath.Join(dir, "jwt_rsa.pub.pem")
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		t.Fatalf("write private: %v", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		t.Fatalf("write public: %v", err)
	}

	priv, err := token.LoadPrivateKey(privPath)
	if err != nil {
		t.Fatalf("load private: %v", err)
	}
	if priv.N.Cmp(key.N) != 0 {
		t.Error("private key modulus mismatch")
	}

	pub, err := token.LoadPublicKey(pubPath)
	if err != nil {
		t.Fatalf("load public: %v", err)
	}
	if pub.N.Cmp(key.N) != 0 {
		t.Error("public key modulus mismatch")
	}
}

func TestLoadKeys_PKCS8(t *testing.T) {
	key := testKey(t)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := token.ParsePrivateKeyPEM(data)
	if err != nil {
		t.Fatalf("parse pkcs8: %v", err)
	}
	if parsed.N.Cmp(key.N) != 0 {
		t.Error("key modulus mismatch")
	}
}

func TestLoadKeys_Garbage(t *testing.T) {
	if _, err := token.ParsePrivateKeyPEM([]byte("not a key")); err == nil {
		t.Error("garbage private key must be rejected")
	}
	if _, err := token.ParsePublicKeyPEM([]byte("not a key")); err == nil {
		t.Error("garbage public key must be rejected")
	}
	if _, err := token.LoadPrivateKey("/nonexistent/path"); err == nil {
		t.Error("missing file must be rejected")
	}
}
