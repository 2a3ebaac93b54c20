package auth

import (
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/base58"
)

func TestJWTRoundTrip(t *testing.T) {
	id, _, err := NewTestIdentity()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	token, err := GenerateJWT("secret", id.String(), time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ParseJWT("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Identity != id.String() {
		t.Errorf("identity = %q, want %q", claims.Identity, id.String())
	}
}

func TestJWTWrongSecret(t *testing.T) {
	token, err := GenerateJWT("secret", "someone", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseJWT("other-secret", token); err == nil {
		t.Error("token parsed with the wrong secret")
	}
}

func TestJWTExpired(t *testing.T) {
	token, err := GenerateJWT("secret", "someone", -time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseJWT("secret", token); err == nil {
		t.Error("expired token parsed successfully")
	}
}

func TestVerifySignature(t *testing.T) {
	id, priv, err := NewTestIdentity()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	message := []byte("escrow-login:nonce")
	sig := base58.Encode(ed25519.Sign(priv, message))

	if err := VerifySignature(id, message, sig); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
	if err := VerifySignature(id, []byte("different message"), sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("signature over wrong message accepted: %v", err)
	}
	if err := VerifySignature(id, message, "tooShort"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("malformed signature accepted: %v", err)
	}

	other, _, err := NewTestIdentity()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if err := VerifySignature(other, message, sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("signature accepted for the wrong identity: %v", err)
	}
}
