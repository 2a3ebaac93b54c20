package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/freelance-escrow/backend/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrChallengeNotFound = errors.New("auth: challenge not found or expired")
	ErrBadSignature      = errors.New("auth: signature verification failed")
)

const challengeKeyPrefix = "auth:challenge:"

// Challenges issues single-use login nonces and verifies the signatures
// clients produce over them. An identity is its ed25519 public key, so
// proving control of the key is the whole login.
type Challenges struct {
	client *redis.Client
	ttl    time.Duration
}

func NewChallenges(client *redis.Client, ttl time.Duration) *Challenges {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Challenges{client: client, ttl: ttl}
}

// Issue creates a fresh nonce for the identity. Re-issuing replaces any
// outstanding nonce.
func (c *Challenges) Issue(ctx context.Context, identity models.Identity) (string, error) {
	nonce := fmt.Sprintf("escrow-login:%s:%s", uuid.NewString(), identity)
	if err := c.client.Set(ctx, challengeKeyPrefix+identity.String(), nonce, c.ttl).Err(); err != nil {
		return "", err
	}
	return nonce, nil
}

// Verify checks the base58 signature over the outstanding nonce and consumes
// it. A nonce can be used once whether or not the signature matched.
func (c *Challenges) Verify(ctx context.Context, identity models.Identity, signatureB58 string) error {
	key := challengeKeyPrefix + identity.String()
	nonce, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrChallengeNotFound
	}
	if err != nil {
		return err
	}
	c.client.Del(ctx, key)

	return VerifySignature(identity, []byte(nonce), signatureB58)
}

// VerifySignature checks an ed25519 signature, base58-encoded, over message.
func VerifySignature(identity models.Identity, message []byte, signatureB58 string) error {
	sig := base58.Decode(signatureB58)
	if len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(identity[:]), message, sig) {
		return ErrBadSignature
	}
	return nil
}

// NewTestIdentity generates a keypair for tests and local tooling.
func NewTestIdentity() (models.Identity, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return models.Identity{}, nil, err
	}
	var id models.Identity
	copy(id[:], pub)
	return id, priv, nil
}
