package models

import (
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// Identity is a 32-byte ed25519 public key identifying a party on the ledger.
type Identity [32]byte

// Address identifies a custody vault. It shares the key space with Identity:
// a vault address is derived, not generated, but lives in the same 32-byte
// namespace so the transaction log can index both uniformly.
type Address = Identity

func (id Identity) String() string {
	return base58.Encode(id[:])
}

func (id Identity) IsZero() bool {
	return id == Identity{}
}

func ParseIdentity(s string) (Identity, error) {
	var id Identity
	raw := base58.Decode(s)
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid identity %q: want %d bytes, got %d", s, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id Identity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

func (id *Identity) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("identity must be a base58 string")
	}
	parsed, err := ParseIdentity(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
