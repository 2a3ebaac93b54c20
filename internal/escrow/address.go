package escrow

import (
	"github.com/freelance-escrow/backend/internal/models"
	"lukechampine.com/blake3"
)

// addressDomainTag separates vault addresses from any other use of the hash.
const addressDomainTag = "escrow"

// DeriveAddress computes the vault address for an ordered (client, freelancer)
// pair. Any party can recompute it without a registry lookup, and the
// derivation pins at most one open deal per pair.
func DeriveAddress(client, freelancer models.Identity) models.Address {
	h := blake3.New(32, nil)
	h.Write([]byte(addressDomainTag))
	h.Write(client[:])
	h.Write(freelancer[:])
	var addr models.Address
	copy(addr[:], h.Sum(nil))
	return addr
}
