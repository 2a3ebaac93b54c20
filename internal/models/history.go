package models

import "time"

// Provenance of a HistoricalRecord.
const (
	HistorySourceOnLedger = "onledger"
	HistorySourceCached   = "cached"
)

// HistoricalRecord is the reconstructed outcome of a terminal deal whose
// record has been deleted from the ledger. Derived by replaying the event log
// or loaded from the per-identity cache.
type HistoricalRecord struct {
	Address     Address   `json:"address"`
	Client      Identity  `json:"client"`
	Freelancer  Identity  `json:"freelancer"`
	Amount      uint64    `json:"amount"`
	Status      string    `json:"status"` // complete / refunded
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
	TxSignature string    `json:"tx_signature"`
	Source      string    `json:"source"` // onledger / cached
}

// SignatureInfo is a transaction reference from a newest-first listing, prior
// to fetching the transaction's log output.
type SignatureInfo struct {
	Signature string    `json:"signature"`
	BlockTime time.Time `json:"block_time"`
}

// Transaction is one entry of the append-only public log: a settlement
// transition reference together with its encoded event output. It outlives
// the deal record it belongs to.
type Transaction struct {
	Signature  string    `json:"signature"`
	BlockTime  time.Time `json:"block_time"`
	Identities []string  `json:"identities"` // base58 parties + vault touched
	Logs       []string  `json:"logs"`       // base64 event payload lines
}
