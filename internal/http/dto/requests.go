package dto

type AuthChallengeRequest struct {
	Identity string `json:"identity"` // base58 ed25519 public key
}

type AuthVerifyRequest struct {
	Identity  string `json:"identity"`
	Signature string `json:"signature"` // base58, over the issued challenge
}

type InitializeEscrowRequest struct {
	Freelancer         string `json:"freelancer"`
	Amount             uint64 `json:"amount"`
	DisputeTimeoutDays int    `json:"dispute_timeout_days"`
}

type SubmitWorkRequest struct {
	WorkLink string `json:"work_link"`
}

type AirdropRequest struct {
	Amount uint64 `json:"amount"`
}
