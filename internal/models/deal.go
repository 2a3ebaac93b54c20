package models

import "time"

// Deal statuses. Complete and Refunded are terminal: the record is deleted
// when they are reached, so they never appear on a stored deal.
const (
	DealStatusPending   = "pending"
	DealStatusFunded    = "funded"
	DealStatusSubmitted = "submitted"
	DealStatusApproved  = "approved"
	DealStatusDisputed  = "disputed"
)

// Terminal outcomes, observable only through the event log.
const (
	DealOutcomeComplete = "complete"
	DealOutcomeRefunded = "refunded"
)

// Valid state transitions: from -> []to. Terminal outcomes appear as targets
// only; a stored deal never carries them.
var ValidDealTransitions = map[string][]string{
	DealStatusPending:   {DealStatusFunded},
	DealStatusFunded:    {DealStatusSubmitted, DealStatusDisputed},
	DealStatusSubmitted: {DealStatusApproved, DealStatusDisputed},
	DealStatusApproved:  {DealOutcomeComplete},
	DealStatusDisputed:  {DealOutcomeRefunded},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidDealTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// EscrowDeal is the authoritative record for one open deal. Its address is
// derived from the party pair, so at most one open deal exists per pair. The
// record and its vault share a lifecycle: terminal settlement deletes both.
type EscrowDeal struct {
	Address            Address    `json:"address"`
	Client             Identity   `json:"client"`
	Freelancer         Identity   `json:"freelancer"`
	Amount             uint64     `json:"amount"`
	Status             string     `json:"status"`
	WorkLink           string     `json:"work_link"`
	DisputeTimeoutDays int        `json:"dispute_timeout_days"`
	CreatedAt          time.Time  `json:"created_at"`
	FundedAt           *time.Time `json:"funded_at,omitempty"`
	SubmittedAt        *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	DisputedAt         *time.Time `json:"disputed_at,omitempty"`
}

// RoleOf reports which role the caller holds on this deal, or "" for neither.
func (d *EscrowDeal) RoleOf(caller Identity) string {
	switch caller {
	case d.Client:
		return "client"
	case d.Freelancer:
		return "freelancer"
	}
	return ""
}
