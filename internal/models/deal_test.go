package models

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{DealStatusPending, DealStatusFunded, true},
		{DealStatusFunded, DealStatusSubmitted, true},
		{DealStatusSubmitted, DealStatusApproved, true},
		{DealStatusApproved, DealOutcomeComplete, true},

		// Dispute paths
		{DealStatusFunded, DealStatusDisputed, true},
		{DealStatusSubmitted, DealStatusDisputed, true},
		{DealStatusDisputed, DealOutcomeRefunded, true},

		// Invalid transitions
		{DealStatusPending, DealStatusSubmitted, false},
		{DealStatusPending, DealStatusDisputed, false},
		{DealStatusFunded, DealStatusApproved, false},
		{DealStatusApproved, DealStatusDisputed, false},
		{DealStatusApproved, DealOutcomeRefunded, false},
		{DealStatusDisputed, DealOutcomeComplete, false},
		{DealStatusDisputed, DealStatusFunded, false},
		{DealOutcomeComplete, DealStatusPending, false},
		{DealOutcomeRefunded, DealStatusPending, false},
		{"nonexistent", DealStatusFunded, false},
		{DealStatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestRoleOf(t *testing.T) {
	client := Identity{1}
	freelancer := Identity{2}
	stranger := Identity{3}

	deal := &EscrowDeal{Client: client, Freelancer: freelancer}

	if got := deal.RoleOf(client); got != "client" {
		t.Errorf("RoleOf(client) = %q, want client", got)
	}
	if got := deal.RoleOf(freelancer); got != "freelancer" {
		t.Errorf("RoleOf(freelancer) = %q, want freelancer", got)
	}
	if got := deal.RoleOf(stranger); got != "" {
		t.Errorf("RoleOf(stranger) = %q, want empty", got)
	}
}
