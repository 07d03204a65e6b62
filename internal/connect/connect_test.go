package connect

import (
	"testing"

	"github.com/stripe/stripe-go/v82"
)

func TestDeriveState(t *testing.T) {
	tests := []struct {
		name    string
		signals Signals
		want    State
	}{
		{
			name:    "no account",
			signals: Signals{},
			want:    StateNotCreated,
		},
		{
			name: "no account ignores other signals",
			signals: Signals{
				ChargesEnabled:   true,
				DetailsSubmitted: true,
			},
			want: StateNotCreated,
		},
		{
			name: "details not submitted",
			signals: Signals{
				HasAccountID: true,
			},
			want: StateOnboarding,
		},
		{
			name: "charges disabled",
			signals: Signals{
				HasAccountID:     true,
				DetailsSubmitted: true,
			},
			want: StateRestricted,
		},
		{
			name: "past due requirements",
			signals: Signals{
				HasAccountID:        true,
				DetailsSubmitted:    true,
				ChargesEnabled:      true,
				RequirementsPastDue: 2,
			},
			want: StateRestricted,
		},
		{
			name: "disabled by provider",
			signals: Signals{
				HasAccountID:     true,
				DetailsSubmitted: true,
				ChargesEnabled:   true,
				DisabledReason:   "requirements.past_due",
			},
			want: StateRestricted,
		},
		{
			name: "active",
			signals: Signals{
				HasAccountID:     true,
				DetailsSubmitted: true,
				ChargesEnabled:   true,
			},
			want: StateActive,
		},
		{
			name: "currently due alone does not restrict",
			signals: Signals{
				HasAccountID:             true,
				DetailsSubmitted:         true,
				ChargesEnabled:           true,
				RequirementsCurrentlyDue: 3,
			},
			want: StateActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveState(tt.signals)
			if got != tt.want {
				t.Fatalf("DeriveState(%+v) = %s, want %s", tt.signals, got, tt.want)
			}
		})
	}
}

func TestDeriveStateTotality(t *testing.T) {
	known := map[State]bool{
		StateNotCreated: true,
		StateOnboarding: true,
		StateRestricted: true,
		StateActive:     true,
	}

	for _, hasID := range []bool{false, true} {
		for _, charges := range []bool{false, true} {
			for _, details := range []bool{false, true} {
				for _, pastDue := range []int{0, 1} {
					for _, reason := range []string{"", "under_review"} {
						s := Signals{
							HasAccountID:        hasID,
							ChargesEnabled:      charges,
							DetailsSubmitted:    details,
							RequirementsPastDue: pastDue,
							DisabledReason:      reason,
						}
						if !known[DeriveState(s)] {
							t.Fatalf("DeriveState(%+v) returned unknown state", s)
						}
					}
				}
			}
		}
	}
}

func TestExtractSignals_NilAccount(t *testing.T) {
	s := ExtractSignals(nil, "")
	if s.HasAccountID || s.ChargesEnabled || s.DetailsSubmitted {
		t.Fatalf("expected zero signals for nil account, got %+v", s)
	}
	if s.RequirementsCurrentlyDue != 0 || s.RequirementsPastDue != 0 || s.DisabledReason != "" {
		t.Fatalf("expected zero requirements for nil account, got %+v", s)
	}
}

func TestExtractSignals_NilAccountWithID(t *testing.T) {
	s := ExtractSignals(nil, "acct_123")
	if !s.HasAccountID {
		t.Fatalf("HasAccountID = false, want true")
	}
	if DeriveState(s) != StateOnboarding {
		t.Fatalf("state = %s, want %s", DeriveState(s), StateOnboarding)
	}
}

func TestExtractSignals_BlankID(t *testing.T) {
	s := ExtractSignals(nil, "   ")
	if s.HasAccountID {
		t.Fatalf("blank account id must not count as present")
	}
}

func TestExtractSignals_FullAccount(t *testing.T) {
	acct := &stripe.Account{
		ChargesEnabled:   true,
		DetailsSubmitted: true,
		Requirements: &stripe.AccountRequirements{
			CurrentlyDue:   []string{"individual.id_number"},
			PastDue:        []string{"individual.verification.document", "external_account"},
			DisabledReason: stripe.AccountRequirementsDisabledReason("requirements.past_due"),
		},
	}

	s := ExtractSignals(acct, "acct_123")

	if !s.HasAccountID || !s.ChargesEnabled || !s.DetailsSubmitted {
		t.Fatalf("unexpected signals: %+v", s)
	}
	if s.RequirementsCurrentlyDue != 1 {
		t.Fatalf("RequirementsCurrentlyDue = %d, want 1", s.RequirementsCurrentlyDue)
	}
	if s.RequirementsPastDue != 2 {
		t.Fatalf("RequirementsPastDue = %d, want 2", s.RequirementsPastDue)
	}
	if s.DisabledReason != "requirements.past_due" {
		t.Fatalf("DisabledReason = %q", s.DisabledReason)
	}
	if DeriveState(s) != StateRestricted {
		t.Fatalf("state = %s, want %s", DeriveState(s), StateRestricted)
	}
}
