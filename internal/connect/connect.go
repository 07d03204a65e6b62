// Package connect содержит вывод состояния онбординга подключённого счёта Stripe.
package connect

import (
	"strings"

	"github.com/stripe/stripe-go/v82"
)

// State описывает состояние онбординга подключённого счёта.
type State string

const (
	StateNotCreated State = "not_created"
	StateOnboarding State = "onboarding"
	StateRestricted State = "restricted"
	StateActive     State = "active"
)

// Signals — нормализованный срез состояния подключённого счёта.
// Вычисляется заново на каждый запрос и никогда не кэшируется:
// провайдер может отозвать возможности счёта в любой момент.
type Signals struct {
	HasAccountID             bool   `json:"has_account_id"`
	ChargesEnabled           bool   `json:"charges_enabled"`
	DetailsSubmitted         bool   `json:"details_submitted"`
	RequirementsCurrentlyDue int    `json:"requirements_currently_due"`
	RequirementsPastDue      int    `json:"requirements_past_due"`
	DisabledReason           string `json:"disabled_reason,omitempty"`
}

// ExtractSignals нормализует сырой снимок счёта Stripe в Signals.
// Нулевой acct допустим и означает, что счёт ещё не создан либо недоступен.
func ExtractSignals(acct *stripe.Account, accountID string) Signals {
	s := Signals{
		HasAccountID: strings.TrimSpace(accountID) != "",
	}
	if acct == nil {
		return s
	}

	s.ChargesEnabled = acct.ChargesEnabled
	s.DetailsSubmitted = acct.DetailsSubmitted
	if acct.Requirements != nil {
		s.RequirementsCurrentlyDue = len(acct.Requirements.CurrentlyDue)
		s.RequirementsPastDue = len(acct.Requirements.PastDue)
		s.DisabledReason = string(acct.Requirements.DisabledReason)
	}
	return s
}

// DeriveState — чистая функция Signals -> State.
// Правила применяются по порядку, результат всегда одно из четырёх состояний.
func DeriveState(s Signals) State {
	switch {
	case !s.HasAccountID:
		return StateNotCreated
	case !s.DetailsSubmitted:
		return StateOnboarding
	case !s.ChargesEnabled || s.RequirementsPastDue > 0 || s.DisabledReason != "":
		return StateRestricted
	default:
		return StateActive
	}
}
