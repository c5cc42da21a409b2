package reservation

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	statex "github.com/neohoods/portal-assistant/agent/state"
)

// Workflow state keys.
const (
	KeySpaceID              = "spaceId"
	KeyStartDate            = "startDate"
	KeyEndDate              = "endDate"
	KeyStartTime            = "startTime"
	KeyEndTime              = "endTime"
	KeySummaryShown         = "summaryShown"
	KeyReservationCreated   = "reservationCreated"
	KeyReservationID        = "reservationId"
	KeyReservationStatus    = "reservationStatus"
	KeyPaymentRequired      = "paymentRequired"
	KeyPaymentLinkGenerated = "paymentLinkGenerated"
	KeyPaymentURL           = "paymentUrl"
	KeyLocale               = "locale"
	KeyStep                 = "reservationStep"
)

// Facts is the typed view of a reservation's workflow state.
type Facts struct {
	SpaceID              string `mapstructure:"spaceId"`
	StartDate            string `mapstructure:"startDate"`
	EndDate              string `mapstructure:"endDate"`
	StartTime            string `mapstructure:"startTime"`
	EndTime              string `mapstructure:"endTime"`
	SummaryShown         bool   `mapstructure:"summaryShown"`
	ReservationCreated   bool   `mapstructure:"reservationCreated"`
	ReservationID        string `mapstructure:"reservationId"`
	ReservationStatus    string `mapstructure:"reservationStatus"`
	PaymentRequired      bool   `mapstructure:"paymentRequired"`
	PaymentLinkGenerated bool   `mapstructure:"paymentLinkGenerated"`
	PaymentURL           string `mapstructure:"paymentUrl"`
	Locale               string `mapstructure:"locale"`
	Step                 string `mapstructure:"reservationStep"`
}

// FactsFrom decodes the workflow state of cc. Values written by older
// versions as strings ("true", "1") are accepted.
func FactsFrom(cc *statex.ConversationContext) (Facts, error) {
	var f Facts
	if cc == nil || len(cc.WorkflowState) == 0 {
		return f, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &f,
	})
	if err != nil {
		return f, fmt.Errorf("build facts decoder: %w", err)
	}
	if err := dec.Decode(cc.WorkflowState); err != nil {
		return f, fmt.Errorf("decode reservation facts: %w", err)
	}
	return f, nil
}

func (f Facts) HasPeriod() bool {
	return f.StartDate != "" && f.EndDate != ""
}

// DeriveStep returns the most advanced step consistent with f. A stored
// PAYMENT_CONFIRMED is kept: only the payment event sets it. A stored
// CHOOSE_TARGET is kept while no target is known, since the user already
// stated their need.
func DeriveStep(f Facts) Step {
	stored, _ := ParseStep(f.Step)
	if stored == StepPaymentConfirmed {
		return StepPaymentConfirmed
	}
	switch {
	case f.ReservationCreated && (f.PaymentLinkGenerated || f.PaymentRequired):
		return StepPaymentInstructions
	case f.ReservationCreated, f.SummaryShown:
		return StepComplete
	case f.SpaceID != "" && f.HasPeriod():
		return StepConfirmSummary
	case f.SpaceID != "":
		return StepChoosePeriod
	case f.HasPeriod(), stored == StepChooseTarget:
		return StepChooseTarget
	default:
		return StepRequestInfo
	}
}

// clearFrom drops the facts a backward switch to step invalidates.
func clearFrom(cc *statex.ConversationContext, step Step) {
	switch step {
	case StepRequestInfo:
		cc.Delete(KeySpaceID, KeyStartDate, KeyEndDate, KeyStartTime, KeyEndTime)
	case StepChooseTarget:
		cc.Delete(KeySpaceID)
	case StepChoosePeriod:
		cc.Delete(KeyStartDate, KeyEndDate, KeyStartTime, KeyEndTime)
	}
	cc.Delete(KeySummaryShown)
}
