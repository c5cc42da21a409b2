package reservation

import (
	"fmt"
	"strings"
)

type Step string

const (
	StepRequestInfo         Step = "REQUEST_INFO"
	StepChooseTarget        Step = "CHOOSE_TARGET"
	StepChoosePeriod        Step = "CHOOSE_PERIOD"
	StepConfirmSummary      Step = "CONFIRM_SUMMARY"
	StepComplete            Step = "COMPLETE"
	StepPaymentInstructions Step = "PAYMENT_INSTRUCTIONS"
	StepPaymentConfirmed    Step = "PAYMENT_CONFIRMED"
)

var stepOrder = []Step{
	StepRequestInfo,
	StepChooseTarget,
	StepChoosePeriod,
	StepConfirmSummary,
	StepComplete,
	StepPaymentInstructions,
	StepPaymentConfirmed,
}

// ParseStep accepts step names in any case. Legacy names of the space
// workflow are mapped to their current step.
func ParseStep(raw string) (Step, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	switch normalized {
	case "REQUEST_SPACE_INFO":
		return StepRequestInfo, true
	case "CHOOSE_SPACE":
		return StepChooseTarget, true
	case "CONFIRM_RESERVATION_SUMMARY":
		return StepConfirmSummary, true
	case "COMPLETE_RESERVATION":
		return StepComplete, true
	}
	for _, s := range stepOrder {
		if string(s) == normalized {
			return s, true
		}
	}
	return "", false
}

// Rank orders steps along the workflow. Unknown steps rank -1.
func (s Step) Rank() int {
	for i, v := range stepOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// BackendOnly reports steps that never call the model.
func (s Step) BackendOnly() bool {
	switch s {
	case StepConfirmSummary, StepPaymentInstructions, StepPaymentConfirmed:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusCompleted  Status = "COMPLETED"
	StatusCanceled   Status = "CANCELED"
	StatusError      Status = "ERROR"
	StatusSwitchStep Status = "SWITCH_STEP"
)

// ParseStatus maps a model status to a Status. ASK_USER and ANSWER_USER are
// accepted as PENDING and CANCEL as CANCELED.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "ASK_USER", "ANSWER_USER":
		return StatusPending, true
	case "COMPLETED", "COMPLETE":
		return StatusCompleted, true
	case "CANCELED", "CANCELLED", "CANCEL":
		return StatusCanceled, true
	case "ERROR":
		return StatusError, true
	case "SWITCH_STEP":
		return StatusSwitchStep, true
	default:
		return "", false
	}
}

var allowedTransitions = map[Step][]Step{
	StepRequestInfo:         {StepRequestInfo, StepChooseTarget},
	StepChooseTarget:        {StepChooseTarget, StepChoosePeriod, StepConfirmSummary},
	StepChoosePeriod:        {StepChoosePeriod, StepChooseTarget, StepConfirmSummary},
	StepConfirmSummary:      {StepConfirmSummary, StepComplete},
	StepComplete:            {StepPaymentInstructions},
	StepPaymentInstructions: {StepPaymentInstructions},
}

// TransitionError explains a refused SWITCH_STEP.
type TransitionError struct {
	Code string
	From Step
	To   Step
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", e.Code, e.From, e.To)
}

const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeMissingTarget     = "MISSING_TARGET"
	CodeMissingPeriod     = "MISSING_PERIOD"
)

// ValidateTransition checks a switch from one step to another. facts must
// already include the payload of the switching result.
func ValidateTransition(from, to Step, facts Facts) error {
	allowed := false
	for _, s := range allowedTransitions[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return &TransitionError{Code: CodeInvalidTransition, From: from, To: to}
	}

	switch to {
	case StepConfirmSummary, StepComplete:
		if facts.SpaceID == "" {
			return &TransitionError{Code: CodeMissingTarget, From: from, To: to}
		}
		if !facts.HasPeriod() {
			return &TransitionError{Code: CodeMissingPeriod, From: from, To: to}
		}
	}
	return nil
}
