package contract

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrModelInvoke         = errors.New("model invoke failed")
	ErrSchemaViolation     = errors.New("model response violates schema")
	ErrPromptMissing       = errors.New("required prompt is missing")
	ErrValidation          = errors.New("validation failed")
	ErrPrivacyRequired     = errors.New("workflow requires a private conversation")
	ErrToolOutcomeMismatch = errors.New("tool outcome count does not match invocation count")
	ErrConversationBusy    = errors.New("conversation is processing another message")
)

const (
	CodePrivateRequired  = "ROUTER_PRIVATE_REQUIRED"
	CodeRouterError      = "ROUTER_ERROR"
	CodeOutcomeMismatch  = "LOOP_OUTCOME_MISMATCH"
	CodeConversationBusy = "CONVERSATION_BUSY"
)

// CodedError is an error surfaced to callers with a stable code and the
// variables needed to render a user-facing message.
type CodedError struct {
	Code string
	Vars map[string]string
	Err  error
}

func NewCodedError(code string, err error, vars map[string]string) *CodedError {
	return &CodedError{Code: code, Vars: vars, Err: err}
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Vars) > 0 {
		keys := make([]string, 0, len(e.Vars))
		for k := range e.Vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, e.Vars[k])
		}
	}
	return b.String()
}

func (e *CodedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CodeOf returns the code of the first CodedError in err's chain.
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
