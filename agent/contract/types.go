package contract

import (
	"strings"
	"time"
)

type Workflow string

const (
	WorkflowGeneral      Workflow = "GENERAL"
	WorkflowResidentInfo Workflow = "RESIDENT_INFO"
	WorkflowReservation  Workflow = "RESERVATION"
	WorkflowHelp         Workflow = "HELP"
	WorkflowSupport      Workflow = "SUPPORT"
)

// Workflows returns the closed set of routable workflows.
func Workflows() []Workflow {
	return []Workflow{
		WorkflowGeneral,
		WorkflowResidentInfo,
		WorkflowReservation,
		WorkflowHelp,
		WorkflowSupport,
	}
}

// ParseWorkflow maps a tag to a known workflow. SPACE is accepted as a legacy
// name for RESERVATION.
func ParseWorkflow(tag string) (Workflow, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(tag))
	if normalized == "SPACE" {
		return WorkflowReservation, true
	}
	for _, w := range Workflows() {
		if string(w) == normalized {
			return w, true
		}
	}
	return "", false
}

// RequiresPrivate reports whether w may only run in a private conversation.
func (w Workflow) RequiresPrivate() bool {
	return w == WorkflowReservation
}

// Purpose selects the sampling profile of a model call.
type Purpose string

const (
	PurposeChat           Purpose = "chat"
	PurposeClassification Purpose = "classification"
	PurposeStructured     Purpose = "structured"
)

// AuthContext identifies who is talking and where.
type AuthContext struct {
	ConversationID  string `json:"conversation_id"`
	SenderID        string `json:"sender_id"`
	UserID          string `json:"user_id,omitempty"`
	DisplayName     string `json:"display_name,omitempty"`
	Private         bool   `json:"private"`
	PreferredLocale string `json:"preferred_locale,omitempty"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type HistoryMessage struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ActionStatus is the typed outcome a domain action reports alongside its
// text content.
type ActionStatus string

const (
	ActionUnknown   ActionStatus = ""
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
)

type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"is_error"`
	Status  ActionStatus   `json:"status,omitempty"`
}

func TextResult(text string) ToolResult {
	return ToolResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		Status:  ActionSucceeded,
	}
}

func ErrorResult(text string) ToolResult {
	return ToolResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
		Status:  ActionFailed,
	}
}

// Text joins the non-empty text blocks with newlines.
func (r ToolResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, block := range r.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Succeeded reports a typed success. Error results never succeed.
func (r ToolResult) Succeeded() bool {
	return !r.IsError && r.Status == ActionSucceeded
}

// ToolRequest is one model-requested invocation. ArgsError is set when the
// model sent arguments that are not a JSON object.
type ToolRequest struct {
	CallID    string         `json:"call_id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	ArgsError string         `json:"args_error,omitempty"`
}

type ToolOutcome struct {
	CallID string     `json:"call_id"`
	Tool   string     `json:"tool"`
	Result ToolResult `json:"result"`
}
