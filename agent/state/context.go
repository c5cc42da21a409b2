package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

// ConversationContext is the per-conversation state shared across turns:
// the active workflow and its loosely typed facts.
type ConversationContext struct {
	ConversationID    string             `json:"conversation_id"`
	CurrentWorkflow   contractx.Workflow `json:"current_workflow,omitempty"`
	WorkflowState     map[string]any     `json:"workflow_state,omitempty"`
	LastUserMessageAt time.Time          `json:"last_user_message_at,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewConversationContext(conversationID string, now time.Time) *ConversationContext {
	now = now.UTC()
	return &ConversationContext{
		ConversationID: conversationID,
		WorkflowState:  make(map[string]any, 8),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (c *ConversationContext) Validate() error {
	if c == nil {
		return ErrNilContext
	}
	if strings.TrimSpace(c.ConversationID) == "" {
		return ErrInvalidConversation
	}
	if c.CurrentWorkflow != "" {
		if _, ok := contractx.ParseWorkflow(string(c.CurrentWorkflow)); !ok {
			return fmt.Errorf("%w: unknown workflow=%q", contractx.ErrValidation, c.CurrentWorkflow)
		}
	}
	return nil
}

func (c *ConversationContext) ensureState() {
	if c.WorkflowState == nil {
		c.WorkflowState = make(map[string]any, 8)
	}
}

// SetWorkflow makes w the active workflow. Switching to a different workflow
// drops the previous workflow's state.
func (c *ConversationContext) SetWorkflow(w contractx.Workflow) {
	if c.CurrentWorkflow != w {
		c.WorkflowState = make(map[string]any, 8)
	}
	c.CurrentWorkflow = w
}

// ClearWorkflow resets the conversation to "no workflow".
func (c *ConversationContext) ClearWorkflow() {
	c.CurrentWorkflow = ""
	c.WorkflowState = make(map[string]any, 8)
}

func (c *ConversationContext) Get(key string) (any, bool) {
	if c == nil || c.WorkflowState == nil {
		return nil, false
	}
	v, ok := c.WorkflowState[key]
	return v, ok
}

func (c *ConversationContext) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func (c *ConversationContext) GetBool(key string) bool {
	v, ok := c.Get(key)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}

// Set stores val under key. Empty strings and nil delete the key.
func (c *ConversationContext) Set(key string, val any) {
	c.ensureState()
	switch t := val.(type) {
	case nil:
		delete(c.WorkflowState, key)
		return
	case string:
		if strings.TrimSpace(t) == "" {
			delete(c.WorkflowState, key)
			return
		}
	}
	c.WorkflowState[key] = val
}

func (c *ConversationContext) Delete(keys ...string) {
	if c.WorkflowState == nil {
		return
	}
	for _, k := range keys {
		delete(c.WorkflowState, k)
	}
}

// Clone returns a deep copy through the JSON representation, which is also
// what every persistent store keeps.
func (c *ConversationContext) Clone() *ConversationContext {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("clone conversation context: %v", err))
	}
	var out ConversationContext
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("clone conversation context: %v", err))
	}
	out.ensureState()
	return &out
}

func (c *ConversationContext) touch(now time.Time) {
	if c.Version <= 0 {
		c.Version = 1
	}
	c.ensureState()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now.UTC()
	}
	c.UpdatedAt = now.UTC()
}
