package orchestratornode

import (
	"errors"
	"strings"
	"time"

	routerx "github.com/neohoods/portal-assistant/agent/agents/router"
	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

var (
	ErrInvalidConversation = errors.New("conversation id is empty")
	ErrInvalidSender       = errors.New("sender id is empty")
)

type GraphInput struct {
	Auth    contractx.AuthContext
	Message string
}

type GraphOutput struct {
	Workflow contractx.Workflow
	Reply    string
}

type GraphState struct {
	Auth    contractx.AuthContext
	Message string
	Now     time.Time

	History []contractx.HistoryMessage
	Result  routerx.Result
}

// ValidateRequest checks the identity of the turn. An empty message is valid:
// the router answers it.
func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	auth := in.Auth
	auth.ConversationID = strings.TrimSpace(auth.ConversationID)
	if auth.ConversationID == "" {
		return nil, ErrInvalidConversation
	}
	auth.SenderID = strings.TrimSpace(auth.SenderID)
	if auth.SenderID == "" {
		return nil, ErrInvalidSender
	}

	return &GraphState{
		Auth:    auth,
		Message: strings.TrimSpace(in.Message),
		Now:     nowFn().UTC(),
	}, nil
}
