package router

import (
	"context"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
	statex "github.com/neohoods/portal-assistant/agent/state"
)

// Turn is one inbound message as seen by a workflow handler. Context is the
// conversation context loaded by the router; handlers mutate and persist it.
type Turn struct {
	Message string
	History []contractx.HistoryMessage
	Context *statex.ConversationContext
	Auth    contractx.AuthContext
}

// Handler serves one workflow.
type Handler interface {
	Handle(ctx context.Context, turn Turn) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, turn Turn) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, turn Turn) (string, error) {
	return f(ctx, turn)
}
