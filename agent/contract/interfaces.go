package contract

import "context"

// Executor runs one named domain action. A returned error means the action
// could not be attempted; business failures are reported in ToolResult.
type Executor interface {
	Invoke(ctx context.Context, tool string, args map[string]any, auth AuthContext) (ToolResult, error)
}

// ToolGateway executes the tool requests of one model turn and returns one
// outcome per request, in order.
type ToolGateway interface {
	Execute(ctx context.Context, auth AuthContext, reqs []ToolRequest) ([]ToolOutcome, error)
}

// HistoryStore keeps the transcript of a conversation.
type HistoryStore interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]HistoryMessage, error)
	Append(ctx context.Context, conversationID string, msgs ...HistoryMessage) error
}
