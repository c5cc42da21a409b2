package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

func LoadHistory(ctx context.Context, in *GraphState, history contractx.HistoryStore, limit int) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	msgs, err := history.Recent(ctx, in.Auth.ConversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	in.History = msgs
	return in, nil
}

// RecordHistory appends the user message and the reply of the turn.
func RecordHistory(ctx context.Context, in *GraphState, history contractx.HistoryStore) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Message == "" {
		return in, nil
	}

	msgs := []contractx.HistoryMessage{{Role: contractx.RoleUser, Content: in.Message, At: in.Now}}
	if in.Result.Reply != "" {
		msgs = append(msgs, contractx.HistoryMessage{Role: contractx.RoleAssistant, Content: in.Result.Reply, At: in.Now})
	}
	if err := history.Append(ctx, in.Auth.ConversationID, msgs...); err != nil {
		return nil, fmt.Errorf("record history: %w", err)
	}
	return in, nil
}
