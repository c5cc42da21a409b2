package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
	metricsx "github.com/neohoods/portal-assistant/pkg/metrics"
)

// Gateway executes the requests of one model turn one after another, in
// request order. Every request yields exactly one outcome.
type Gateway struct {
	exec    contractx.Executor
	allowed map[string]struct{}
	metrics *metricsx.Metrics
}

var _ contractx.ToolGateway = (*Gateway)(nil)

func NewGateway(exec contractx.Executor, m *metricsx.Metrics) (*Gateway, error) {
	if exec == nil {
		return nil, errors.New("executor is required")
	}
	return &Gateway{exec: exec, metrics: m}, nil
}

// Restrict returns a gateway that refuses every tool outside names.
func (g *Gateway) Restrict(names ...string) *Gateway {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	return &Gateway{exec: g.exec, allowed: allowed, metrics: g.metrics}
}

func (g *Gateway) Execute(ctx context.Context, auth contractx.AuthContext, reqs []contractx.ToolRequest) ([]contractx.ToolOutcome, error) {
	outcomes := make([]contractx.ToolOutcome, 0, len(reqs))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		res, err := g.executeOne(ctx, auth, req)
		if err != nil {
			return outcomes, err
		}
		g.metrics.ToolCall(req.Tool, res.IsError)
		log.Debug().
			Str("conversation_id", auth.ConversationID).
			Str("tool", req.Tool).
			Bool("is_error", res.IsError).
			Msg("tool executed")
		outcomes = append(outcomes, contractx.ToolOutcome{CallID: req.CallID, Tool: req.Tool, Result: res})
	}
	return outcomes, nil
}

func (g *Gateway) executeOne(ctx context.Context, auth contractx.AuthContext, req contractx.ToolRequest) (contractx.ToolResult, error) {
	if req.Tool == "" {
		return contractx.ErrorResult("tool name is empty"), nil
	}
	if req.ArgsError != "" {
		return contractx.ErrorResult(fmt.Sprintf("invalid arguments for %s: %s", req.Tool, req.ArgsError)), nil
	}
	if g.allowed != nil {
		if _, ok := g.allowed[req.Tool]; !ok {
			return contractx.ErrorResult(fmt.Sprintf("tool=%s is not available at this point of the conversation", req.Tool)), nil
		}
	}

	res, err := g.exec.Invoke(ctx, req.Tool, req.Args, auth)
	if err != nil {
		if ctx.Err() != nil {
			return contractx.ToolResult{}, ctx.Err()
		}
		return contractx.ErrorResult(fmt.Sprintf("tool call failed: %v", err)), nil
	}
	return res, nil
}
