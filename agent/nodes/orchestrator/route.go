package orchestratornode

import (
	"context"
	"fmt"

	routerx "github.com/neohoods/portal-assistant/agent/agents/router"
	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

func Route(ctx context.Context, in *GraphState, router *routerx.Router) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	res, err := router.Route(ctx, in.Message, in.History, in.Auth)
	if err != nil {
		return nil, err
	}
	in.Result = res
	return in, nil
}
