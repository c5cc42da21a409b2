package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Result.Reply)
	if reply == "" {
		return GraphOutput{}, fmt.Errorf("%w: workflow=%s returned empty reply", contractx.ErrValidation, in.Result.Workflow)
	}
	return GraphOutput{Workflow: in.Result.Workflow, Reply: reply}, nil
}
