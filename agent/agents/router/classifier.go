package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
	"github.com/neohoods/portal-assistant/agent/toolloop"
)

// RouteTool is the function the classifier is asked to call.
const RouteTool = "route_to_workflow"

// Decision sources, also used as the metrics label.
const (
	SourceTool       = "tool"
	SourceText       = "text"
	SourceDefault    = "default"
	SourceOverride   = "override"
	SourceContinuity = "continuity"
)

// ClassifyRequest is what the classifier sees of a turn. CurrentWorkflow is
// empty when the conversation context is stale.
type ClassifyRequest struct {
	Message         string
	History         []contractx.HistoryMessage
	CurrentWorkflow contractx.Workflow
	Auth            contractx.AuthContext
}

type Decision struct {
	Workflow contractx.Workflow
	Source   string
}

type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Decision, error)
}

func workflowNames() []string {
	out := make([]string, 0, len(contractx.Workflows()))
	for _, w := range contractx.Workflows() {
		out = append(out, string(w))
	}
	return out
}

var routeToolInfo = &schema.ToolInfo{
	Name: RouteTool,
	Desc: "Route the user message to one workflow of the assistant.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"workflowType": {
			Type:     schema.String,
			Desc:     "The workflow that must handle the message",
			Enum:     workflowNames(),
			Required: true,
		},
	}),
}

type routeArgs struct {
	WorkflowType string `json:"workflowType"`
}

// decide applies the fallback chain: the route tool arguments, then the
// first word of the content, then GENERAL.
func decide(toolArgs, content string) Decision {
	if strings.TrimSpace(toolArgs) != "" {
		var args routeArgs
		if err := json.Unmarshal([]byte(toolArgs), &args); err == nil {
			if w, ok := contractx.ParseWorkflow(args.WorkflowType); ok {
				return Decision{Workflow: w, Source: SourceTool}
			}
		}
	}
	if w, ok := contractx.ParseWorkflow(firstWordTag(content)); ok {
		return Decision{Workflow: w, Source: SourceText}
	}
	return Decision{Workflow: contractx.WorkflowGeneral, Source: SourceDefault}
}

// firstWordTag upper-cases the first word of content and keeps [A-Z_] only.
func firstWordTag(content string) string {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(fields[0]) {
		if (r >= 'A' && r <= 'Z') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LoopClassifier classifies through the eino chat model of the tool loop.
type LoopClassifier struct {
	loop   *toolloop.Loop
	prompt string
}

var _ Classifier = (*LoopClassifier)(nil)

func NewLoopClassifier(loop *toolloop.Loop, prompt string) (*LoopClassifier, error) {
	if loop == nil {
		return nil, errors.New("tool loop is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, contractx.ErrPromptMissing
	}
	return &LoopClassifier{loop: loop, prompt: prompt}, nil
}

func (c *LoopClassifier) Classify(ctx context.Context, req ClassifyRequest) (Decision, error) {
	resp, err := c.loop.Run(ctx, toolloop.Request{
		Message:      req.Message,
		History:      req.History,
		SystemPrompt: routerPrompt(c.prompt, req.CurrentWorkflow),
		Tools:        []*schema.ToolInfo{routeToolInfo},
		Auth:         req.Auth,
		Purpose:      contractx.PurposeClassification,
		TerminalTool: RouteTool,
		Gateway:      refusingGateway{},
	})
	if err != nil {
		return Decision{}, err
	}
	if resp.Terminal {
		return decide(resp.Text, ""), nil
	}
	return decide("", resp.Text), nil
}

func routerPrompt(tpl string, current contractx.Workflow) string {
	return promptx.Fill(tpl, map[string]string{"CURRENT_WORKFLOW": string(current)})
}

// refusingGateway answers every tool request with an error outcome: the
// classifier offers no domain action.
type refusingGateway struct{}

func (refusingGateway) Execute(_ context.Context, _ contractx.AuthContext, reqs []contractx.ToolRequest) ([]contractx.ToolOutcome, error) {
	outcomes := make([]contractx.ToolOutcome, 0, len(reqs))
	for _, r := range reqs {
		outcomes = append(outcomes, contractx.ToolOutcome{
			CallID: r.CallID,
			Tool:   r.Tool,
			Result: contractx.ErrorResult("only " + RouteTool + " is available"),
		})
	}
	return outcomes, nil
}
