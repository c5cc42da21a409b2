package oneshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	routerx "github.com/neohoods/portal-assistant/agent/agents/router"
	contractx "github.com/neohoods/portal-assistant/agent/contract"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
	"github.com/neohoods/portal-assistant/agent/tool"
	"github.com/neohoods/portal-assistant/agent/toolloop"
)

// Agent answers one message of a workflow that keeps no state between turns.
// Only read-only domain actions are offered.
type Agent struct {
	workflow contractx.Workflow
	loop     *toolloop.Loop
	gateway  *tool.Gateway
	prompt   string
	tools    []string

	now func() time.Time
}

var _ routerx.Handler = (*Agent)(nil)

func New(w contractx.Workflow, loop *toolloop.Loop, gateway *tool.Gateway, prompt string) (*Agent, error) {
	if loop == nil {
		return nil, errors.New("tool loop is required")
	}
	if gateway == nil {
		return nil, errors.New("tool gateway is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: workflow=%s", contractx.ErrPromptMissing, w)
	}

	var names []string
	for _, info := range tool.ForWorkflow(w) {
		names = append(names, info.Name)
	}
	return &Agent{
		workflow: w,
		loop:     loop,
		gateway:  gateway,
		prompt:   prompt,
		tools:    names,
		now:      time.Now,
	}, nil
}

func (a *Agent) Handle(ctx context.Context, turn routerx.Turn) (string, error) {
	locale := promptx.ResolveLocale(turn.Auth.PreferredLocale)
	system := promptx.Fill(a.prompt, map[string]string{
		"DISPLAY_NAME": firstNonEmpty(turn.Auth.DisplayName, turn.Auth.SenderID),
		"TODAY":        a.now().Format(time.DateOnly),
		"LOCALE":       locale,
	})

	resp, err := a.loop.Run(ctx, toolloop.Request{
		Message:      turn.Message,
		History:      turn.History,
		SystemPrompt: system,
		Tools:        tool.Infos(a.tools...),
		Auth:         turn.Auth,
		Purpose:      contractx.PurposeChat,
		Locale:       locale,
		Gateway:      a.gateway.Restrict(a.tools...),
	})
	if err != nil {
		return "", fmt.Errorf("workflow=%s: %w", a.workflow, err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("%w: empty answer for workflow=%s", contractx.ErrSchemaViolation, a.workflow)
	}
	return resp.Text, nil
}

// Handlers builds the one-shot handlers of every stateless workflow. SUPPORT
// has none and is served by GENERAL.
func Handlers(loop *toolloop.Loop, gateway *tool.Gateway, prompts promptx.PromptSet) (map[contractx.Workflow]routerx.Handler, error) {
	byWorkflow := map[contractx.Workflow]string{
		contractx.WorkflowGeneral:      prompts.General,
		contractx.WorkflowResidentInfo: prompts.ResidentInfo,
		contractx.WorkflowHelp:         prompts.Help,
	}
	out := make(map[contractx.Workflow]routerx.Handler, len(byWorkflow))
	for w, p := range byWorkflow {
		a, err := New(w, loop, gateway, p)
		if err != nil {
			return nil, err
		}
		out[w] = a
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
