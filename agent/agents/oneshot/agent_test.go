package oneshot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	routerx "github.com/neohoods/portal-assistant/agent/agents/router"
	contractx "github.com/neohoods/portal-assistant/agent/contract"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
	"github.com/neohoods/portal-assistant/agent/tool"
	"github.com/neohoods/portal-assistant/agent/toolloop"
)

type fakeToolCallingModel struct {
	responses []*schema.Message
	err       error
	idx       int
	inputs    [][]*schema.Message
	tools     []*schema.ToolInfo
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.tools = tools
	return f, nil
}

func newTestHandlers(t *testing.T, model *fakeToolCallingModel) map[contractx.Workflow]routerx.Handler {
	t.Helper()

	exec, err := tool.NewExecutor(tool.NewMemoryPortal(tool.DefaultSeed(), tool.PortalConfig{}))
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	gateway, err := tool.NewGateway(exec, nil)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	loop, err := toolloop.New(model, gateway)
	if err != nil {
		t.Fatalf("toolloop.New() error = %v", err)
	}
	handlers, err := Handlers(loop, gateway, promptx.LoadPromptSet())
	if err != nil {
		t.Fatalf("Handlers() error = %v", err)
	}
	return handlers
}

var alice = contractx.AuthContext{ConversationID: "room-1", SenderID: "@alice:neohoods.example", DisplayName: "Alice", PreferredLocale: "fr"}

func TestResidentInfoUsesReadOnlyTools(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{responses: []*schema.Message{
		{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{
				{ID: "c1", Type: "function", Function: schema.FunctionCall{Name: tool.ToolListSpaces, Arguments: `{}`}},
				{ID: "c2", Type: "function", Function: schema.FunctionCall{Name: tool.ToolCreateReservation, Arguments: `{"spaceId":"gym-01"}`}},
			},
		},
		{Role: schema.Assistant, Content: "Il y a une salle de sport et une chambre d'amis."},
	}}
	handlers := newTestHandlers(t, model)

	reply, err := handlers[contractx.WorkflowResidentInfo].Handle(context.Background(), routerx.Turn{Message: "quels espaces ?", Auth: alice})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !strings.Contains(reply, "salle de sport") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	for _, info := range model.tools {
		if tool.Mutating(info.Name) {
			t.Fatalf("mutating tool %s offered to a one-shot workflow", info.Name)
		}
	}

	resubmitted := model.inputs[1]
	refused := resubmitted[len(resubmitted)-1]
	if refused.Role != schema.Tool || !strings.HasPrefix(refused.Content, "ERROR:") {
		t.Fatalf("create_reservation must be refused, got %+v", refused)
	}
	if !strings.Contains(resubmitted[0].Content, "Alice") {
		t.Fatalf("system prompt lacks display name: %s", resubmitted[0].Content)
	}
}

func TestHelpOffersNoTools(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{responses: []*schema.Message{{Role: schema.Assistant, Content: "Je peux réserver un espace."}}}
	handlers := newTestHandlers(t, model)

	if _, ok := handlers[contractx.WorkflowSupport]; ok {
		t.Fatal("SUPPORT must fall back to GENERAL")
	}
	reply, err := handlers[contractx.WorkflowHelp].Handle(context.Background(), routerx.Turn{Message: "aide", Auth: alice})
	if err != nil || reply == "" {
		t.Fatalf("Handle() = %q, %v", reply, err)
	}
	if model.tools != nil {
		t.Fatalf("HELP must not bind tools, got %d", len(model.tools))
	}
}

func TestAgentProviderErrorIsWrapped(t *testing.T) {
	t.Parallel()

	handlers := newTestHandlers(t, &fakeToolCallingModel{err: errors.New("timeout")})
	a := handlers[contractx.WorkflowGeneral].(*Agent)
	a.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	_, err := a.Handle(context.Background(), routerx.Turn{Message: "bonjour", Auth: alice})
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("Handle() error = %v, want ErrModelInvoke", err)
	}
}
