package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/neohoods/portal-assistant/agent/agents/orchestrator"
	routerx "github.com/neohoods/portal-assistant/agent/agents/router"
	contractx "github.com/neohoods/portal-assistant/agent/contract"
	llmx "github.com/neohoods/portal-assistant/agent/llm"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
	statex "github.com/neohoods/portal-assistant/agent/state"
	"github.com/neohoods/portal-assistant/agent/tool"
)

type staticClassifier contractx.Workflow

func (c staticClassifier) Classify(context.Context, routerx.ClassifyRequest) (routerx.Decision, error) {
	return routerx.Decision{Workflow: contractx.Workflow(c), Source: routerx.SourceTool}, nil
}

type fakePayments struct {
	confirmed []string
}

func (f *fakePayments) ConfirmPayment(_ context.Context, conversationID, reservationID string) error {
	f.confirmed = append(f.confirmed, conversationID+"/"+reservationID)
	return nil
}

func newChatApp(t *testing.T, workflow contractx.Workflow) (*app, *fakePayments) {
	t.Helper()

	router, err := routerx.New(staticClassifier(workflow), statex.NewManager(statex.NewMemoryStore()), routerx.Config{}, nil)
	if err != nil {
		t.Fatalf("routerx.New() error = %v", err)
	}
	router.Register(contractx.WorkflowGeneral, routerx.HandlerFunc(func(_ context.Context, turn routerx.Turn) (string, error) {
		return "echo: " + turn.Message, nil
	}))

	portal := tool.NewMemoryPortal(tool.DefaultSeed(), tool.PortalConfig{})
	payments := &fakePayments{}
	orch, err := orchestrator.New(router, nil, statex.NewKeyedMutex(), portal, payments, orchestrator.Config{}, nil)
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	return &app{orchestrator: orch, portal: portal}, payments
}

func TestRunChatConversation(t *testing.T) {
	t.Parallel()

	a, _ := newChatApp(t, contractx.WorkflowGeneral)
	auth := contractx.AuthContext{ConversationID: "cli", SenderID: "@alice:neohoods.example", Private: true}

	var out bytes.Buffer
	in := strings.NewReader("Bonjour, qui est le syndic ?\n/quit\nnever read\n")
	if err := runChat(context.Background(), a, auth, in, &out); err != nil {
		t.Fatalf("runChat() error = %v", err)
	}
	if !strings.Contains(out.String(), "[GENERAL] echo: Bonjour, qui est le syndic ?") {
		t.Fatalf("unexpected output: %q", out.String())
	}
	if strings.Contains(out.String(), "never read") {
		t.Fatal("input after /quit must be ignored")
	}
}

func TestRunChatPrivacyAndPayment(t *testing.T) {
	t.Parallel()

	a, payments := newChatApp(t, contractx.WorkflowReservation)
	auth := contractx.AuthContext{ConversationID: "lobby", SenderID: "@bob:neohoods.example", PreferredLocale: "en"}

	var out bytes.Buffer
	in := strings.NewReader("I want to book the gym tomorrow\n/pay unknown-id\n")
	if err := runChat(context.Background(), a, auth, in, &out); err != nil {
		t.Fatalf("runChat() error = %v", err)
	}
	if !strings.Contains(out.String(), promptx.Text("en", promptx.MsgPrivateRequired)) {
		t.Fatalf("missing privacy message: %q", out.String())
	}
	if !strings.Contains(out.String(), tool.ErrReservationNotFound.Error()) {
		t.Fatalf("missing payment error: %q", out.String())
	}
	if len(payments.confirmed) != 0 {
		t.Fatal("unknown reservation must not be confirmed")
	}
}

func TestBuildStore(t *testing.T) {
	t.Parallel()

	store, locker, err := buildStore(&appConfig{Store: "memory", KeyPrefix: "test:"})
	if err != nil {
		t.Fatalf("buildStore() error = %v", err)
	}
	if _, ok := store.(*statex.MemoryStore); !ok {
		t.Fatalf("unexpected store type %T", store)
	}
	if _, ok := locker.(*statex.KeyedMutex); !ok {
		t.Fatalf("unexpected locker type %T", locker)
	}

	if _, _, err := buildStore(&appConfig{Store: "etcd"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestBuildClassifierRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := buildClassifier("regex", llmx.Config{}, nil, "prompt", nil); err == nil {
		t.Fatal("expected error for unknown classifier")
	}
	if _, err := buildClassifier(classifierOpenAI, llmx.Config{}, nil, "prompt", nil); err == nil {
		t.Fatal("expected error without api key")
	}
}
