package reservation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	routerx "github.com/neohoods/portal-assistant/agent/agents/router"
	contractx "github.com/neohoods/portal-assistant/agent/contract"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
	statex "github.com/neohoods/portal-assistant/agent/state"
	"github.com/neohoods/portal-assistant/agent/tool"
	"github.com/neohoods/portal-assistant/agent/toolloop"
)

type fakeToolCallingModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	respond   func(call int) *schema.Message
	err       error
	calls     int
	bound     [][]string
	systems   []string
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.calls
	f.calls++
	if len(input) > 0 && input[0].Role == schema.System {
		f.systems = append(f.systems, input[0].Content)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.respond != nil {
		return f.respond(n), nil
	}
	if n >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	return f.responses[n], nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	f.bound = append(f.bound, names)
	return f, nil
}

type countingExecutor struct {
	inner contractx.Executor
	after func(name string)

	mu     sync.Mutex
	counts map[string]int
}

func (e *countingExecutor) Invoke(ctx context.Context, name string, args map[string]any, auth contractx.AuthContext) (contractx.ToolResult, error) {
	e.mu.Lock()
	if e.counts == nil {
		e.counts = map[string]int{}
	}
	e.counts[name]++
	e.mu.Unlock()
	res, err := e.inner.Invoke(ctx, name, args, auth)
	if e.after != nil {
		e.after(name)
	}
	return res, err
}

func (e *countingExecutor) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[name]
}

type harness struct {
	model    *fakeToolCallingModel
	exec     *countingExecutor
	portal   *tool.MemoryPortal
	store    *statex.MemoryStore
	contexts *statex.Manager
	machine  *Machine
}

func newHarness(t *testing.T, model *fakeToolCallingModel) *harness {
	t.Helper()

	portal := tool.NewMemoryPortal(tool.DefaultSeed(), tool.PortalConfig{PaymentBaseURL: "https://pay.test/checkout/"})
	domain, err := tool.NewExecutor(portal)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	exec := &countingExecutor{inner: domain}
	gateway, err := tool.NewGateway(exec, nil)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	loop, err := toolloop.New(model, gateway)
	if err != nil {
		t.Fatalf("toolloop.New() error = %v", err)
	}
	store := statex.NewMemoryStore()
	contexts := statex.NewManager(store)

	m, err := New(loop, gateway, contexts, promptx.LoadPromptSet().Reservation, Config{FrontendURL: "https://portal.test/"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }

	return &harness{model: model, exec: exec, portal: portal, store: store, contexts: contexts, machine: m}
}

var bob = contractx.AuthContext{
	ConversationID:  "dm-bob",
	SenderID:        "@bob:neohoods.example",
	UserID:          "user-bob",
	DisplayName:     "Bob",
	Private:         true,
	PreferredLocale: "en",
}

// conversation loads the stored context of bob's conversation, or a fresh one in
// the reservation workflow.
func (h *harness) conversation(t *testing.T, state map[string]any) *statex.ConversationContext {
	t.Helper()
	cc, created, err := h.contexts.GetOrCreate(context.Background(), bob.ConversationID)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if created {
		cc.SetWorkflow(contractx.WorkflowReservation)
	}
	for k, v := range state {
		cc.Set(k, v)
	}
	return cc
}

func (h *harness) send(t *testing.T, message string, state map[string]any) string {
	t.Helper()
	reply, err := h.machine.Handle(context.Background(), routerx.Turn{
		Message: message,
		Context: h.conversation(t, state),
		Auth:    bob,
	})
	if err != nil {
		t.Fatalf("Handle(%q) error = %v", message, err)
	}
	return reply
}

func (h *harness) facts(t *testing.T) Facts {
	t.Helper()
	cc, err := h.contexts.Get(context.Background(), bob.ConversationID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	f, err := FactsFrom(cc)
	if err != nil {
		t.Fatalf("FactsFrom() error = %v", err)
	}
	return f
}

func toolCall(id, name, args string) *schema.Message {
	return toolCalls(schema.ToolCall{ID: id, Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}})
}

func toolCalls(calls ...schema.ToolCall) *schema.Message {
	return &schema.Message{Role: schema.Assistant, ToolCalls: calls}
}

func submit(args string) *schema.Message {
	return toolCall("submit", SubmitTool, args)
}

func TestDeriveStep(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		facts Facts
		want  Step
	}{
		{name: "nothing known", facts: Facts{}, want: StepRequestInfo},
		{name: "need stated", facts: Facts{Step: string(StepChooseTarget)}, want: StepChooseTarget},
		{name: "period only", facts: Facts{StartDate: "2024-06-02", EndDate: "2024-06-03"}, want: StepChooseTarget},
		{name: "target only", facts: Facts{SpaceID: "gym-01"}, want: StepChoosePeriod},
		{name: "half period", facts: Facts{SpaceID: "gym-01", StartDate: "2024-06-02"}, want: StepChoosePeriod},
		{name: "target and period", facts: Facts{SpaceID: "gym-01", StartDate: "2024-06-02", EndDate: "2024-06-03"}, want: StepConfirmSummary},
		{name: "summary shown", facts: Facts{SpaceID: "gym-01", StartDate: "2024-06-02", EndDate: "2024-06-03", SummaryShown: true}, want: StepComplete},
		{name: "created free", facts: Facts{ReservationCreated: true}, want: StepComplete},
		{name: "created paid", facts: Facts{ReservationCreated: true, PaymentRequired: true}, want: StepPaymentInstructions},
		{name: "link generated", facts: Facts{ReservationCreated: true, PaymentLinkGenerated: true}, want: StepPaymentInstructions},
		{name: "paid", facts: Facts{ReservationCreated: true, PaymentRequired: true, Step: string(StepPaymentConfirmed)}, want: StepPaymentConfirmed},
		{name: "stale stored step", facts: Facts{SpaceID: "gym-01", Step: string(StepComplete)}, want: StepChoosePeriod},
	}
	for _, tc := range cases {
		if got := DeriveStep(tc.facts); got != tc.want {
			t.Fatalf("%s: DeriveStep() = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestDeriveStepIsMonotonic(t *testing.T) {
	t.Parallel()

	accumulate := []func(*Facts){
		func(f *Facts) { f.SpaceID = "gym-01" },
		func(f *Facts) { f.StartDate, f.EndDate = "2024-06-02", "2024-06-03" },
		func(f *Facts) { f.SummaryShown = true },
		func(f *Facts) { f.ReservationCreated, f.ReservationID = true, "r-1" },
		func(f *Facts) { f.PaymentRequired = true },
		func(f *Facts) { f.PaymentLinkGenerated, f.PaymentURL = true, "https://pay" },
		func(f *Facts) { f.Step = string(StepPaymentConfirmed) },
	}

	var f Facts
	prev := DeriveStep(f)
	for i, apply := range accumulate {
		apply(&f)
		got := DeriveStep(f)
		if got.Rank() < prev.Rank() {
			t.Fatalf("fact %d moved step back from %s to %s", i, prev, got)
		}
		prev = got
	}
	if prev != StepPaymentConfirmed {
		t.Fatalf("final step = %s, want %s", prev, StepPaymentConfirmed)
	}
}

func TestFactsFromAcceptsLooseTypes(t *testing.T) {
	t.Parallel()

	cc := statex.NewConversationContext("c", time.Now())
	cc.WorkflowState = map[string]any{
		KeySpaceID:            "gym-01",
		KeySummaryShown:       "true",
		KeyReservationCreated: 1,
		"unrelated":           []any{"x"},
	}
	f, err := FactsFrom(cc)
	if err != nil {
		t.Fatalf("FactsFrom() error = %v", err)
	}
	if f.SpaceID != "gym-01" || !f.SummaryShown || !f.ReservationCreated {
		t.Fatalf("unexpected facts: %+v", f)
	}
}

func TestParseStepResult(t *testing.T) {
	t.Parallel()

	res := ParseStepResult(toolloop.Response{Text: "Sure!\n```json\n{\"status\":\"ASK_USER\",\"response\":\"Which dates?\",\"locale\":\"en\"}\n```"})
	if res.Status != StatusPending || res.Response != "Which dates?" || res.Locale != "en" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res = ParseStepResult(toolloop.Response{Text: `{"status":"COMPLETED","response":"ok","spaceId":" gym-01 ","period":{"startDate":"2024-06-02","endDate":"2024-06-03"}}`, JSON: true})
	if res.Status != StatusCompleted || res.SpaceID != "gym-01" || res.Period == nil || res.Period.EndDate != "2024-06-03" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res = ParseStepResult(toolloop.Response{Text: "I could not do it"})
	if res.Status != StatusError || res.Response != "I could not do it" {
		t.Fatalf("non JSON output must degrade to ERROR with raw text, got %+v", res)
	}

	res = ParseStepResult(toolloop.Response{Text: `{"status":"DONE_MAYBE","response":"hm"}`, JSON: true})
	if res.Status != StatusError || res.Response != "hm" {
		t.Fatalf("unknown status must degrade to ERROR, got %+v", res)
	}

	res = ParseStepResult(toolloop.Response{Text: `{"status":"CANCEL","response":"bye","period":{}}`, JSON: true})
	if res.Status != StatusCanceled || res.Period != nil {
		t.Fatalf("unexpected result: %+v", res)
	}

	res = ParseStepResult(toolloop.Response{Text: `{"status":"COMPLETED","response":"ok","spaceId":"gym-01","availableSpaces":["gym-01","common-room-01"]}`, JSON: true})
	if res.Status != StatusCompleted || res.SpaceID != "gym-01" {
		t.Fatalf("unknown fields must be ignored, got %+v", res)
	}
}

func TestValidateTransition(t *testing.T) {
	t.Parallel()

	full := Facts{SpaceID: "gym-01", StartDate: "2024-06-02", EndDate: "2024-06-03"}
	cases := []struct {
		from, to Step
		facts    Facts
		code     string
	}{
		{from: StepChooseTarget, to: StepChoosePeriod, facts: Facts{SpaceID: "gym-01"}},
		{from: StepChoosePeriod, to: StepChooseTarget},
		{from: StepChooseTarget, to: StepConfirmSummary, facts: full},
		{from: StepChooseTarget, to: StepConfirmSummary, facts: Facts{StartDate: "2024-06-02", EndDate: "2024-06-03"}, code: CodeMissingTarget},
		{from: StepChoosePeriod, to: StepConfirmSummary, facts: Facts{SpaceID: "gym-01"}, code: CodeMissingPeriod},
		{from: StepChooseTarget, to: StepComplete, facts: full, code: CodeInvalidTransition},
		{from: StepRequestInfo, to: StepChoosePeriod, code: CodeInvalidTransition},
		{from: StepComplete, to: StepChooseTarget, facts: full, code: CodeInvalidTransition},
	}
	for _, tc := range cases {
		err := ValidateTransition(tc.from, tc.to, tc.facts)
		if tc.code == "" {
			if err != nil {
				t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
			}
			continue
		}
		var te *TransitionError
		if !errors.As(err, &te) || te.Code != tc.code {
			t.Fatalf("%s -> %s: error = %v, want code %s", tc.from, tc.to, err, tc.code)
		}
	}
}

func TestMutatingToolsWithheldBeforeComplete(t *testing.T) {
	t.Parallel()

	for _, step := range []Step{StepRequestInfo, StepChooseTarget, StepChoosePeriod, StepConfirmSummary} {
		for _, name := range ToolNames(step) {
			if tool.Mutating(name) {
				t.Fatalf("step %s offers mutating tool %s", step, name)
			}
		}
	}

	infos := ToolsFor(StepComplete)
	if len(infos) != 2 || infos[0].Name != tool.ToolCreateReservation || infos[1].Name != SubmitTool {
		t.Fatalf("unexpected COMPLETE tools: %v", infos)
	}
}

func TestBuildPromptResolvesEveryPlaceholder(t *testing.T) {
	t.Parallel()

	prompts := promptx.LoadPromptSet().Reservation
	for _, step := range []Step{StepRequestInfo, StepChooseTarget, StepChoosePeriod, StepComplete} {
		got, err := buildPrompt(prompts, step, Facts{SpaceID: "gym-01"}, bob, "en", "2024-06-01")
		if err != nil {
			t.Fatalf("buildPrompt(%s) error = %v", step, err)
		}
		if strings.Contains(got, "{{") {
			t.Fatalf("step %s prompt has unresolved placeholders:\n%s", step, got)
		}
		if !strings.Contains(got, "startDate: NOT SET") {
			t.Fatalf("step %s prompt lacks validation block:\n%s", step, got)
		}
	}

	got, err := buildPrompt(prompts, StepChoosePeriod, Facts{SpaceID: "gym-01"}, bob, "en", "2024-06-01")
	if err != nil {
		t.Fatalf("buildPrompt() error = %v", err)
	}
	if !strings.Contains(got, "UNKNOWN 00:00 to UNKNOWN 23:59") {
		t.Fatalf("period defaults not applied:\n%s", got)
	}

	if _, err := buildPrompt(prompts, StepConfirmSummary, Facts{}, bob, "en", "2024-06-01"); !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("backend-only step prompt error = %v, want ErrPromptMissing", err)
	}
}

func TestMachineEndToEndPaidReservation(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{responses: []*schema.Message{
		// turn 1: REQUEST_INFO then CHOOSE_TARGET
		submit(`{"status":"COMPLETED","response":"You need the gym.","locale":"en"}`),
		toolCall("c1", tool.ToolListSpaces, `{"type":"GYM"}`),
		submit(`{"status":"COMPLETED","response":"The gym it is. For which dates?","spaceId":"gym-01"}`),
		// turn 2: CHOOSE_PERIOD
		toolCall("c2", tool.ToolCheckAvailability, `{"spaceId":"gym-01","startDate":"2024-06-02","endDate":"2024-06-03"}`),
		submit(`{"status":"COMPLETED","response":"The gym is free.","spaceId":"gym-01","period":{"startDate":"2024-06-02","endDate":"2024-06-03"}}`),
		// turn 3: COMPLETE, the model asks for the same reservation twice
		toolCalls(
			schema.ToolCall{ID: "c3", Type: "function", Function: schema.FunctionCall{Name: tool.ToolCreateReservation, Arguments: `{"spaceId":"gym-01","startDate":"2024-06-02","endDate":"2024-06-03"}`}},
			schema.ToolCall{ID: "c4", Type: "function", Function: schema.FunctionCall{Name: tool.ToolCreateReservation, Arguments: `{"spaceId":"gym-01","startDate":"2024-06-02","endDate":"2024-06-03"}`}},
		),
	}}
	h := newHarness(t, model)

	reply := h.send(t, "book the gym for tomorrow", nil)
	if reply != "The gym it is. For which dates?" {
		t.Fatalf("turn 1 reply = %q", reply)
	}
	if f := h.facts(t); f.SpaceID != "gym-01" || DeriveStep(f) != StepChoosePeriod || f.Locale != "en" {
		t.Fatalf("turn 1 facts = %+v", f)
	}
	if h.exec.count(tool.ToolListSpaces) != 1 {
		t.Fatalf("list_spaces called %d times", h.exec.count(tool.ToolListSpaces))
	}

	reply = h.send(t, "from 2024-06-02 to 2024-06-03", nil)
	for _, want := range []string{"The gym is free.", "Salle de sport", "From 2024-06-02 to 2024-06-03", "Duration: 1 night", "Price: 5.00 EUR", "Do you confirm"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("turn 2 reply lacks %q:\n%s", want, reply)
		}
	}
	if f := h.facts(t); !f.SummaryShown || DeriveStep(f) != StepComplete {
		t.Fatalf("turn 2 facts = %+v", f)
	}

	reply = h.send(t, "yes", nil)
	if got := h.exec.count(tool.ToolCreateReservation); got != 1 {
		t.Fatalf("create_reservation invoked %d times, want 1", got)
	}
	reservations := h.portal.Reservations()
	if len(reservations) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(reservations))
	}
	id := reservations[0].ID
	for _, want := range []string{id, "PENDING_PAYMENT", "https://portal.test/spaces/reservations/" + id, "/checkout/" + id} {
		if !strings.Contains(reply, want) {
			t.Fatalf("turn 3 reply lacks %q:\n%s", want, reply)
		}
	}
	f := h.facts(t)
	if !f.ReservationCreated || !f.PaymentRequired || !f.PaymentLinkGenerated || DeriveStep(f) != StepPaymentInstructions {
		t.Fatalf("turn 3 facts = %+v", f)
	}

	callsBefore := model.calls
	reply = h.send(t, "did it work?", nil)
	if !strings.Contains(reply, "still pending") || model.calls != callsBefore {
		t.Fatalf("turn 4 reply = %q, provider calls %d -> %d", reply, callsBefore, model.calls)
	}
	if h.exec.count(tool.ToolGeneratePaymentLink) != 1 {
		t.Fatalf("payment link generated %d times", h.exec.count(tool.ToolGeneratePaymentLink))
	}

	if err := h.machine.ConfirmPayment(context.Background(), bob.ConversationID, id); err != nil {
		t.Fatalf("ConfirmPayment() error = %v", err)
	}
	reply = h.send(t, "ok", nil)
	if !strings.Contains(reply, "payment was received") {
		t.Fatalf("turn 5 reply = %q", reply)
	}
	if h.store.Len() != 0 {
		t.Fatal("finished workflow must clear the conversation context")
	}
	if h.exec.count(tool.ToolCreateReservation) != 1 {
		t.Fatal("workflow created more than one reservation")
	}
}

func TestMachineFreeReservationFinishesWorkflow(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{responses: []*schema.Message{
		toolCall("c1", tool.ToolCreateReservation, `{"spaceId":"common-room-01","startDate":"2024-06-05","endDate":"2024-06-05"}`),
	}}
	h := newHarness(t, model)

	reply := h.send(t, "oui", map[string]any{
		KeySpaceID:      "common-room-01",
		KeyStartDate:    "2024-06-05",
		KeyEndDate:      "2024-06-05",
		KeySummaryShown: true,
	})
	if !strings.Contains(reply, "CONFIRMED") {
		t.Fatalf("reply = %q", reply)
	}
	if h.store.Len() != 0 {
		t.Fatal("free reservation must clear the conversation context")
	}
	if model.calls != 1 {
		t.Fatalf("provider calls = %d, want 1 (early exit)", model.calls)
	}
	if h.exec.count(tool.ToolGeneratePaymentLink) != 0 {
		t.Fatal("free reservation must not generate a payment link")
	}
}

func TestMachineBooksConfirmedFacts(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{responses: []*schema.Message{
		toolCall("c1", tool.ToolCreateReservation, `{"spaceId":"common-room-01","startDate":"2024-07-10","endDate":"2024-07-11"}`),
	}}
	h := newHarness(t, model)

	reply := h.send(t, "yes", map[string]any{
		KeySpaceID:      "gym-01",
		KeyStartDate:    "2024-06-02",
		KeyEndDate:      "2024-06-03",
		KeyStartTime:    "10:00",
		KeySummaryShown: true,
	})
	reservations := h.portal.Reservations()
	if len(reservations) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(reservations))
	}
	r := reservations[0]
	if r.SpaceID != "gym-01" || r.StartDate != "2024-06-02" || r.EndDate != "2024-06-03" || r.StartTime != "10:00" {
		t.Fatalf("reservation does not match the summary: %+v", r)
	}
	if !strings.Contains(reply, r.ID) {
		t.Fatalf("reply = %q", reply)
	}
}

func TestMachinePersistsCreationWhenTurnFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := &fakeToolCallingModel{responses: []*schema.Message{
		toolCalls(
			schema.ToolCall{ID: "c1", Type: "function", Function: schema.FunctionCall{Name: tool.ToolCreateReservation, Arguments: `{"spaceId":"gym-01","startDate":"2024-06-02","endDate":"2024-06-03"}`}},
			schema.ToolCall{ID: "c2", Type: "function", Function: schema.FunctionCall{Name: tool.ToolListSpaces, Arguments: `{}`}},
		),
	}}
	h := newHarness(t, model)
	h.exec.after = func(name string) {
		if name == tool.ToolCreateReservation {
			cancel()
		}
	}
	state := map[string]any{
		KeySpaceID:      "gym-01",
		KeyStartDate:    "2024-06-02",
		KeyEndDate:      "2024-06-03",
		KeySummaryShown: true,
	}

	_, err := h.machine.Handle(ctx, routerx.Turn{Message: "yes", Context: h.conversation(t, state), Auth: bob})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Handle() error = %v, want context.Canceled", err)
	}
	f := h.facts(t)
	if !f.ReservationCreated || f.ReservationID == "" {
		t.Fatalf("created reservation was not persisted: %+v", f)
	}

	h.exec.after = nil
	h.send(t, "yes", nil)
	if got := h.exec.count(tool.ToolCreateReservation); got != 1 {
		t.Fatalf("create_reservation invoked %d times, want 1", got)
	}
}

func TestMachineReplaysCreatedReservation(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{}
	h := newHarness(t, model)

	reply := h.send(t, "yes", map[string]any{
		KeySpaceID:            "common-room-01",
		KeyStartDate:          "2024-06-05",
		KeyEndDate:            "2024-06-05",
		KeySummaryShown:       true,
		KeyReservationCreated: true,
		KeyReservationID:      "r-42",
		KeyReservationStatus:  "CONFIRMED",
	})
	if !strings.Contains(reply, "r-42") {
		t.Fatalf("reply = %q", reply)
	}
	if model.calls != 0 || h.exec.count(tool.ToolCreateReservation) != 0 {
		t.Fatalf("replay made %d provider calls and %d creations", model.calls, h.exec.count(tool.ToolCreateReservation))
	}
}

func TestMachineCancelVocabularyClearsContext(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{}
	h := newHarness(t, model)
	state := map[string]any{
		KeySpaceID:      "gym-01",
		KeyStartDate:    "2024-06-02",
		KeyEndDate:      "2024-06-03",
		KeySummaryShown: true,
	}
	if err := h.contexts.Update(context.Background(), h.conversation(t, state)); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	reply := h.send(t, "Non finalement, je veux annuler", nil)
	if reply != promptx.Text("en", promptx.MsgReservationCancel) {
		t.Fatalf("reply = %q", reply)
	}
	if model.calls != 0 {
		t.Fatalf("cancel made %d provider calls", model.calls)
	}
	if h.store.Len() != 0 {
		t.Fatal("cancel must clear the conversation context")
	}
}

func TestMachineModelCancelClearsContext(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{responses: []*schema.Message{
		submit(`{"status":"CANCELED","response":"No problem, see you."}`),
	}}
	h := newHarness(t, model)
	if err := h.contexts.Update(context.Background(), h.conversation(t, map[string]any{KeySpaceID: "gym-01"})); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if reply := h.send(t, "forget it", nil); reply != "No problem, see you." {
		t.Fatalf("reply = %q", reply)
	}
	if h.store.Len() != 0 {
		t.Fatal("CANCELED must clear the conversation context")
	}
}

func TestMachineMissingFieldsDoNotAdvance(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{responses: []*schema.Message{
		submit(`{"status":"COMPLETED","response":"Done!"}`),
	}}
	h := newHarness(t, model)

	reply := h.send(t, "the big one", map[string]any{KeyStartDate: "2024-06-02", KeyEndDate: "2024-06-03"})
	if !strings.Contains(reply, "spaceId") {
		t.Fatalf("reply = %q", reply)
	}
	if f := h.facts(t); DeriveStep(f) != StepChooseTarget || f.SpaceID != "" {
		t.Fatalf("facts advanced: %+v", f)
	}
}

func TestMachinePartialPeriodKeepsStoredDates(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{responses: []*schema.Message{
		submit(`{"status":"COMPLETED","response":"Gym at 10:00.","spaceId":"gym-01","period":{"startTime":"10:00"}}`),
	}}
	h := newHarness(t, model)

	h.send(t, "the gym at ten", map[string]any{KeyStartDate: "2024-06-02", KeyEndDate: "2024-06-03"})
	f := h.facts(t)
	if f.StartDate != "2024-06-02" || f.EndDate != "2024-06-03" || f.StartTime != "10:00" || f.SpaceID != "gym-01" {
		t.Fatalf("unexpected facts: %+v", f)
	}
	if DeriveStep(f) == StepChoosePeriod {
		t.Fatal("stored dates were erased")
	}
}

func TestMachineSwitchStepIsBounded(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{respond: func(n int) *schema.Message {
		if n%2 == 0 {
			return submit(`{"status":"SWITCH_STEP","response":"","nextStep":"CHOOSE_TARGET"}`)
		}
		return submit(`{"status":"SWITCH_STEP","response":"","nextStep":"CHOOSE_PERIOD","spaceId":"gym-01"}`)
	}}
	h := newHarness(t, model)

	reply := h.send(t, "actually the other one", map[string]any{KeySpaceID: "gym-01"})
	if reply != promptx.Text("en", promptx.MsgTooManySwitches) {
		t.Fatalf("reply = %q", reply)
	}
	if want := toolloop.DefaultMaxDepth + 1; model.calls != want {
		t.Fatalf("provider calls = %d, want %d", model.calls, want)
	}
}

func TestMachineSwitchStepBackwardClearsTarget(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{responses: []*schema.Message{
		submit(`{"status":"SWITCH_STEP","response":"","nextStep":"CHOOSE_TARGET"}`),
		submit(`{"status":"PENDING","response":"Which space then?"}`),
	}}
	h := newHarness(t, model)

	reply := h.send(t, "no, another room", map[string]any{KeySpaceID: "gym-01", KeyStartDate: "2024-06-02"})
	if reply != "Which space then?" {
		t.Fatalf("reply = %q", reply)
	}
	f := h.facts(t)
	if f.SpaceID != "" || f.StartDate != "2024-06-02" || DeriveStep(f) != StepChooseTarget {
		t.Fatalf("unexpected facts: %+v", f)
	}
	if len(model.bound) != 2 || strings.Join(model.bound[1], ",") != strings.Join(append(ToolNames(StepChooseTarget), SubmitTool), ",") {
		t.Fatalf("unexpected bound tools: %v", model.bound)
	}
}

func TestMachineInvalidSwitchIsPending(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{responses: []*schema.Message{
		submit(`{"status":"SWITCH_STEP","response":"Let me book it.","nextStep":"COMPLETE"}`),
	}}
	h := newHarness(t, model)

	reply := h.send(t, "just book it", map[string]any{KeyStartDate: "2024-06-02", KeyEndDate: "2024-06-03"})
	if reply != "Let me book it." || model.calls != 1 {
		t.Fatalf("reply = %q after %d calls", reply, model.calls)
	}
	if h.exec.count(tool.ToolCreateReservation) != 0 {
		t.Fatal("refused switch must not create a reservation")
	}
}

func TestMachineCompletionWithoutCreationStaysPending(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{responses: []*schema.Message{
		submit(`{"status":"COMPLETED","response":"All set!"}`),
	}}
	h := newHarness(t, model)

	h.send(t, "yes", map[string]any{
		KeySpaceID:      "gym-01",
		KeyStartDate:    "2024-06-02",
		KeyEndDate:      "2024-06-03",
		KeySummaryShown: true,
	})
	if f := h.facts(t); f.ReservationCreated || DeriveStep(f) != StepComplete {
		t.Fatalf("unexpected facts: %+v", f)
	}
	if len(h.portal.Reservations()) != 0 {
		t.Fatal("no reservation must exist")
	}
}

func TestMachineProviderFailureFallsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeToolCallingModel{err: errors.New("503")})

	reply := h.send(t, "book a room", nil)
	if reply != promptx.Text("en", promptx.MsgProviderFallback) {
		t.Fatalf("reply = %q", reply)
	}
}

func TestConfirmPaymentRequiresMatchingReservation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeToolCallingModel{})
	ctx := context.Background()

	if err := h.machine.ConfirmPayment(ctx, bob.ConversationID, "r-1"); !errors.Is(err, statex.ErrStateNotFound) {
		t.Fatalf("ConfirmPayment() error = %v, want ErrStateNotFound", err)
	}

	cc := h.conversation(t, map[string]any{KeyReservationCreated: true, KeyReservationID: "r-1"})
	if err := h.contexts.Update(ctx, cc); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := h.machine.ConfirmPayment(ctx, bob.ConversationID, "r-2"); !errors.Is(err, ErrNoPendingPayment) {
		t.Fatalf("ConfirmPayment() error = %v, want ErrNoPendingPayment", err)
	}
	if err := h.machine.ConfirmPayment(ctx, bob.ConversationID, "r-1"); err != nil {
		t.Fatalf("ConfirmPayment() error = %v", err)
	}
	if f := h.facts(t); DeriveStep(f) != StepPaymentConfirmed {
		t.Fatalf("unexpected facts: %+v", f)
	}
}
