package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	routerx "github.com/neohoods/portal-assistant/agent/agents/router"
	contractx "github.com/neohoods/portal-assistant/agent/contract"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
	statex "github.com/neohoods/portal-assistant/agent/state"
	"github.com/neohoods/portal-assistant/agent/tool"
	"github.com/neohoods/portal-assistant/agent/toolloop"
	logx "github.com/neohoods/portal-assistant/pkg/logger"
	metricsx "github.com/neohoods/portal-assistant/pkg/metrics"
)

var ErrNoPendingPayment = errors.New("no reservation waiting for payment in conversation")

type Config struct {
	FrontendURL string `split_words:"true" default:"https://portal.neohoods.example"`
}

// Machine drives the reservation workflow one user message at a time. The
// step is derived from the stored facts on every turn.
type Machine struct {
	loop        *toolloop.Loop
	gateway     *tool.Gateway
	contexts    *statex.Manager
	prompts     promptx.ReservationPrompts
	frontendURL string
	metrics     *metricsx.Metrics

	now func() time.Time
}

var _ routerx.Handler = (*Machine)(nil)

func New(
	loop *toolloop.Loop,
	gateway *tool.Gateway,
	contexts *statex.Manager,
	prompts promptx.ReservationPrompts,
	cfg Config,
	metrics *metricsx.Metrics,
) (*Machine, error) {
	if loop == nil {
		return nil, errors.New("tool loop is required")
	}
	if gateway == nil {
		return nil, errors.New("tool gateway is required")
	}
	if contexts == nil {
		return nil, errors.New("context manager is required")
	}
	if prompts.Base == "" {
		return nil, fmt.Errorf("%w: reservation base prompt", contractx.ErrPromptMissing)
	}

	return &Machine{
		loop:        loop,
		gateway:     gateway,
		contexts:    contexts,
		prompts:     prompts,
		frontendURL: strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/"),
		metrics:     metrics,
		now:         time.Now,
	}, nil
}

func (m *Machine) Handle(ctx context.Context, turn routerx.Turn) (string, error) {
	cc := turn.Context
	if cc == nil {
		return "", statex.ErrNilContext
	}
	facts, err := FactsFrom(cc)
	if err != nil {
		return "", err
	}
	locale := promptx.ResolveLocale(facts.Locale, turn.Auth.PreferredLocale)
	step := DeriveStep(facts)

	var replies []string
	switches := 0
	for {
		logger := stepLogger(cc, step)

		res, err := m.runStep(ctx, step, turn, facts, locale)
		if err != nil {
			if errors.Is(err, contractx.ErrModelInvoke) {
				logger.Warn().Err(err).Msg("reservation step provider failure")
				return joinReplies(replies, promptx.Text(locale, promptx.MsgProviderFallback)), nil
			}
			return "", err
		}
		m.metrics.StepResult(string(step), string(res.Status))
		logger.Debug().Str("status", string(res.Status)).Msg("reservation step result")

		if l := promptx.NormalizeLocale(res.Locale); l != "" {
			locale = l
			cc.Set(KeyLocale, l)
		}

		switch res.Status {
		case StatusCanceled:
			if err := m.contexts.Clear(ctx, cc); err != nil {
				return "", err
			}
			return joinReplies(replies, firstNonEmpty(res.Response, promptx.Text(locale, promptx.MsgReservationCancel))), nil

		case StatusError:
			return m.save(ctx, cc, step, replies, firstNonEmpty(res.Response, promptx.Text(locale, promptx.MsgReservationError)))

		case StatusSwitchStep:
			if switches >= m.loop.MaxDepth() {
				logger.Warn().Int("switches", switches).Msg("step switch limit reached")
				return m.save(ctx, cc, step, replies, promptx.Text(locale, promptx.MsgTooManySwitches))
			}
			next, err := m.switchStep(cc, step, facts, res)
			if err != nil {
				logger.Warn().Err(err).Str("next_step", res.NextStep).Msg("refused step switch")
				return m.save(ctx, cc, step, replies, res.Response)
			}
			switches++
			if facts, err = FactsFrom(cc); err != nil {
				return "", err
			}
			step = next
			continue

		case StatusCompleted:
			if missing := res.MissingFields(step, facts); len(missing) > 0 {
				logger.Warn().Strs("missing", missing).Msg("completed step result lacks required fields")
				return m.save(ctx, cc, step, replies, promptx.Text(locale, promptx.MsgMissingFields, strings.Join(missing, ", ")))
			}
			applyPayload(cc, step, res)
			if facts, err = FactsFrom(cc); err != nil {
				return "", err
			}

			if step == StepPaymentConfirmed || (step == StepComplete && facts.ReservationCreated && !facts.PaymentRequired) {
				if err := m.contexts.Clear(ctx, cc); err != nil {
					return "", err
				}
				return joinReplies(replies, res.Response), nil
			}

			next := DeriveStep(facts)
			if step == StepRequestInfo && next == StepRequestInfo {
				next = StepChooseTarget
			}
			if next.Rank() <= step.Rank() {
				return m.save(ctx, cc, next, replies, res.Response)
			}
			switch {
			case step == StepRequestInfo:
			case next.BackendOnly():
				replies = appendReply(replies, res.Response)
			default:
				return m.save(ctx, cc, next, replies, res.Response)
			}
			step = next
			continue

		default:
			return m.save(ctx, cc, step, replies, res.Response)
		}
	}
}

// ConfirmPayment records the payment event of reservationID. The next turn
// of the conversation thanks the user and ends the workflow.
func (m *Machine) ConfirmPayment(ctx context.Context, conversationID, reservationID string) error {
	cc, err := m.contexts.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if cc.CurrentWorkflow != contractx.WorkflowReservation {
		return fmt.Errorf("%w: conversation_id=%s", ErrNoPendingPayment, conversationID)
	}
	facts, err := FactsFrom(cc)
	if err != nil {
		return err
	}
	if !facts.ReservationCreated || facts.ReservationID != reservationID {
		return fmt.Errorf("%w: conversation_id=%s reservation_id=%s", ErrNoPendingPayment, conversationID, reservationID)
	}
	cc.Set(KeyStep, string(StepPaymentConfirmed))
	cc.Set(KeyReservationStatus, string(tool.ReservationConfirmed))
	return m.contexts.Update(ctx, cc)
}

func (m *Machine) runStep(ctx context.Context, step Step, turn routerx.Turn, facts Facts, locale string) (StepResult, error) {
	switch step {
	case StepConfirmSummary:
		return m.summarize(ctx, turn, facts, locale)
	case StepComplete:
		return m.complete(ctx, turn, facts, locale)
	case StepPaymentInstructions:
		return m.paymentInstructions(ctx, turn, facts, locale)
	case StepPaymentConfirmed:
		return StepResult{
			Status:   StatusCompleted,
			Response: promptx.Text(locale, promptx.MsgPaymentConfirmed, facts.ReservationID),
		}, nil
	default:
		resp, err := m.runModel(ctx, step, turn, facts, locale, m.gateway.Restrict(ToolNames(step)...))
		if err != nil {
			return StepResult{}, err
		}
		return ParseStepResult(resp), nil
	}
}

func (m *Machine) runModel(
	ctx context.Context,
	step Step,
	turn routerx.Turn,
	facts Facts,
	locale string,
	gateway contractx.ToolGateway,
) (toolloop.Response, error) {
	system, err := buildPrompt(m.prompts, step, facts, turn.Auth, locale, m.now().Format(dateLayout))
	if err != nil {
		return toolloop.Response{}, err
	}
	req := toolloop.Request{
		Message:      turn.Message,
		History:      turn.History,
		SystemPrompt: system,
		Tools:        ToolsFor(step),
		Auth:         turn.Auth,
		Purpose:      contractx.PurposeStructured,
		Locale:       locale,
		Structured:   true,
		TerminalTool: SubmitTool,
		Gateway:      gateway,
	}
	if step == StepComplete {
		req.EarlyExitTools = []string{tool.ToolCreateReservation}
	}
	return m.loop.Run(ctx, req)
}

func (m *Machine) switchStep(cc *statex.ConversationContext, from Step, facts Facts, res StepResult) (Step, error) {
	to, ok := ParseStep(res.NextStep)
	if !ok {
		return "", &TransitionError{Code: CodeInvalidTransition, From: from, To: Step(res.NextStep)}
	}
	staged := facts
	if to.Rank() < from.Rank() {
		staged = clearedFacts(staged, to)
	}
	staged = mergePayload(staged, from, res)
	if err := ValidateTransition(from, to, staged); err != nil {
		return "", err
	}

	if to.Rank() < from.Rank() {
		clearFrom(cc, to)
	}
	applyPayload(cc, from, res)
	cc.Set(KeyStep, string(to))
	return to, nil
}

func (m *Machine) save(ctx context.Context, cc *statex.ConversationContext, step Step, replies []string, reply string) (string, error) {
	cc.Set(KeyStep, string(step))
	if err := m.contexts.Update(ctx, cc); err != nil {
		return "", err
	}
	return joinReplies(replies, reply), nil
}

// applyPayload copies the facts carried by res into cc. A REQUEST_INFO
// result never sets the target and empty period fields never erase facts.
func applyPayload(cc *statex.ConversationContext, step Step, res StepResult) {
	if res.SpaceID != "" && step != StepRequestInfo {
		cc.Set(KeySpaceID, res.SpaceID)
	}
	if p := res.Period; p != nil {
		setIfPresent(cc, KeyStartDate, p.StartDate)
		setIfPresent(cc, KeyEndDate, p.EndDate)
		setIfPresent(cc, KeyStartTime, p.StartTime)
		setIfPresent(cc, KeyEndTime, p.EndTime)
	}
}

// setIfPresent keeps the stored value when the result leaves a field out.
func setIfPresent(cc *statex.ConversationContext, key, value string) {
	if strings.TrimSpace(value) != "" {
		cc.Set(key, value)
	}
}

func mergePayload(f Facts, step Step, res StepResult) Facts {
	if res.SpaceID != "" && step != StepRequestInfo {
		f.SpaceID = res.SpaceID
	}
	if p := res.Period; p != nil {
		f.StartDate = firstNonEmpty(p.StartDate, f.StartDate)
		f.EndDate = firstNonEmpty(p.EndDate, f.EndDate)
		f.StartTime = firstNonEmpty(p.StartTime, f.StartTime)
		f.EndTime = firstNonEmpty(p.EndTime, f.EndTime)
	}
	return f
}

func clearedFacts(f Facts, to Step) Facts {
	switch to {
	case StepRequestInfo:
		f.SpaceID, f.StartDate, f.EndDate, f.StartTime, f.EndTime = "", "", "", "", ""
	case StepChooseTarget:
		f.SpaceID = ""
	case StepChoosePeriod:
		f.StartDate, f.EndDate, f.StartTime, f.EndTime = "", "", "", ""
	}
	f.SummaryShown = false
	return f
}

func appendReply(replies []string, reply string) []string {
	if strings.TrimSpace(reply) == "" {
		return replies
	}
	return append(replies, strings.TrimSpace(reply))
}

func joinReplies(replies []string, last string) string {
	return strings.Join(appendReply(replies, last), "\n\n")
}

func stepLogger(cc *statex.ConversationContext, step Step) zerolog.Logger {
	return logx.Conversation(cc.ConversationID).With().
		Str("step", string(step)).
		Logger()
}
