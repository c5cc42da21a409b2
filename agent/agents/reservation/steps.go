package reservation

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	routerx "github.com/neohoods/portal-assistant/agent/agents/router"
	contractx "github.com/neohoods/portal-assistant/agent/contract"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
	statex "github.com/neohoods/portal-assistant/agent/state"
	"github.com/neohoods/portal-assistant/agent/tool"
)

const (
	dateLayout       = time.DateOnly
	defaultStartTime = "00:00"
	defaultEndTime   = "23:59"
)

var cancelWords = []string{
	"annuler",
	"cancel",
	"annulation",
	"non finalement",
	"autre chose",
	"changer",
	"recommencer",
	"abandonner",
	"stop",
	"arrêter",
}

// wantsCancel reports whether the user backs out at the confirmation step.
func wantsCancel(message string) bool {
	lower := strings.ToLower(message)
	for _, w := range cancelWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// summarize renders the reservation summary without calling the model.
func (m *Machine) summarize(ctx context.Context, turn routerx.Turn, facts Facts, locale string) (StepResult, error) {
	start, end, err := tool.ParsePeriod(facts.StartDate, facts.EndDate)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", turn.Auth.ConversationID).Msg("stored period is invalid")
		turn.Context.Delete(KeyStartDate, KeyEndDate, KeyStartTime, KeyEndTime)
		return StepResult{
			Status:   StatusPending,
			Response: promptx.Text(locale, promptx.MsgMissingFields, "period."+KeyStartDate+", period."+KeyEndDate),
		}, nil
	}

	space := tool.Space{ID: facts.SpaceID, Name: facts.SpaceID}
	outcome, err := m.invokeOne(ctx, m.gateway.Restrict(tool.ToolGetSpace), turn.Auth, tool.ToolGetSpace, map[string]any{"spaceId": facts.SpaceID})
	if err != nil {
		return StepResult{}, err
	}
	if outcome.Result.Succeeded() {
		if err := json.Unmarshal([]byte(outcome.Result.Text()), &space); err != nil || space.Name == "" {
			space.Name = facts.SpaceID
		}
	}

	lines := []string{
		promptx.Text(locale, promptx.MsgSummaryTitle),
		promptx.Text(locale, promptx.MsgSummarySpace, space.Name),
		promptx.Text(locale, promptx.MsgSummaryDates, facts.StartDate, facts.EndDate),
		promptx.Text(locale, promptx.MsgSummaryTimes, firstNonEmpty(facts.StartTime, defaultStartTime), firstNonEmpty(facts.EndTime, defaultEndTime)),
	}
	nights := tool.Nights(start, end)
	switch {
	case start.Equal(end):
		lines = append(lines, promptx.Text(locale, promptx.MsgSummaryDay))
	case nights == 1:
		lines = append(lines, promptx.Text(locale, promptx.MsgSummaryNight, nights))
	default:
		lines = append(lines, promptx.Text(locale, promptx.MsgSummaryNights, nights))
	}
	if space.RequiresPayment() {
		total := space.Price * float64(nights)
		lines = append(lines, promptx.Text(locale, promptx.MsgSummaryPrice, fmt.Sprintf("%.2f %s", total, space.Currency)))
	}
	lines = append(lines, promptx.Text(locale, promptx.MsgSummaryConfirm))

	turn.Context.Set(KeySummaryShown, true)
	return StepResult{Status: StatusCompleted, Response: strings.Join(lines, "\n")}, nil
}

// complete creates the confirmed reservation. It never creates a second one
// for the same workflow.
func (m *Machine) complete(ctx context.Context, turn routerx.Turn, facts Facts, locale string) (StepResult, error) {
	if facts.ReservationCreated {
		return StepResult{Status: StatusCompleted, Response: m.confirmation(locale, facts.ReservationID, facts.ReservationStatus)}, nil
	}
	if wantsCancel(turn.Message) {
		return StepResult{Status: StatusCanceled, Response: promptx.Text(locale, promptx.MsgReservationCancel)}, nil
	}

	guard := &creationGuard{
		inner: m.gateway.Restrict(ToolNames(StepComplete)...),
		cc:    turn.Context,
		args:  bookingArgs(facts),
	}
	resp, err := m.runModel(ctx, StepComplete, turn, facts, locale, guard)
	if err != nil {
		if _, ok := guard.reservation(); ok {
			if uerr := m.contexts.Update(context.WithoutCancel(ctx), turn.Context); uerr != nil {
				log.Error().Err(uerr).Str("conversation_id", turn.Auth.ConversationID).Msg("persist created reservation")
			}
		}
		return StepResult{}, err
	}

	if r, ok := guard.reservation(); ok {
		return StepResult{Status: StatusCompleted, Response: m.confirmation(locale, r.ID, string(r.Status))}, nil
	}

	res := ParseStepResult(resp)
	if res.Status == StatusCompleted {
		// The model claimed success without a created reservation.
		res.Status = StatusPending
	}
	return res, nil
}

func (m *Machine) confirmation(locale, reservationID, status string) string {
	text := promptx.Text(locale, promptx.MsgReservationDone, reservationID, status)
	if m.frontendURL != "" {
		text += "\n" + promptx.Text(locale, promptx.MsgReservationLink, m.frontendURL+"/spaces/reservations/"+reservationID)
	}
	return text
}

// paymentInstructions hands out the checkout link of the created reservation.
func (m *Machine) paymentInstructions(ctx context.Context, turn routerx.Turn, facts Facts, locale string) (StepResult, error) {
	if facts.PaymentLinkGenerated && facts.PaymentURL != "" {
		return StepResult{Status: StatusPending, Response: promptx.Text(locale, promptx.MsgPaymentPending, facts.PaymentURL)}, nil
	}

	outcome, err := m.invokeOne(ctx, m.gateway.Restrict(tool.ToolGeneratePaymentLink), turn.Auth,
		tool.ToolGeneratePaymentLink, map[string]any{"reservationId": facts.ReservationID})
	if err != nil {
		return StepResult{}, err
	}
	if !outcome.Result.Succeeded() {
		return StepResult{Status: StatusError, Response: promptx.Text(locale, promptx.MsgPaymentFailed, outcome.Result.Text())}, nil
	}

	var link tool.PaymentLink
	if err := json.Unmarshal([]byte(outcome.Result.Text()), &link); err != nil || link.URL == "" {
		return StepResult{Status: StatusError, Response: promptx.Text(locale, promptx.MsgPaymentFailed, "invalid payment link")}, nil
	}
	turn.Context.Set(KeyPaymentURL, link.URL)
	turn.Context.Set(KeyPaymentLinkGenerated, true)
	return StepResult{Status: StatusPending, Response: promptx.Text(locale, promptx.MsgPaymentLink, link.URL)}, nil
}

func (m *Machine) invokeOne(
	ctx context.Context,
	gateway contractx.ToolGateway,
	auth contractx.AuthContext,
	name string,
	args map[string]any,
) (contractx.ToolOutcome, error) {
	outcomes, err := gateway.Execute(ctx, auth, []contractx.ToolRequest{{CallID: "backend-" + name, Tool: name, Args: args}})
	if err != nil {
		return contractx.ToolOutcome{}, err
	}
	if len(outcomes) != 1 {
		return contractx.ToolOutcome{}, contractx.NewCodedError(
			contractx.CodeOutcomeMismatch,
			fmt.Errorf("%w: requested=1 outcomes=%d", contractx.ErrToolOutcomeMismatch, len(outcomes)),
			map[string]string{"conversation_id": auth.ConversationID, "tool": name},
		)
	}
	return outcomes[0], nil
}

// bookingArgs are the create_reservation arguments of the confirmed summary.
func bookingArgs(f Facts) map[string]any {
	args := map[string]any{
		"spaceId":   f.SpaceID,
		"startDate": f.StartDate,
		"endDate":   f.EndDate,
	}
	if f.StartTime != "" {
		args["startTime"] = f.StartTime
	}
	if f.EndTime != "" {
		args["endTime"] = f.EndTime
	}
	return args
}

// creationGuard lets create_reservation succeed at most once, always with the
// confirmed facts as arguments. Later requests get the cached outcome and the
// created reservation is recorded in the conversation context as soon as it
// exists.
type creationGuard struct {
	inner contractx.ToolGateway
	cc    *statex.ConversationContext
	args  map[string]any

	mu      sync.Mutex
	created *tool.Reservation
	cached  contractx.ToolResult
}

var _ contractx.ToolGateway = (*creationGuard)(nil)

func (g *creationGuard) Execute(ctx context.Context, auth contractx.AuthContext, reqs []contractx.ToolRequest) ([]contractx.ToolOutcome, error) {
	outcomes := make([]contractx.ToolOutcome, 0, len(reqs))
	for _, req := range reqs {
		if req.Tool == tool.ToolCreateReservation {
			if cached, ok := g.cachedResult(); ok {
				log.Warn().Str("conversation_id", auth.ConversationID).Msg("duplicate create_reservation request replayed from cache")
				outcomes = append(outcomes, contractx.ToolOutcome{CallID: req.CallID, Tool: req.Tool, Result: cached})
				continue
			}
			if drift := argsDrift(req.Args, g.args); len(drift) > 0 {
				log.Warn().Str("conversation_id", auth.ConversationID).Strs("fields", drift).Msg("create_reservation arguments replaced by confirmed facts")
			}
			req.Args, req.ArgsError = maps.Clone(g.args), ""
		}

		out, err := g.inner.Execute(ctx, auth, []contractx.ToolRequest{req})
		if err != nil {
			return outcomes, err
		}
		if len(out) != 1 {
			return outcomes, fmt.Errorf("%w: requested=1 outcomes=%d", contractx.ErrToolOutcomeMismatch, len(out))
		}
		if req.Tool == tool.ToolCreateReservation && out[0].Result.Succeeded() {
			g.record(out[0].Result)
		}
		outcomes = append(outcomes, out[0])
	}
	return outcomes, nil
}

// argsDrift lists the confirmed fields the model asked to change.
func argsDrift(got, want map[string]any) []string {
	var drift []string
	for _, k := range []string{"spaceId", "startDate", "endDate", "startTime", "endTime"} {
		g, _ := got[k].(string)
		w, _ := want[k].(string)
		if g != "" && strings.TrimSpace(g) != w {
			drift = append(drift, k)
		}
	}
	return drift
}

func (g *creationGuard) cachedResult() (contractx.ToolResult, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cached, g.created != nil
}

func (g *creationGuard) record(res contractx.ToolResult) {
	var r tool.Reservation
	if err := json.Unmarshal([]byte(res.Text()), &r); err != nil || r.ID == "" {
		log.Error().Err(err).Msg("create_reservation returned an unreadable reservation")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = &r
	g.cached = res

	g.cc.Set(KeyReservationCreated, true)
	g.cc.Set(KeyReservationID, r.ID)
	g.cc.Set(KeyReservationStatus, string(r.Status))
	g.cc.Set(KeyPaymentRequired, r.Status == tool.ReservationPendingPayment)
}

func (g *creationGuard) reservation() (tool.Reservation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.created == nil {
		return tool.Reservation{}, false
	}
	return *g.created, true
}
