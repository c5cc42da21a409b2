package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
	statex "github.com/neohoods/portal-assistant/agent/state"
	logx "github.com/neohoods/portal-assistant/pkg/logger"
	metricsx "github.com/neohoods/portal-assistant/pkg/metrics"
)

type Config struct {
	HistoryLimit    int           `split_words:"true" default:"10"`
	RecencyWindow   time.Duration `split_words:"true" default:"15m"`
	ShortMessageMax int           `split_words:"true" default:"18"`
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = 15 * time.Minute
	}
	if c.ShortMessageMax <= 0 {
		c.ShortMessageMax = 18
	}
	return c
}

// overrideWords force the reservation workflow whatever the classifier says.
var overrideWords = []string{
	"réserv",
	"reserv",
	"booking",
	"book",
	"parking",
	"place de parking",
}

// Result is the outcome of one routed turn.
type Result struct {
	Workflow contractx.Workflow
	Source   string
	Reply    string
}

type Router struct {
	classifier Classifier
	contexts   *statex.Manager
	handlers   map[contractx.Workflow]Handler
	cfg        Config
	metrics    *metricsx.Metrics

	now func() time.Time
}

func New(classifier Classifier, contexts *statex.Manager, cfg Config, m *metricsx.Metrics) (*Router, error) {
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if contexts == nil {
		return nil, errors.New("context manager is required")
	}
	return &Router{
		classifier: classifier,
		contexts:   contexts,
		handlers:   make(map[contractx.Workflow]Handler, len(contractx.Workflows())),
		cfg:        cfg.withDefaults(),
		metrics:    m,
		now:        time.Now,
	}, nil
}

// Register installs the handler of w. Register is not safe for use once
// Route is being called.
func (r *Router) Register(w contractx.Workflow, h Handler) {
	if h == nil {
		delete(r.handlers, w)
		return
	}
	r.handlers[w] = h
}

// Route classifies message, persists the resolved workflow and dispatches
// the turn to its handler. Workflows without a handler fall back to GENERAL.
func (r *Router) Route(ctx context.Context, message string, history []contractx.HistoryMessage, auth contractx.AuthContext) (Result, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{Source: SourceDefault, Reply: promptx.Text(auth.PreferredLocale, promptx.MsgEmptyMessage)}, nil
	}

	cc, _, err := r.contexts.GetOrCreate(ctx, auth.ConversationID)
	if err != nil {
		return Result{}, fmt.Errorf("load conversation context: %w", err)
	}
	now := r.now()
	locale := promptx.ResolveLocale(cc.GetString("locale"), auth.PreferredLocale)
	logger := logx.Conversation(auth.ConversationID)

	var current contractx.Workflow
	if !cc.LastUserMessageAt.IsZero() && now.Sub(cc.LastUserMessageAt) <= r.cfg.RecencyWindow {
		current = cc.CurrentWorkflow
	}

	var decision Decision
	if current != "" && utf8.RuneCountInString(message) <= r.cfg.ShortMessageMax {
		decision = Decision{Workflow: current, Source: SourceContinuity}
	} else {
		decision, err = r.classifier.Classify(ctx, ClassifyRequest{
			Message:         message,
			History:         pruneHistory(history, r.cfg.HistoryLimit, r.cfg.RecencyWindow, now),
			CurrentWorkflow: current,
			Auth:            auth,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("classification failed, using default workflow")
			decision = Decision{Workflow: contractx.WorkflowGeneral, Source: SourceDefault}
		}
	}
	if decision.Workflow != contractx.WorkflowReservation && matchesOverride(message) {
		decision = Decision{Workflow: contractx.WorkflowReservation, Source: SourceOverride}
	}

	w := decision.Workflow
	if w.RequiresPrivate() && !auth.Private {
		r.metrics.Route(string(w), "private_required")
		return Result{Workflow: w, Source: decision.Source}, contractx.NewCodedError(
			contractx.CodePrivateRequired,
			fmt.Errorf("%w: workflow=%s", contractx.ErrPrivacyRequired, w),
			map[string]string{
				"workflow":        string(w),
				"conversation_id": auth.ConversationID,
			},
		)
	}

	cc.SetWorkflow(w)
	cc.LastUserMessageAt = now.UTC()
	if err := r.contexts.Update(ctx, cc); err != nil {
		return Result{}, fmt.Errorf("save conversation context: %w", err)
	}

	handler, ok := r.handlers[w]
	if !ok {
		handler, ok = r.handlers[contractx.WorkflowGeneral]
	}
	if !ok {
		return Result{}, contractx.NewCodedError(
			contractx.CodeRouterError,
			fmt.Errorf("%w: no handler for workflow=%s", contractx.ErrValidation, w),
			map[string]string{"workflow": string(w)},
		)
	}

	r.metrics.Route(string(w), decision.Source)
	logger.Debug().Str("workflow", string(w)).Str("source", decision.Source).Msg("message routed")

	reply, err := handler.Handle(ctx, Turn{
		Message: message,
		History: history,
		Context: cc,
		Auth:    auth,
	})
	if err != nil {
		if errors.Is(err, contractx.ErrModelInvoke) {
			logger.Warn().Err(err).Str("workflow", string(w)).Msg("handler provider failure")
			return Result{Workflow: w, Source: decision.Source, Reply: promptx.Text(locale, promptx.MsgProviderFallback)}, nil
		}
		return Result{Workflow: w, Source: decision.Source}, err
	}
	return Result{Workflow: w, Source: decision.Source, Reply: reply}, nil
}

func matchesOverride(message string) bool {
	lower := strings.ToLower(message)
	for _, w := range overrideWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// pruneHistory keeps the last limit messages that are inside the recency
// window. Messages without a timestamp are kept.
func pruneHistory(history []contractx.HistoryMessage, limit int, window time.Duration, now time.Time) []contractx.HistoryMessage {
	cutoff := now.Add(-window)
	out := make([]contractx.HistoryMessage, 0, limit)
	for _, h := range history {
		if !h.At.IsZero() && h.At.Before(cutoff) {
			continue
		}
		out = append(out, h)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
