package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	routerx "github.com/neohoods/portal-assistant/agent/agents/router"
	contractx "github.com/neohoods/portal-assistant/agent/contract"
	nodex "github.com/neohoods/portal-assistant/agent/nodes/orchestrator"
	statex "github.com/neohoods/portal-assistant/agent/state"
	"github.com/neohoods/portal-assistant/agent/tool"
	metricsx "github.com/neohoods/portal-assistant/pkg/metrics"
)

var (
	ErrInvalidConversation = nodex.ErrInvalidConversation
	ErrInvalidSender       = nodex.ErrInvalidSender
)

type Config struct {
	LockTimeout  time.Duration `split_words:"true" default:"30s"`
	HistoryLimit int           `split_words:"true" default:"20"`
}

// UserResolver maps a sender to a portal user.
type UserResolver interface {
	ResolveUser(ctx context.Context, auth contractx.AuthContext) (tool.User, error)
}

// PaymentConfirmer records a payment event on a conversation.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, conversationID, reservationID string) error
}

type Reply struct {
	Workflow contractx.Workflow `json:"workflow"`
	Reply    string             `json:"reply"`
}

// Orchestrator runs one turn per conversation at a time.
type Orchestrator struct {
	router   *routerx.Router
	history  contractx.HistoryStore
	locker   statex.Locker
	users    UserResolver
	payments PaymentConfirmer
	metrics  *metricsx.Metrics

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	lockTimeout  time.Duration
	historyLimit int

	now func() time.Time
}

func New(
	router *routerx.Router,
	history contractx.HistoryStore,
	locker statex.Locker,
	users UserResolver,
	payments PaymentConfirmer,
	cfg Config,
	m *metricsx.Metrics,
) (*Orchestrator, error) {
	if router == nil {
		return nil, errors.New("router is required")
	}
	if locker == nil {
		return nil, errors.New("conversation locker is required")
	}
	if history == nil {
		history = noopHistoryStore{}
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 30 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}

	o := &Orchestrator{
		router:       router,
		history:      history,
		locker:       locker,
		users:        users,
		payments:     payments,
		metrics:      m,
		lockTimeout:  cfg.LockTimeout,
		historyLimit: cfg.HistoryLimit,
		now:          time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage processes one user message. A second message of the same
// conversation waits for the first one, up to the lock timeout.
func (o *Orchestrator) HandleMessage(ctx context.Context, auth contractx.AuthContext, message string) (Reply, error) {
	unlock, err := o.lock(ctx, auth.ConversationID)
	if err != nil {
		o.metrics.Turn("busy")
		return Reply{}, err
	}
	defer o.release(unlock, auth.ConversationID)

	auth = o.resolveUser(ctx, auth)

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{Auth: auth, Message: message})
	if err != nil {
		o.metrics.Turn(turnOutcome(err))
		return Reply{}, err
	}
	o.metrics.Turn("ok")
	return Reply{Workflow: out.Workflow, Reply: out.Reply}, nil
}

// ConfirmPayment applies a payment event under the conversation lock.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, conversationID, reservationID string) error {
	if o.payments == nil {
		return errors.New("payment confirmation is not configured")
	}
	unlock, err := o.lock(ctx, conversationID)
	if err != nil {
		return err
	}
	defer o.release(unlock, conversationID)

	return o.payments.ConfirmPayment(ctx, conversationID, reservationID)
}

func (o *Orchestrator) lock(ctx context.Context, conversationID string) (statex.UnlockFunc, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversation
	}
	lockCtx, cancel := context.WithTimeout(ctx, o.lockTimeout)
	defer cancel()

	unlock, err := o.locker.Lock(lockCtx, conversationID)
	if err != nil {
		if errors.Is(err, statex.ErrLockAcquire) {
			return nil, contractx.NewCodedError(contractx.CodeConversationBusy,
				fmt.Errorf("%w: %v", contractx.ErrConversationBusy, err),
				map[string]string{"conversation_id": conversationID})
		}
		return nil, err
	}
	return unlock, nil
}

func (o *Orchestrator) release(unlock statex.UnlockFunc, conversationID string) {
	if err := unlock(context.Background()); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("release conversation lock")
	}
}

// resolveUser fills the portal identity of auth. Unknown senders keep the
// identity they came with; domain actions reject them later.
func (o *Orchestrator) resolveUser(ctx context.Context, auth contractx.AuthContext) contractx.AuthContext {
	if o.users == nil {
		return auth
	}
	u, err := o.users.ResolveUser(ctx, auth)
	if err != nil {
		log.Debug().Err(err).Str("sender_id", auth.SenderID).Msg("sender is not a portal user")
		return auth
	}
	if auth.UserID == "" {
		auth.UserID = u.ID
	}
	if auth.DisplayName == "" {
		auth.DisplayName = u.DisplayName
	}
	if auth.PreferredLocale == "" {
		auth.PreferredLocale = u.PreferredLocale
	}
	return auth
}

func turnOutcome(err error) string {
	if code := contractx.CodeOf(err); code != "" {
		return code
	}
	return "error"
}

type noopHistoryStore struct{}

func (noopHistoryStore) Recent(context.Context, string, int) ([]contractx.HistoryMessage, error) {
	return nil, nil
}

func (noopHistoryStore) Append(context.Context, string, ...contractx.HistoryMessage) error {
	return nil
}
