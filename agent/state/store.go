package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrStateNotFound       = errors.New("conversation context not found")
	ErrNilContext          = errors.New("conversation context is nil")
	ErrInvalidConversation = errors.New("conversation id is empty")
)

const (
	defaultStoreKeyPrefix = "assistant:conversation:"
	defaultStoreTTL       = 24 * time.Hour
	maxResponseSizeBytes  = 2 << 20
)

// Store is the persistence contract for conversation contexts. Save followed
// by Load on the same key must observe the saved value.
type Store interface {
	Load(ctx context.Context, conversationID string) (*ConversationContext, error)
	Save(ctx context.Context, cc *ConversationContext) error
	Delete(ctx context.Context, conversationID string) error
}

type storeOptions struct {
	keyPrefix  string
	ttl        time.Duration
	httpClient *http.Client
}

// StoreOption customizes a Store implementation.
type StoreOption func(*storeOptions)

func WithKeyPrefix(prefix string) StoreOption {
	return func(o *storeOptions) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			o.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.ttl = ttl
	}
}

// WithHTTPClient is honored by the Upstash REST store only.
func WithHTTPClient(client *http.Client) StoreOption {
	return func(o *storeOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

func applyOptions(opts []StoreOption) (storeOptions, error) {
	o := storeOptions{
		keyPrefix: defaultStoreKeyPrefix,
		ttl:       defaultStoreTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.ttl < 0 {
		return o, errors.New("ttl must be >= 0")
	}
	return o, nil
}

func storeKey(prefix, conversationID string) (string, error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", ErrInvalidConversation
	}
	return strings.TrimSpace(prefix) + conversationID, nil
}

func encodeContext(cc *ConversationContext, now time.Time) ([]byte, error) {
	if cc == nil {
		return nil, ErrNilContext
	}
	if strings.TrimSpace(cc.ConversationID) == "" {
		return nil, ErrInvalidConversation
	}
	cc.touch(now)
	payload, err := json.Marshal(cc)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation context: %w", err)
	}
	return payload, nil
}

func decodeContext(payload []byte) (*ConversationContext, error) {
	var cc ConversationContext
	if err := json.Unmarshal(payload, &cc); err != nil {
		return nil, fmt.Errorf("unmarshal conversation context: %w", err)
	}
	cc.ensureState()
	if err := cc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid conversation context loaded from store: %w", err)
	}
	return &cc, nil
}

// Manager is the keyed get/create/update/clear facade the agents use.
type Manager struct {
	store Store
	now   func() time.Time
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

func (m *Manager) Get(ctx context.Context, conversationID string) (*ConversationContext, error) {
	return m.store.Load(ctx, conversationID)
}

// GetOrCreate loads the context or returns a fresh, unsaved one.
func (m *Manager) GetOrCreate(ctx context.Context, conversationID string) (*ConversationContext, bool, error) {
	cc, err := m.store.Load(ctx, conversationID)
	if err == nil {
		return cc, false, nil
	}
	if !errors.Is(err, ErrStateNotFound) {
		return nil, false, err
	}
	return NewConversationContext(conversationID, m.now()), true, nil
}

func (m *Manager) Update(ctx context.Context, cc *ConversationContext) error {
	if cc == nil {
		return ErrNilContext
	}
	cc.Version++
	return m.store.Save(ctx, cc)
}

// Clear deletes the stored context and resets cc in place so later reads in
// the same turn see "no workflow".
func (m *Manager) Clear(ctx context.Context, cc *ConversationContext) error {
	if cc == nil {
		return ErrNilContext
	}
	cc.ClearWorkflow()
	return m.store.Delete(ctx, cc.ConversationID)
}
