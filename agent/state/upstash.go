package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UpstashRedisStore persists contexts in Upstash Redis through its REST API.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
	now        func() time.Time
}

var _ Store = (*UpstashRedisStore)(nil)

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &UpstashRedisStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		keyPrefix:  o.keyPrefix,
		ttl:        o.ttl,
		now:        time.Now,
	}, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, conversationID string) (*ConversationContext, error) {
	key, err := storeKey(s.keyPrefix, conversationID)
	if err != nil {
		return nil, err
	}

	resp, err := s.exec(ctx, []any{"GET", key})
	if err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrStateNotFound
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode context payload: %w", err)
	}

	return decodeContext([]byte(encoded))
}

func (s *UpstashRedisStore) Save(ctx context.Context, cc *ConversationContext) error {
	payload, err := encodeContext(cc, s.now())
	if err != nil {
		return err
	}

	key, err := storeKey(s.keyPrefix, cc.ConversationID)
	if err != nil {
		return err
	}

	cmd := []any{"SET", key, string(payload)}
	if s.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(s.ttl))
	}

	_, err = s.exec(ctx, cmd)
	return err
}

func (s *UpstashRedisStore) Delete(ctx context.Context, conversationID string) error {
	key, err := storeKey(s.keyPrefix, conversationID)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, []any{"DEL", key})
	return err
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}

// UpstashLocker is a Locker over the Upstash REST API, for deployments that
// keep their contexts in Upstash.
type UpstashLocker struct {
	store    *UpstashRedisStore
	ttl      time.Duration
	interval time.Duration
}

var _ Locker = (*UpstashLocker)(nil)

// Locker returns a lock sharing the store's endpoint and key prefix.
func (s *UpstashRedisStore) Locker(ttl time.Duration) *UpstashLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &UpstashLocker{store: s, ttl: ttl, interval: 100 * time.Millisecond}
}

func (l *UpstashLocker) Lock(ctx context.Context, key string) (UnlockFunc, error) {
	lockKey := l.store.keyPrefix + "lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		resp, err := l.store.exec(ctx, []any{"SET", lockKey, token, "NX", "PX", l.ttl.Milliseconds()})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: key=%s: %w", ErrLockAcquire, key, ctx.Err())
			}
			return nil, fmt.Errorf("upstash error acquiring lock: %w", err)
		}
		if acquired(resp.Result) {
			return func(ctx context.Context) error {
				_, err := l.store.exec(ctx, []any{"EVAL", unlockScript, 1, lockKey, token})
				return err
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: key=%s: %w", ErrLockAcquire, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// acquired reports a SET NX reply of "OK". A lost race replies null.
func acquired(result json.RawMessage) bool {
	var reply string
	if err := json.Unmarshal(result, &reply); err != nil {
		return false
	}
	return reply == "OK"
}
