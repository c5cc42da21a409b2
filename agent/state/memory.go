package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps encoded contexts in process memory. Loads return
// independent copies.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string][]byte
	keyPrefix string
	now       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	o, _ := applyOptions(opts)
	return &MemoryStore{
		items:     make(map[string][]byte),
		keyPrefix: o.keyPrefix,
		now:       time.Now,
	}
}

func (s *MemoryStore) Load(_ context.Context, conversationID string) (*ConversationContext, error) {
	key, err := storeKey(s.keyPrefix, conversationID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	payload, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	return decodeContext(payload)
}

func (s *MemoryStore) Save(_ context.Context, cc *ConversationContext) error {
	payload, err := encodeContext(cc, s.now())
	if err != nil {
		return err
	}
	key, err := storeKey(s.keyPrefix, cc.ConversationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.items[key] = payload
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	key, err := storeKey(s.keyPrefix, conversationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
