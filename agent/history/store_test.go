package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: dsn + "&_pragma=busy_timeout(5000)"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRecentReturnsLatestInOrder(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		role := contractx.RoleUser
		if i%2 == 1 {
			role = contractx.RoleAssistant
		}
		msg := contractx.HistoryMessage{Role: role, Content: fmt.Sprintf("message %d", i), At: at.Add(time.Duration(i) * time.Minute)}
		if err := s.Append(ctx, "room-1", msg); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := s.Append(ctx, "room-2", contractx.HistoryMessage{Role: contractx.RoleUser, Content: "other room"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := s.Recent(ctx, "room-1", 4)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(got))
	}
	for i, want := range []string{"message 2", "message 3", "message 4", "message 5"} {
		if got[i].Content != want {
			t.Fatalf("message #%d = %q, want %q", i, got[i].Content, want)
		}
	}
	if got[1].Role != contractx.RoleAssistant {
		t.Fatalf("unexpected role: %s", got[1].Role)
	}
}

func TestStoreAppendBatchAndEmptyConversation(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.Recent(ctx, "unknown", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no messages, got %d", len(got))
	}

	err = s.Append(ctx, "room-1",
		contractx.HistoryMessage{Role: contractx.RoleUser, Content: "Je voudrais réserver la salle de sport"},
		contractx.HistoryMessage{Role: contractx.RoleAssistant, Content: "Pour quelles dates ?"},
	)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	got, err = s.Recent(ctx, "room-1", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].Role != contractx.RoleUser || got[1].Content != "Pour quelles dates ?" {
		t.Fatalf("unexpected history: %+v", got)
	}

	if got, _ := s.Recent(ctx, "room-1", 0); got != nil {
		t.Fatalf("zero limit must return nil, got %+v", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{Driver: "oracle"})
	if !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}
