package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnknownDriver = errors.New("unknown history driver")

type Config struct {
	Driver string `default:"sqlite"`
	DSN    string `default:"file::memory:?cache=shared"`
}

type messageRow struct {
	bun.BaseModel `bun:"table:conversation_messages"`

	ID             int64     `bun:"id,pk,autoincrement"`
	ConversationID string    `bun:"conversation_id,notnull"`
	Role           string    `bun:"role,notnull"`
	Content        string    `bun:"content,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

// Store keeps conversation transcripts in a SQL database.
type Store struct {
	db *bun.DB
}

var _ contractx.HistoryStore = (*Store)(nil)

// Open connects to the configured database and creates the message table.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var db *bun.DB
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		sqldb, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite history: %w", err)
		}
		if strings.Contains(cfg.DSN, ":memory:") || strings.Contains(cfg.DSN, "mode=memory") {
			sqldb.SetMaxOpenConns(1)
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*messageRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	if _, err := s.db.NewCreateIndex().
		Model((*messageRow)(nil)).
		Index("conversation_messages_conversation_idx").
		Column("conversation_id", "id").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create history index: %w", err)
	}
	return nil
}

// Recent returns at most limit messages of the conversation, oldest first.
func (s *Store) Recent(ctx context.Context, conversationID string, limit int) ([]contractx.HistoryMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []messageRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("conversation_id = ?", conversationID).
		OrderExpr("id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select history conversation_id=%s: %w", conversationID, err)
	}

	out := make([]contractx.HistoryMessage, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = contractx.HistoryMessage{
			Role:    contractx.Role(row.Role),
			Content: row.Content,
			At:      row.CreatedAt.UTC(),
		}
	}
	return out, nil
}

func (s *Store) Append(ctx context.Context, conversationID string, msgs ...contractx.HistoryMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]messageRow, 0, len(msgs))
	for _, m := range msgs {
		at := m.At
		if at.IsZero() {
			at = time.Now()
		}
		rows = append(rows, messageRow{
			ConversationID: conversationID,
			Role:           string(m.Role),
			Content:        m.Content,
			CreatedAt:      at.UTC(),
		})
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("insert history conversation_id=%s: %w", conversationID, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
