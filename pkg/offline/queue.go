package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"healthnet/pkg/config"
)

// Entry is one metrics submission captured while offline.
type Entry struct {
	ID         string          `json:"id"`
	Source     string          `json:"source,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEntry stamps payload with a fresh id and the capture time.
func NewEntry(source string, payload json.RawMessage, now time.Time) (Entry, error) {
	if !json.Valid(payload) {
		return Entry{}, NewError(ErrorInvalidPayload, "payload is not valid json")
	}
	return Entry{
		ID:         uuid.NewString(),
		Source:     source,
		CapturedAt: now.UTC(),
		Payload:    append(json.RawMessage(nil), payload...),
	}, nil
}

// Queue is the durable offline queue. Enqueue and Remove are each a single
// storage transaction, so a flush never drops an entry added after the
// flush read the queue.
type Queue interface {
	Enqueue(ctx context.Context, entry Entry) error
	Pending(ctx context.Context) ([]Entry, error)
	Remove(ctx context.Context, ids []string) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// NewQueue builds the queue selected by cfg.Driver.
func NewQueue(cfg config.QueueConfig, store *Store) (Queue, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if store == nil {
			return nil, NewError(ErrorStorage, "sqlite queue requires a store")
		}
		return NewSQLiteQueue(store), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		return NewRedisQueue(client, cfg.RedisKey), nil
	default:
		return nil, NewError(ErrorStorage, fmt.Sprintf("unsupported queue driver %q", cfg.Driver))
	}
}

type sqliteQueue struct {
	store *Store
}

func NewSQLiteQueue(store *Store) Queue {
	return &sqliteQueue{store: store}
}

func (q *sqliteQueue) Enqueue(ctx context.Context, entry Entry) error {
	_, err := q.store.db.ExecContext(ctx,
		`INSERT INTO offline_queue (id, source, captured_at, payload) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.Source, entry.CapturedAt.UTC(), string(entry.Payload),
	)
	if err != nil {
		return WrapError(ErrorStorage, "enqueue entry", err)
	}
	return nil
}

func (q *sqliteQueue) Pending(ctx context.Context) ([]Entry, error) {
	rows, err := q.store.db.QueryContext(ctx,
		`SELECT id, source, captured_at, payload FROM offline_queue ORDER BY seq`)
	if err != nil {
		return nil, WrapError(ErrorStorage, "read queue", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry   Entry
			source  sql.NullString
			payload string
		)
		if err := rows.Scan(&entry.ID, &source, &entry.CapturedAt, &payload); err != nil {
			return nil, WrapError(ErrorStorage, "scan queue entry", err)
		}
		entry.Source = source.String
		entry.Payload = json.RawMessage(payload)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(ErrorStorage, "read queue", err)
	}
	return entries, nil
}

func (q *sqliteQueue) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	return q.store.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM offline_queue WHERE id = ?`)
		if err != nil {
			return WrapError(ErrorStorage, "prepare delete", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return WrapError(ErrorStorage, "delete entry", err)
			}
		}
		return nil
	})
}

func (q *sqliteQueue) Len(ctx context.Context) (int, error) {
	var count int
	if err := q.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue`).Scan(&count); err != nil {
		return 0, WrapError(ErrorStorage, "count queue", err)
	}
	return count, nil
}

// Close is a no-op; the store is owned by the caller.
func (q *sqliteQueue) Close() error {
	return nil
}
