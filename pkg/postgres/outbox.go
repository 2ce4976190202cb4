package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// OutboxSchema is appended to each service's migrations.
const OutboxSchema = `
CREATE TABLE IF NOT EXISTS outbox (
  id            BIGSERIAL PRIMARY KEY,
  message_id    TEXT        NOT NULL UNIQUE,
  topic         TEXT        NOT NULL,
  msg_key       TEXT        NOT NULL,
  headers       JSONB       NOT NULL DEFAULT '{}'::jsonb,
  payload       BYTEA       NOT NULL,
  status        TEXT        NOT NULL DEFAULT 'pending',
  attempt       INT         NOT NULL DEFAULT 0,
  next_retry_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_error    TEXT,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (next_retry_at) WHERE status = 'pending';
`

const (
	outboxBatchSize   = 20
	outboxMaxAttempts = 12
	outboxInFlight    = 15 * time.Second
)

// InsertOutbox stores msg inside tx. A duplicate message id is ignored.
func InsertOutbox(ctx context.Context, tx pgx.Tx, msg messaging.Message) error {
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("outbox headers: %w", err)
	}
	if msg.Headers == nil {
		headers = []byte("{}")
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (message_id, topic, msg_key, headers, payload)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (message_id) DO NOTHING
	`, msg.MessageID, msg.Topic, msg.Key, string(headers), msg.Body)
	return Wrap("insert outbox", err)
}

// computeNextRetry is exponential with jitter: 2^attempt seconds bounded to
// [5s, 30m], then +/-10%.
func computeNextRetry(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	sec := math.Pow(2, float64(attempt))
	if sec < 5 {
		sec = 5
	}
	if sec > 1800 {
		sec = 1800
	}
	d := time.Duration(sec) * time.Second
	j := time.Duration(rand.Int63n(int64(d/5))) - d/10
	return d + j
}

// OutboxWorker publishes pending outbox rows. It runs as a scheduler sweep.
type OutboxWorker struct {
	pool *pgxpool.Pool
	pub  messaging.Publisher
	lg   zerolog.Logger

	lastErr string
	lastAt  time.Time
}

func NewOutboxWorker(pool *pgxpool.Pool, pub messaging.Publisher, lg zerolog.Logger) *OutboxWorker {
	return &OutboxWorker{
		pool: pool,
		pub:  pub,
		lg:   lg.With().Str("component", "outbox_worker").Logger(),
	}
}

func (w *OutboxWorker) Name() string { return "outbox_relay" }

type outboxRow struct {
	ID        int64
	MessageID string
	Topic     string
	Key       string
	Headers   map[string]any
	Payload   []byte
	Attempt   int
}

// Run claims a batch, pushes the claim into the future so other workers skip
// it, commits to keep locks short, then publishes each row.
func (w *OutboxWorker) Run(ctx context.Context, now time.Time) (int, error) {
	rows, err := w.claim(ctx, now)
	if err != nil {
		w.logBatchErr(err)
		return 0, err
	}
	w.lastErr = ""

	sent := 0
	for _, m := range rows {
		msg := messaging.Message{
			Topic:     m.Topic,
			Key:       m.Key,
			MessageID: m.MessageID,
			Headers:   m.Headers,
			Body:      m.Payload,
		}
		if err := w.pub.Publish(ctx, msg); err != nil {
			w.fail(ctx, m, err.Error())
			continue
		}
		if _, err := w.pool.Exec(ctx, `
			UPDATE outbox SET status = 'sent', last_error = NULL WHERE id = $1
		`, m.ID); err != nil {
			w.lg.Warn().Err(err).Int64("outbox_id", m.ID).Msg("mark sent failed; row will be republished")
			continue
		}
		sent++
		w.lg.Debug().
			Int64("outbox_id", m.ID).
			Str("message_id", m.MessageID).
			Str("topic", m.Topic).
			Msg("published")
	}
	return sent, nil
}

func (w *OutboxWorker) claim(ctx context.Context, now time.Time) ([]outboxRow, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, Wrap("outbox begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, message_id, topic, msg_key, headers, payload, attempt
		FROM outbox
		WHERE status = 'pending'
		  AND next_retry_at <= $1
		ORDER BY next_retry_at ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, outboxBatchSize)
	if err != nil {
		return nil, Wrap("outbox claim", err)
	}

	var out []outboxRow
	for rows.Next() {
		var m outboxRow
		var headers []byte
		if err := rows.Scan(&m.ID, &m.MessageID, &m.Topic, &m.Key, &headers, &m.Payload, &m.Attempt); err != nil {
			rows.Close()
			return nil, Wrap("outbox scan", err)
		}
		_ = json.Unmarshal(headers, &m.Headers)
		out = append(out, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, Wrap("outbox rows", err)
	}
	if len(out) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, len(out))
	for i, m := range out {
		ids[i] = m.ID
	}
	if _, err := tx.Exec(ctx, `
		UPDATE outbox SET next_retry_at = $2 WHERE id = ANY($1)
	`, ids, now.Add(outboxInFlight)); err != nil {
		return nil, Wrap("outbox mark in-flight", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, Wrap("outbox claim commit", err)
	}
	return out, nil
}

func (w *OutboxWorker) fail(ctx context.Context, m outboxRow, errMsg string) {
	next := m.Attempt + 1
	if next >= outboxMaxAttempts {
		_, _ = w.pool.Exec(ctx, `
			UPDATE outbox SET status = 'dead', attempt = $2, last_error = $3 WHERE id = $1
		`, m.ID, next, errMsg)
		w.lg.Error().
			Int64("outbox_id", m.ID).
			Str("message_id", m.MessageID).
			Str("topic", m.Topic).
			Int("attempt", next).
			Msg("outbox moved to DEAD")
		return
	}

	delay := computeNextRetry(next)
	_, _ = w.pool.Exec(ctx, `
		UPDATE outbox
		SET attempt = $2, next_retry_at = NOW() + $3::interval, last_error = $4
		WHERE id = $1
	`, m.ID, next, fmt.Sprintf("%f seconds", delay.Seconds()), errMsg)

	w.lg.Warn().
		Int64("outbox_id", m.ID).
		Str("message_id", m.MessageID).
		Str("topic", m.Topic).
		Int("attempt", next).
		Dur("retry_in", delay).
		Msg("outbox publish failed; scheduled retry")
}

func (w *OutboxWorker) logBatchErr(err error) {
	if err.Error() != w.lastErr || time.Since(w.lastAt) > 10*time.Second {
		w.lg.Warn().Err(err).Msg("outbox batch failed")
		w.lastErr = err.Error()
		w.lastAt = time.Now()
	}
}

// OutboxPurge deletes sent rows older than retention.
type OutboxPurge struct {
	pool      *pgxpool.Pool
	retention time.Duration
}

func NewOutboxPurge(pool *pgxpool.Pool, retention time.Duration) *OutboxPurge {
	return &OutboxPurge{pool: pool, retention: retention}
}

func (p *OutboxPurge) Name() string { return "outbox_purge" }

func (p *OutboxPurge) Run(ctx context.Context, now time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM outbox WHERE status = 'sent' AND created_at < $1
	`, now.Add(-p.retention))
	if err != nil {
		return 0, Wrap("outbox purge", err)
	}
	return int(tag.RowsAffected()), nil
}
