// Package memory is the in-process confirmation store used for local runs and
// tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/services/notification-service/internal/application/notify"
	"github.com/baechuer/event-booking/services/notification-service/internal/domain"
)

type Repository struct {
	mu   sync.Mutex
	rows map[string]domain.Confirmation

	// txMu serialises units of work, standing in for row locks.
	txMu  sync.Mutex
	relay messaging.Relay
}

func New(relay messaging.Relay) *Repository {
	return &Repository{rows: map[string]domain.Confirmation{}, relay: relay}
}

func (r *Repository) Insert(_ context.Context, c domain.Confirmation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[c.Token]; ok {
		return fault.Permanent(fmt.Errorf("confirmation token %s already exists", c.Token))
	}
	r.rows[c.Token] = c
	return nil
}

// Get is a read for tests.
func (r *Repository) Get(token string) (domain.Confirmation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[token]
	return c, ok
}

func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *Repository) FindLive(_ context.Context, bookingID int64, now time.Time) (domain.Confirmation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best domain.Confirmation
	found := false
	for _, c := range r.rows {
		if c.BookingID != bookingID || !c.Live(now) {
			continue
		}
		if !found || c.CreatedAt.After(best.CreatedAt) {
			best, found = c, true
		}
	}
	return best, found, nil
}

func (r *Repository) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for tok, c := range r.rows {
		if c.CreatedAt.Before(cutoff) {
			delete(r.rows, tok)
			n++
		}
	}
	return n, nil
}

// WithTx stages saves and applies them after fn succeeds and the
// commit-bound messages are published.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx notify.TxConfirmationRepo, out *messaging.Outbound) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	tx := &txRepo{repo: r, staged: map[string]domain.Confirmation{}}
	out := &messaging.Outbound{}
	if err := fn(ctx, tx, out); err != nil {
		return err
	}
	if err := r.relay.PublishAll(ctx, out.Committed()); err != nil {
		return fmt.Errorf("publish before commit: %w", err)
	}
	if err := r.commit(tx.staged); err != nil {
		return err
	}
	if len(out.AfterCommit()) > 0 {
		r.relay.PublishBestEffort(ctx, out.AfterCommit())
	}
	return nil
}

func (r *Repository) commit(staged map[string]domain.Confirmation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tok, c := range staged {
		cur, ok := r.rows[tok]
		if !ok {
			return fault.Permanent(fmt.Errorf("save confirmation: %w", domain.ErrConfirmationNotFound))
		}
		if cur.Version != c.Version {
			return fault.Conflict(fmt.Errorf("save confirmation: %w", domain.ErrVersionConflict))
		}
	}
	for tok, c := range staged {
		c.Version++
		r.rows[tok] = c
	}
	return nil
}

type txRepo struct {
	repo   *Repository
	staged map[string]domain.Confirmation
}

func (t *txRepo) Lock(_ context.Context, token string) (domain.Confirmation, error) {
	if c, ok := t.staged[token]; ok {
		return c, nil
	}
	c, ok := t.repo.Get(token)
	if !ok {
		return domain.Confirmation{}, domain.ErrConfirmationNotFound
	}
	return c, nil
}

func (t *txRepo) LockElapsed(_ context.Context, now time.Time, limit int) ([]domain.Confirmation, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	var out []domain.Confirmation
	for _, c := range t.repo.rows {
		if c.Status == domain.StatusAwaiting && c.Elapsed(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txRepo) Save(_ context.Context, c domain.Confirmation) error {
	if staged, ok := t.staged[c.Token]; ok && staged.Version != c.Version {
		return fault.Conflict(fmt.Errorf("save confirmation: %w", domain.ErrVersionConflict))
	}
	t.staged[c.Token] = c
	return nil
}
