// Package memory is the in-process booking store used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/services/booking-service/internal/application/lifecycle"
	"github.com/baechuer/event-booking/services/booking-service/internal/domain"
)

type Repository struct {
	mu     sync.Mutex
	rows   map[int64]domain.Booking
	nextID int64

	// txMu serialises units of work the way a row lock would.
	txMu  sync.Mutex
	relay messaging.Relay
}

func New(relay messaging.Relay) *Repository {
	return &Repository{rows: map[int64]domain.Booking{}, relay: relay}
}

// Insert assigns an id when b has none and stores b.
func (r *Repository) Insert(_ context.Context, b domain.Booking) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.ID == 0 {
		r.nextID++
		b.ID = r.nextID
	} else if b.ID > r.nextID {
		r.nextID = b.ID
	}
	if _, ok := r.rows[b.ID]; ok {
		return domain.Booking{}, fault.Permanent(fmt.Errorf("booking %d already exists", b.ID))
	}
	if b.Status == "" {
		b.Status = domain.StatusInProgress
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
		b.UpdatedAt = b.CreatedAt
	}
	r.rows[b.ID] = b
	return b, nil
}

func (r *Repository) Get(_ context.Context, id int64) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return b, nil
}

func (r *Repository) FindByEvent(_ context.Context, eventID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byEvent(eventID, statuses), nil
}

func (r *Repository) FindOverdueEvents(_ context.Context, cutoff time.Time, afterEventID int64, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := map[int64]bool{}
	var out []int64
	for _, b := range r.rows {
		if b.Status.Terminal() || !b.EventDateTime.Before(cutoff) || b.EventID <= afterEventID || seen[b.EventID] {
			continue
		}
		seen[b.EventID] = true
		out = append(out, b.EventID)
	}
	slices.Sort(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) Save(_ context.Context, b domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply([]domain.Booking{b})
}

func (r *Repository) SaveAll(_ context.Context, bs []domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(bs)
}

// WithTx stages writes and applies them only when fn succeeds and every
// Emit message was published.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.TxBookingRepo, out *messaging.Outbound) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	tx := &txRepo{repo: r}
	out := &messaging.Outbound{}
	if err := fn(ctx, tx, out); err != nil {
		return err
	}
	if err := r.relay.PublishAll(ctx, out.Committed()); err != nil {
		return fmt.Errorf("publish before commit: %w", err)
	}

	r.mu.Lock()
	err := r.apply(tx.staged)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if len(out.AfterCommit()) > 0 {
		r.relay.PublishBestEffort(ctx, out.AfterCommit())
	}
	return nil
}

// apply checks every version first so a batch lands whole or not at all.
// Callers hold mu.
func (r *Repository) apply(bs []domain.Booking) error {
	for _, b := range bs {
		cur, ok := r.rows[b.ID]
		if !ok {
			return fault.Permanent(fmt.Errorf("save booking %d: %w", b.ID, domain.ErrBookingNotFound))
		}
		if cur.Version != b.Version {
			return fault.Conflict(fmt.Errorf("save booking %d: %w", b.ID, domain.ErrVersionConflict))
		}
	}
	for _, b := range bs {
		b.Version++
		r.rows[b.ID] = b
	}
	return nil
}

func (r *Repository) byEvent(eventID int64, statuses []domain.BookingStatus) []domain.Booking {
	var out []domain.Booking
	for _, b := range r.rows {
		if b.EventID == eventID && hasStatus(statuses, b.Status) {
			out = append(out, b)
		}
	}
	sortByID(out)
	return out
}

type txRepo struct {
	repo   *Repository
	staged []domain.Booking
}

func (t *txRepo) LockByEvent(_ context.Context, eventID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	return t.repo.byEvent(eventID, statuses), nil
}

func (t *txRepo) SaveAll(_ context.Context, bs []domain.Booking) error {
	t.staged = append(t.staged, bs...)
	return nil
}

func hasStatus(statuses []domain.BookingStatus, s domain.BookingStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func sortByID(bs []domain.Booking) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].ID < bs[j].ID })
}
