// Package memory is the in-process event store used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/services/event-service/internal/application/event"
	"github.com/baechuer/event-booking/services/event-service/internal/domain"
)

type claimKey struct {
	eventID   int64
	bookingID int64
}

type Repository struct {
	mu     sync.Mutex
	events map[int64]domain.Event
	claims map[claimKey]time.Time
	nextID int64

	// txMu serialises units of work, standing in for row locks.
	txMu  sync.Mutex
	relay messaging.Relay
}

func New(relay messaging.Relay) *Repository {
	return &Repository{
		events: map[int64]domain.Event{},
		claims: map[claimKey]time.Time{},
		relay:  relay,
	}
}

func (r *Repository) Insert(_ context.Context, e domain.Event) (domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == 0 {
		r.nextID++
		e.ID = r.nextID
	} else if e.ID > r.nextID {
		r.nextID = e.ID
	}
	if _, ok := r.events[e.ID]; ok {
		return domain.Event{}, fault.Permanent(fmt.Errorf("event %d already exists", e.ID))
	}
	r.events[e.ID] = e
	return e, nil
}

func (r *Repository) Get(_ context.Context, id int64) (domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return e, nil
}

// Claims counts seat claims for an event.
func (r *Repository) Claims(eventID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.claims {
		if k.eventID == eventID {
			n++
		}
	}
	return n
}

// WithTx stages every write and applies them together after fn succeeds and
// the commit-bound messages are published.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx event.TxEventRepo, out *messaging.Outbound) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	tx := &txRepo{
		repo:   r,
		events: map[int64]domain.Event{},
		added:  map[claimKey]time.Time{},
		gone:   map[claimKey]bool{},
	}
	out := &messaging.Outbound{}
	if err := fn(ctx, tx, out); err != nil {
		return err
	}
	if err := r.relay.PublishAll(ctx, out.Committed()); err != nil {
		return fmt.Errorf("publish before commit: %w", err)
	}
	if err := r.commit(tx); err != nil {
		return err
	}
	if len(out.AfterCommit()) > 0 {
		r.relay.PublishBestEffort(ctx, out.AfterCommit())
	}
	return nil
}

func (r *Repository) commit(tx *txRepo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range tx.events {
		cur, ok := r.events[id]
		if !ok {
			return fault.Permanent(fmt.Errorf("save event %d: %w", id, domain.ErrEventNotFound))
		}
		if cur.Version != e.Version {
			return fault.Conflict(fmt.Errorf("save event %d: %w", id, domain.ErrVersionConflict))
		}
	}
	for id, e := range tx.events {
		e.Version++
		r.events[id] = e
	}
	for k := range tx.gone {
		delete(r.claims, k)
	}
	for k, at := range tx.added {
		r.claims[k] = at
	}
	return nil
}

type txRepo struct {
	repo   *Repository
	events map[int64]domain.Event
	added  map[claimKey]time.Time
	gone   map[claimKey]bool
}

func (t *txRepo) Lock(_ context.Context, id int64) (domain.Event, error) {
	if e, ok := t.events[id]; ok {
		return e, nil
	}
	return t.repo.Get(context.Background(), id)
}

func (t *txRepo) LockDue(_ context.Context, status domain.EventStatus, now time.Time, limit int) ([]domain.Event, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	var out []domain.Event
	for _, e := range t.repo.events {
		if e.Status != status || e.Cancelled {
			continue
		}
		boundary := e.StartTime
		if status == domain.StatusInProgress {
			boundary = e.EndTime()
		}
		if !boundary.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txRepo) Save(_ context.Context, e domain.Event) error {
	if staged, ok := t.events[e.ID]; ok && staged.Version != e.Version {
		return fault.Conflict(fmt.Errorf("save event %d: %w", e.ID, domain.ErrVersionConflict))
	}
	t.events[e.ID] = e
	return nil
}

func (t *txRepo) InsertClaim(_ context.Context, eventID, bookingID int64, at time.Time) (bool, error) {
	held, _ := t.HasClaim(context.Background(), eventID, bookingID)
	if held {
		return false, nil
	}
	k := claimKey{eventID, bookingID}
	delete(t.gone, k)
	t.added[k] = at
	return true, nil
}

func (t *txRepo) DeleteClaim(_ context.Context, eventID, bookingID int64) (bool, error) {
	held, _ := t.HasClaim(context.Background(), eventID, bookingID)
	if !held {
		return false, nil
	}
	k := claimKey{eventID, bookingID}
	delete(t.added, k)
	t.gone[k] = true
	return true, nil
}

func (t *txRepo) HasClaim(_ context.Context, eventID, bookingID int64) (bool, error) {
	k := claimKey{eventID, bookingID}
	if t.gone[k] {
		return false, nil
	}
	if _, ok := t.added[k]; ok {
		return true, nil
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	_, ok := t.repo.claims[k]
	return ok, nil
}
