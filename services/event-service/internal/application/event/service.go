// Package event is the read side of events and the store ports shared by the
// capacity handlers and the sweeps.
package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/baechuer/event-booking/services/event-service/internal/domain"
	zlog "github.com/rs/zerolog/log"
)

type Service struct {
	repo  EventRepo
	cache Cache
	clock Clock
	ops   retry.Policy

	ttlDetails time.Duration
}

func New(repo EventRepo, clock Clock, cache Cache, ops retry.Policy, ttlDetails time.Duration) *Service {
	if ttlDetails == 0 {
		ttlDetails = 10 * time.Second
	}
	return &Service{
		repo:       repo,
		cache:      cache,
		clock:      clock,
		ops:        ops.Named("event.get"),
		ttlDetails: ttlDetails,
	}
}

// View is an event with its status derived at read time.
type View struct {
	ID                int64              `json:"id"`
	FacilitatorID     string             `json:"facilitator_id"`
	Title             string             `json:"title"`
	StartTime         time.Time          `json:"start_time"`
	DurationMinutes   int                `json:"duration_minutes"`
	EndTime           time.Time          `json:"end_time"`
	AvailableCapacity int                `json:"available_capacity"`
	Status            domain.EventStatus `json:"status"`
}

func cacheKeyEventDetails(id int64) string {
	return fmt.Sprintf("event:%d", id)
}

// Get loads an event, through the cache when one is configured. The cache
// holds the stored row; the status is always derived against the clock.
func (s *Service) Get(ctx context.Context, id int64) (View, error) {
	if id <= 0 {
		return View{}, domain.ErrValidation("event id must be positive")
	}

	key := cacheKeyEventDetails(id)
	var e domain.Event
	found := false

	if s.cache != nil {
		var err error
		found, err = s.cache.Get(ctx, key, &e)
		if err != nil {
			zlog.Warn().Err(err).Str("key", key).Msg("cache get failed")
			found = false
		}
	}

	if !found {
		var err error
		e, err = retry.Call(ctx, s.ops, func(ctx context.Context) (domain.Event, error) {
			return s.repo.Get(ctx, id)
		})
		if err != nil {
			if errors.Is(err, domain.ErrEventNotFound) {
				return View{}, domain.ErrEventNotFound
			}
			return View{}, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, key, e, s.ttlDetails); err != nil {
				zlog.Warn().Err(err).Str("key", key).Msg("cache set failed")
			}
		}
	}

	return View{
		ID:                e.ID,
		FacilitatorID:     e.FacilitatorID,
		Title:             e.Title,
		StartTime:         e.StartTime,
		DurationMinutes:   e.DurationMinutes,
		EndTime:           e.EndTime(),
		AvailableCapacity: e.AvailableCapacity,
		Status:            e.DerivedStatus(s.clock.Now()),
	}, nil
}

// Forget drops the cached copy after a write.
func (s *Service) Forget(ctx context.Context, ids ...int64) {
	if s.cache == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKeyEventDetails(id)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		zlog.Warn().Err(err).Strs("keys", keys).Msg("cache delete failed")
	}
}
