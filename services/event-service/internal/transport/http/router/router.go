package router

import (
	"time"

	"github.com/baechuer/event-booking/services/event-service/internal/transport/http/handlers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

type RateLimit struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

// Mount adds the event routes to the service's ops router.
func Mount(r chi.Router, h *handlers.EventsHandler, rl RateLimit) {
	r.Group(func(r chi.Router) {
		if rl.Enabled {
			r.Use(httprate.LimitByIP(rl.Limit, rl.Window))
		}
		r.Get("/events/{event_id}", h.Get)
	})
}
