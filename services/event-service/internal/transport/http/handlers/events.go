package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/baechuer/event-booking/services/event-service/internal/application/event"
	"github.com/baechuer/event-booking/services/event-service/internal/domain"
	"github.com/baechuer/event-booking/services/event-service/internal/transport/http/response"
	"github.com/go-chi/chi/v5"
)

type EventReader interface {
	Get(ctx context.Context, id int64) (event.View, error)
}

type EventsHandler struct {
	svc EventReader
}

func NewEventsHandler(svc EventReader) *EventsHandler {
	return &EventsHandler{svc: svc}
}

type eventResp struct {
	Event event.View `json:"event"`
}

// Get serves GET /events/{event_id}.
func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "event_id"), 10, 64)
	if err != nil {
		response.Err(w, r, domain.ErrValidation("event id must be an integer"))
		return
	}

	v, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, eventResp{Event: v})
}
