// Package web serves the confirmation link mailed to attendees.
package web

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/baechuer/event-booking/services/notification-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
)

type Confirmer interface {
	Confirm(ctx context.Context, token string) (domain.Confirmation, error)
}

type RateLimitConfig struct {
	Enabled bool

	IPLimit     int
	IPWindow    time.Duration
	TokenLimit  int
	TokenWindow time.Duration
}

type Handler struct {
	svc Confirmer
	lg  zerolog.Logger
}

func NewHandler(svc Confirmer, lg zerolog.Logger) *Handler {
	return &Handler{
		svc: svc,
		lg:  lg.With().Str("component", "confirm_web").Logger(),
	}
}

// Mount adds GET /bookings/confirm to r. Limits apply per client IP and,
// separately, per token so one link cannot be hammered from many addresses.
func Mount(r chi.Router, h *Handler, rl RateLimitConfig) {
	r.Group(func(r chi.Router) {
		if rl.Enabled {
			if rl.IPLimit > 0 {
				r.Use(httprate.LimitByIP(rl.IPLimit, rl.IPWindow))
			}
			if rl.TokenLimit > 0 {
				r.Use(httprate.Limit(rl.TokenLimit, rl.TokenWindow, httprate.WithKeyFuncs(keyByToken)))
			}
			h.lg.Info().
				Int("ip_limit", rl.IPLimit).
				Dur("ip_window", rl.IPWindow).
				Int("token_limit", rl.TokenLimit).
				Dur("token_window", rl.TokenWindow).
				Msg("rate limiting configured")
		}
		r.Get("/bookings/confirm", h.Confirm)
	})
}

func keyByToken(r *http.Request) (string, error) {
	return "token:" + tokenFromQuery(r), nil
}

func tokenFromQuery(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type pageData struct {
	Title     string
	Message   string
	BookingID int64
	EventID   int64
}

var page = template.Must(template.New("confirm").Parse(`<!doctype html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
{{- if .BookingID}}
<p style="color: #666;">Booking #{{.BookingID}} for event #{{.EventID}}</p>
{{- end}}
</div>
</body>
</html>`))

// Confirm serves GET /bookings/confirm?token=.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := tokenFromQuery(r)
	if token == "" {
		h.render(w, http.StatusBadRequest, pageData{Title: "Missing token", Message: "This confirmation link is incomplete."})
		return
	}

	c, err := h.svc.Confirm(r.Context(), token)
	switch {
	case err == nil:
		h.render(w, http.StatusOK, pageData{
			Title:     "Booking confirmed",
			Message:   "Thanks " + c.Username + ", your place is confirmed.",
			BookingID: c.BookingID,
			EventID:   c.EventID,
		})
	case errors.Is(err, domain.ErrConfirmationNotFound):
		h.render(w, http.StatusNotFound, pageData{Title: "Link not recognised", Message: "This confirmation link is not valid."})
	case errors.Is(err, domain.ErrConfirmationExpired):
		h.render(w, http.StatusGone, pageData{Title: "Link expired", Message: "The confirmation window for this booking has closed."})
	default:
		h.lg.Error().Err(err).Msg("confirm failed")
		h.render(w, http.StatusInternalServerError, pageData{Title: "Something went wrong", Message: "Please try the link again in a few minutes."})
	}
}

func (h *Handler) render(w http.ResponseWriter, status int, d pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := page.Execute(w, d); err != nil {
		h.lg.Warn().Err(err).Msg("render confirm page")
	}
}
