package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/baechuer/event-booking/services/notification-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeConfirmer struct {
	mu     sync.Mutex
	tokens []string
	res    map[string]error
}

func (f *fakeConfirmer) Confirm(_ context.Context, token string) (domain.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if err, ok := f.res[token]; ok {
		return domain.Confirmation{}, err
	}
	return domain.Confirmation{Token: token, BookingID: 7, EventID: 3, Username: "<ana>", Status: domain.StatusConfirmed}, nil
}

func newRouter(f *fakeConfirmer, rl RateLimitConfig) http.Handler {
	r := chi.NewRouter()
	Mount(r, NewHandler(f, zerolog.Nop()), rl)
	return r
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestConfirm_Statuses(t *testing.T) {
	f := &fakeConfirmer{res: map[string]error{
		"gone":    domain.ErrConfirmationExpired,
		"unknown": domain.ErrConfirmationNotFound,
		"boom":    errors.New("db down"),
	}}
	h := newRouter(f, RateLimitConfig{})

	cases := []struct {
		target string
		status int
	}{
		{"/bookings/confirm?token=ok", http.StatusOK},
		{"/bookings/confirm?token=gone", http.StatusGone},
		{"/bookings/confirm?token=unknown", http.StatusNotFound},
		{"/bookings/confirm?token=boom", http.StatusInternalServerError},
		{"/bookings/confirm", http.StatusBadRequest},
		{"/bookings/confirm?token=%20%20", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			w := get(h, tc.target)
			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		})
	}
	assert.Equal(t, []string{"ok", "gone", "unknown", "boom"}, f.tokens)
}

func TestConfirm_PageEscapesUsername(t *testing.T) {
	w := get(newRouter(&fakeConfirmer{}, RateLimitConfig{}), "/bookings/confirm?token=ok")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Thanks &lt;ana&gt;")
	assert.Contains(t, w.Body.String(), "Booking #7 for event #3")
}

func TestConfirm_RateLimitedPerToken(t *testing.T) {
	h := newRouter(&fakeConfirmer{}, RateLimitConfig{
		Enabled:     true,
		IPLimit:     100,
		IPWindow:    time.Minute,
		TokenLimit:  2,
		TokenWindow: time.Minute,
	})

	assert.Equal(t, http.StatusOK, get(h, "/bookings/confirm?token=a").Code)
	assert.Equal(t, http.StatusOK, get(h, "/bookings/confirm?token=a").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, "/bookings/confirm?token=a").Code)
	assert.Equal(t, http.StatusOK, get(h, "/bookings/confirm?token=b").Code)
}

func TestConfirm_RateLimitedPerIP(t *testing.T) {
	h := newRouter(&fakeConfirmer{}, RateLimitConfig{Enabled: true, IPLimit: 1, IPWindow: time.Minute})

	assert.Equal(t, http.StatusOK, get(h, "/bookings/confirm?token=a").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, "/bookings/confirm?token=b").Code)
}
