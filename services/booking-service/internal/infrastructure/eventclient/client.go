// Package eventclient reads events from the event service over HTTP.
package eventclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/services/booking-service/internal/application/lifecycle"
	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	client  *http.Client
	lg      zerolog.Logger
}

func New(baseURL string, timeout time.Duration, lg zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		lg:      lg.With().Str("component", "event_client").Logger(),
	}
}

type eventResponse struct {
	Event lifecycle.EventView `json:"event"`
}

// GetEvent fetches GET /events/{id}. 404 maps to lifecycle.ErrEventNotFound,
// 5xx and transport errors are transient, other statuses permanent.
func (c *Client) GetEvent(ctx context.Context, id int64) (lifecycle.EventView, error) {
	url := fmt.Sprintf("%s/events/%d", c.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return lifecycle.EventView{}, fault.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return lifecycle.EventView{}, fault.Transient(fmt.Errorf("get event %d: %w", id, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return lifecycle.EventView{}, lifecycle.ErrEventNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return lifecycle.EventView{}, fault.Transientf("get event %d: status %d", id, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return lifecycle.EventView{}, fault.Permanentf("get event %d: status %d: %s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return lifecycle.EventView{}, fault.Permanent(fmt.Errorf("decode event %d: %w", id, err))
	}
	c.lg.Debug().Int64("event_id", id).Str("status", out.Event.Status).Msg("event fetched")
	return out.Event, nil
}
