// Package contracts holds the wire format shared by every service: a versioned
// JSON envelope around one of three payload shapes.
package contracts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const CurrentVersion = 1

// Envelope is the canonical message body. message_id is filled by producers;
// consumers fall back to a content hash when an older producer omits it.
type Envelope[T any] struct {
	Version    int       `json:"version"`
	Producer   string    `json:"producer"`
	TraceID    string    `json:"trace_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    T         `json:"payload"`
}

// Keyed payloads know the entity id that orders them.
type Keyed interface {
	Key() string
}

// NewEnvelope stamps payload with a fresh message id and the current time.
func NewEnvelope[T any](producer string, payload T, now time.Time) Envelope[T] {
	return Envelope[T]{
		Version:    CurrentVersion,
		Producer:   producer,
		MessageID:  uuid.NewString(),
		OccurredAt: now.UTC(),
		Payload:    payload,
	}
}

func Encode[T any](env Envelope[T]) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses body and validates the payload. Every failure is a decode
// fault: the record is dead-lettered without retry.
func Decode[T any](body []byte) (Envelope[T], error) {
	var env Envelope[T]
	if len(body) == 0 {
		return env, fault.Decodef("empty body")
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fault.Decodef("bad json: %w", err)
	}
	if env.Version > CurrentVersion {
		return env, fault.Decodef("unsupported envelope version %d", env.Version)
	}
	if err := validate.Struct(env.Payload); err != nil {
		return env, fault.Decodef("invalid payload: %s", describe(err))
	}
	return env, nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
