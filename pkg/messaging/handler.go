package messaging

import (
	"context"

	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/topics"
)

// Handler processes one record. A nil error acknowledges it; errors are
// classified with pkg/fault to pick between retry and dead-lettering.
type Handler interface {
	Handle(ctx context.Context, rec Record) error
}

type HandlerFunc func(ctx context.Context, rec Record) error

func (f HandlerFunc) Handle(ctx context.Context, rec Record) error { return f(ctx, rec) }

// JSON adapts a typed function to Handler. Decoding happens on every attempt,
// so a bad body fails fast with a decode fault before fn runs.
func JSON[T any](fn func(ctx context.Context, rec Record, env contracts.Envelope[T]) error) Handler {
	return HandlerFunc(func(ctx context.Context, rec Record) error {
		env, err := contracts.Decode[T](rec.Body)
		if err != nil {
			return err
		}
		if env.MessageID == "" {
			env.MessageID = rec.ID()
		}
		return fn(ctx, rec, env)
	})
}

// Route binds a handler to the topic of a message kind.
type Route struct {
	Kind    topics.Kind
	Handler Handler
}
