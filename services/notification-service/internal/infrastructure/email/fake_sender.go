package email

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/baechuer/event-booking/services/notification-service/internal/application/notify"
	"github.com/rs/zerolog"
)

// FakeSender is a development/testing sender.
// It can simulate transient/permanent failures via env var.
//
// FAKE_FAIL_MODE:
// - "none" (default): always succeed
// - "transient": return Temporary() error (retriable)
// - "permanent": return Permanent() error (non-retriable)
type FakeSender struct {
	lg   zerolog.Logger
	mode string

	mu   sync.Mutex
	sent []notify.Mail
}

func NewFakeSender(lg zerolog.Logger) *FakeSender {
	return &FakeSender{
		lg:   lg.With().Str("component", "fake_sender").Logger(),
		mode: strings.TrimSpace(strings.ToLower(os.Getenv("FAKE_FAIL_MODE"))),
	}
}

func (s *FakeSender) Send(_ context.Context, m notify.Mail) error {
	r, err := Render(m)
	if err != nil {
		return err
	}
	if err := s.maybeFail(m.Kind); err != nil {
		return err
	}

	s.mu.Lock()
	s.sent = append(s.sent, m)
	s.mu.Unlock()

	s.lg.Info().
		Str("to", m.To).
		Str("kind", string(m.Kind)).
		Str("subject", r.Subject).
		Str("link", m.Link).
		Msg("FAKE send email")
	return nil
}

// Sent returns what was delivered so far.
func (s *FakeSender) Sent() []notify.Mail {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Mail, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *FakeSender) maybeFail(kind notify.MailKind) error {
	switch s.mode {
	case "transient":
		return TemporaryError{msg: fmt.Sprintf("fake transient failure (%s)", kind)}
	case "permanent":
		return PermanentError{msg: fmt.Sprintf("fake permanent failure (%s)", kind)}
	default:
		return nil
	}
}
