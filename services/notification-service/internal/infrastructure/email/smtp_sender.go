package email

import (
	"context"
	"strings"
	"time"

	"github.com/baechuer/event-booking/services/notification-service/internal/application/notify"
	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

type SMTPSender struct {
	lg zerolog.Logger

	host     string
	port     int
	user     string
	pass     string
	from     string
	insecure bool

	timeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
	Insecure bool
}

func NewSMTPSender(cfg SMTPConfig, lg zerolog.Logger) *SMTPSender {
	return &SMTPSender{
		lg:       lg.With().Str("component", "smtp_sender").Logger(),
		host:     cfg.Host,
		port:     cfg.Port,
		user:     cfg.Username,
		pass:     cfg.Password,
		from:     cfg.From,
		insecure: cfg.Insecure,
		timeout:  cfg.Timeout,
	}
}

func (s *SMTPSender) Send(ctx context.Context, m notify.Mail) error {
	r, err := Render(m)
	if err != nil {
		return err
	}
	return s.send(ctx, m.To, r)
}

func (s *SMTPSender) send(ctx context.Context, to string, r Rendered) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	msg, err := s.message(to, r)
	if err != nil {
		return err
	}

	c, err := mail.NewClient(s.host, s.options()...)
	if err != nil {
		return PermanentError{msg: "smtp client init failed: " + err.Error()}
	}

	s.lg.Debug().Str("host", s.host).Int("port", s.port).Str("to", to).Str("subject", r.Subject).Msg("attempting smtp send")
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		s.lg.Error().Err(err).Str("to", to).Msg("smtp send failed")
		return classify(err)
	}

	s.lg.Info().Str("to", to).Msg("smtp send ok")
	return nil
}

func (s *SMTPSender) message(to string, r Rendered) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, PermanentError{msg: "invalid from address: " + err.Error()}
	}
	if err := m.To(to); err != nil {
		return nil, PermanentError{msg: "invalid to address: " + err.Error()}
	}
	m.Subject(r.Subject)

	// Text fallback + HTML alternative
	m.SetBodyString(mail.TypeTextPlain, r.Text)
	m.AddAlternativeString(mail.TypeTextHTML, r.HTML)
	return m, nil
}

func (s *SMTPSender) options() []mail.Option {
	tlsPolicy := mail.TLSMandatory
	if s.insecure {
		tlsPolicy = mail.TLSOpportunistic
	}

	opts := []mail.Option{
		mail.WithPort(s.port),
		mail.WithTLSPolicy(tlsPolicy),
	}
	if s.user != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(s.user), mail.WithPassword(s.pass))
	}
	return opts
}

// classify treats auth rejections and permanent 5xx replies as final and
// everything else as worth another attempt.
func classify(err error) error {
	msg := err.Error()
	if containsAny(msg, "535", "5.7.8", "authentication", "Username and Password not accepted") {
		return PermanentError{msg: "smtp auth failed: " + msg}
	}
	if containsAny(msg, "550", "551", "553", "5.1.1") {
		return PermanentError{msg: "smtp recipient rejected: " + msg}
	}
	return TemporaryError{msg: "smtp transient failure: " + msg}
}

func containsAny(s string, subs ...string) bool {
	for _, x := range subs {
		if x != "" && strings.Contains(s, x) {
			return true
		}
	}
	return false
}
