package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/emol/internal/config"
	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/logger"
)

// Sender delivers a rendered message. Failures wrap errs.ErrSendFailed.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender only logs messages; used when sending is disabled.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, m Message) error {
	s.log.Info("email not sent (sending disabled)",
		logger.Email(m.To),
		zap.String("kind", m.Kind),
		zap.String("subject", m.Subject),
		zap.Int("body_len", len(m.Body)),
	)
	return nil
}

// SMTPSender delivers messages through an SMTP relay.
type SMTPSender struct {
	client  *gomail.Client
	from    string
	replyTo string
}

// NewSMTPSender builds a client for the configured relay. Authentication is used when a username is set.
func NewSMTPSender(cfg config.MailSettings) (*SMTPSender, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	c, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPSender{client: c, from: cfg.From, replyTo: cfg.ReplyTo}, nil
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("%w: from %q: %v", errs.ErrSendFailed, s.from, err)
	}
	if err := msg.To(m.To); err != nil {
		return fmt.Errorf("%w: recipient: %v", errs.ErrSendFailed, err)
	}
	if s.replyTo != "" {
		if err := msg.ReplyTo(s.replyTo); err != nil {
			return fmt.Errorf("%w: reply-to %q: %v", errs.ErrSendFailed, s.replyTo, err)
		}
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, m.Body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSendFailed, err)
	}
	return nil
}

// Throttled paces another Sender with a token bucket.
type Throttled struct {
	next Sender
	lim  *rate.Limiter
}

// NewThrottled allows perSecond messages per second; perSecond <= 0 disables pacing.
func NewThrottled(next Sender, perSecond float64) *Throttled {
	lim := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &Throttled{next: next, lim: lim}
}

func (t *Throttled) Send(ctx context.Context, m Message) error {
	if err := t.lim.Wait(ctx); err != nil {
		return fmt.Errorf("%w: throttle: %v", errs.ErrSendFailed, err)
	}
	return t.next.Send(ctx, m)
}

// FromConfig wires the sender chain for cfg: log-only when sending is disabled, throttled SMTP otherwise.
func FromConfig(cfg config.MailSettings, log *zap.Logger) (Sender, error) {
	if !cfg.Send {
		return NewLogSender(log), nil
	}
	s, err := NewSMTPSender(cfg)
	if err != nil {
		return nil, err
	}
	return NewThrottled(s, cfg.RatePerSecond), nil
}
