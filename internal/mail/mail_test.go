package mail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/and161185/emol/internal/config"
	"github.com/and161185/emol/internal/errs"
)

type recordSender struct {
	sent []Message
	err  error
}

func (r *recordSender) Send(_ context.Context, m Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, m)
	return nil
}

func TestCardReminder_Render(t *testing.T) {
	t.Parallel()

	m := CardReminder("a@b.c", "Armoured Combat", 30, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, "a@b.c", m.To)
	require.Equal(t, "Card expiry reminder", m.Subject)
	require.Equal(t, "card_reminder", m.Kind)
	require.Contains(t, m.Body, "Armoured Combat will expire in 30")
	require.Contains(t, m.Body, "on 2026-01-01")
	require.Contains(t, m.Body, "Ealdormere eMoL")
}

func TestExpiryNotices(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Card expiry notice", CardExpiry("x@y", "Rapier").Subject)
	require.Contains(t, CardExpiry("x@y", "Rapier").Body, "Rapier have expired")
	require.Equal(t, "Waiver expiry notice", WaiverExpiry("x@y").Subject)

	w := WaiverReminder("x@y", 14, time.Date(2030, 5, 6, 0, 0, 0, 0, time.UTC))
	require.Contains(t, w.Body, "14 days, on 2030-05-06")
}

func TestLinkTemplates(t *testing.T) {
	t.Parallel()

	require.Contains(t, InfoUpdate("x@y", "https://e/self-serve-update/abc", 24*time.Hour).Body, "usable for one day")
	require.Contains(t, PrivacyPolicy("x@y", "https://e/privacy/abc", 7*24*time.Hour).Body, "usable for one week")
	require.Contains(t, PINSetup("x@y", "https://e/pin/setup/abc").Body, "https://e/pin/setup/abc")
	require.Contains(t, PINReset("x@y", "https://e/pin/reset/abc").Body, "https://e/pin/reset/abc")
	require.Contains(t, PINLockout("x@y", 15*time.Minute).Body, "locked for 15 minutes")
	require.Contains(t, CardURL("x@y", "https://e/card/or-fess-sun").Body, "or-fess-sun")
}

func TestPINMigration_Stages(t *testing.T) {
	t.Parallel()

	subjects := map[string]bool{}
	for _, st := range []MigrationStage{StageInitial, StageReminder, StageFinal} {
		m := PINMigration("x@y", "https://e/pin/setup/c", st)
		require.Equal(t, "pin_migration_"+string(st), m.Kind)
		require.Contains(t, m.Body, "https://e/pin/setup/c")
		subjects[m.Subject] = true
	}
	require.Len(t, subjects, 3)
}

func TestParseStage(t *testing.T) {
	t.Parallel()

	st, err := ParseStage(" Final ")
	require.NoError(t, err)
	require.Equal(t, StageFinal, st)

	_, err = ParseStage("later")
	require.Error(t, err)
}

func TestHumanTTL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2 weeks", humanTTL(14*24*time.Hour))
	require.Equal(t, "3 days", humanTTL(72*time.Hour))
	require.Equal(t, "one hour", humanTTL(time.Hour))
	require.Equal(t, "90 minutes", humanTTL(90*time.Minute))
}

func TestLogSender_LogsMaskedRecipient(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	s := NewLogSender(zap.New(core))

	require.NoError(t, s.Send(context.Background(), CardExpiry("john.doe@example.com", "Rapier")))
	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "joh***@example.com", entries[0].ContextMap()["email"])
	require.Equal(t, "card_expiry", entries[0].ContextMap()["kind"])
}

func TestThrottled_PassesThroughAndHonoursContext(t *testing.T) {
	t.Parallel()

	rec := &recordSender{}
	th := NewThrottled(rec, 0)
	require.NoError(t, th.Send(context.Background(), Message{To: "a"}))
	require.NoError(t, th.Send(context.Background(), Message{To: "b"}))
	require.Len(t, rec.sent, 2)

	slow := NewThrottled(rec, 0.001)
	require.NoError(t, slow.Send(context.Background(), Message{To: "c"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, slow.Send(ctx, Message{To: "d"}), errs.ErrSendFailed)
	require.Len(t, rec.sent, 3)
}

func TestThrottled_PropagatesSendError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	th := NewThrottled(&recordSender{err: boom}, 0)
	require.ErrorIs(t, th.Send(context.Background(), Message{}), boom)
}

func TestFromConfig_SendDisabled(t *testing.T) {
	t.Parallel()

	s, err := FromConfig(config.MailSettings{Send: false}, nil)
	require.NoError(t, err)
	require.IsType(t, &LogSender{}, s)
}

func TestFromConfig_SMTP(t *testing.T) {
	t.Parallel()

	s, err := FromConfig(config.MailSettings{Send: true, Host: "smtp.example.org", Port: 587, From: "emol@example.org", RatePerSecond: 5}, nil)
	require.NoError(t, err)
	require.IsType(t, &Throttled{}, s)
}

func TestSMTPSender_BadAddressesAreSendFailures(t *testing.T) {
	t.Parallel()

	cases := []config.MailSettings{
		{Host: "smtp.example.org", Port: 587, From: "not an address"},
		{Host: "smtp.example.org", Port: 587, From: "emol@example.org", ReplyTo: "also not an address"},
	}
	for _, cfg := range cases {
		s, err := NewSMTPSender(cfg)
		require.NoError(t, err)
		err = s.Send(context.Background(), Message{To: "knight@example.org", Subject: "s", Body: "b"})
		require.ErrorIs(t, err, errs.ErrSendFailed, "from %q reply-to %q", cfg.From, cfg.ReplyTo)
	}
}
