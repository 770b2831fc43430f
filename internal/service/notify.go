package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/logger"
	"github.com/and161185/emol/internal/mail"
	"github.com/and161185/emol/internal/model"
)

// notifier sends mail on behalf of services.
type notifier struct {
	mail mail.Sender
	log  *zap.Logger
}

// toAccepted refuses combatants who have not accepted the privacy policy.
func (n notifier) toAccepted(ctx context.Context, c *model.Combatant, m mail.Message) error {
	if !c.PrivacyAccepted {
		n.log.Info("email withheld, privacy policy not accepted",
			zap.Int64("combatant_id", c.ID), zap.String("kind", m.Kind))
		return errs.ErrPrivacyNotAccepted
	}
	return n.send(ctx, m)
}

// send delivers without the privacy check; for the policy email itself and operator notices.
func (n notifier) send(ctx context.Context, m mail.Message) error {
	if err := n.mail.Send(ctx, m); err != nil {
		n.log.Warn("email send failed", logger.Email(m.To), zap.String("kind", m.Kind), zap.Error(err))
		return fmt.Errorf("send %s: %w", m.Kind, err)
	}
	return nil
}
