package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"aquabridge/internal/breaker"
	"aquabridge/internal/types"
)

// PreferencesSource loads the notification preferences of all users.
type PreferencesSource interface {
	ListNotificationPreferences(ctx context.Context) ([]types.NotificationPreferences, error)
}

// DeliveryRecorder unions delivered user ids into the alert record.
type DeliveryRecorder interface {
	RecordNotifications(ctx context.Context, alertID string, userIDs []string) error
}

// Notifier fans a newly created alert out to eligible recipients. Email
// failures are contained here: the alert already exists, so a degraded
// dispatcher only leaves notifications_sent partial.
type Notifier struct {
	prefs    PreferencesSource
	recorder DeliveryRecorder
	sender   Sender
	cb       *breaker.Breaker
	logger   *logrus.Entry
	now      func() time.Time
}

// NewNotifier wires the fan-out pipeline.
func NewNotifier(prefs PreferencesSource, recorder DeliveryRecorder, sender Sender, cb *breaker.Breaker, logger *logrus.Entry) *Notifier {
	return &Notifier{
		prefs:    prefs,
		recorder: recorder,
		sender:   sender,
		cb:       cb,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch selects recipients, submits one email per recipient through
// the email circuit breaker, and records the delivered set on the alert.
// It returns the delivered user ids; errors are logged, never returned,
// so notification trouble cannot push back into the reading pipeline.
func (n *Notifier) Dispatch(ctx context.Context, alert *types.Alert, device *types.Device) []string {
	prefs, err := n.prefs.ListNotificationPreferences(ctx)
	if err != nil {
		n.logger.WithError(err).WithField("alert_id", alert.AlertID).
			Error("Failed to load notification preferences")
		return nil
	}

	recipients := SelectRecipients(prefs, alert, n.now())
	if len(recipients) == 0 {
		n.logger.WithField("alert_id", alert.AlertID).Debug("No eligible notification recipients")
		return nil
	}

	subject, body := FormatAlertEmail(alert, device)

	var delivered []string
	for _, recipient := range recipients {
		to := recipient.Email
		err := n.cb.Execute(ctx, func(callCtx context.Context) error {
			return n.sender.Send(callCtx, to, subject, body)
		})
		if err != nil {
			fields := logrus.Fields{
				"alert_id": alert.AlertID,
				"user_id":  recipient.UserID,
			}
			if errors.Is(err, breaker.ErrCircuitOpen) {
				n.logger.WithFields(fields).Warn("Email circuit open, notification dropped")
			} else {
				n.logger.WithError(err).WithFields(fields).Warn("Failed to send alert email")
			}
			continue
		}
		delivered = append(delivered, recipient.UserID)
	}

	if len(delivered) > 0 {
		if err := n.recorder.RecordNotifications(ctx, alert.AlertID, delivered); err != nil {
			n.logger.WithError(err).WithField("alert_id", alert.AlertID).
				Error("Failed to record delivered notifications")
		}
	}
	return delivered
}
