package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"aquabridge/internal/cloud/config"
	"aquabridge/internal/types"
)

// Sender dispatches a single outbound email. Implementations must
// return an error on any delivery failure so the circuit breaker can
// observe downstream health.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	cfg config.SMTPConfig
}

// NewSMTPSender creates a sender from the SMTP configuration.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers one message. The context deadline is enforced by the
// surrounding circuit breaker; net/smtp itself has no context support.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(s.cfg.Addr(), auth, s.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

// FormatAlertEmail renders the subject and body for an alert email.
func FormatAlertEmail(alert *types.Alert, device *types.Device) (subject, body string) {
	location := "unassigned location"
	if device != nil && device.Location != nil {
		location = fmt.Sprintf("%s, floor %s", device.Location.Building, device.Location.Floor)
	}

	deviceName := alert.DeviceID
	if device != nil && device.Name != "" {
		deviceName = device.Name
	}

	subject = fmt.Sprintf("[%s] Water quality alert: %s on %s", alert.Severity, alert.Parameter, deviceName)
	body = fmt.Sprintf(
		"Device: %s (%s)\nParameter: %s\nSeverity: %s\nCurrent value: %.2f\n\n%s\n\nRecommended action: %s\n",
		deviceName, location, alert.Parameter, alert.Severity, alert.CurrentValue,
		alert.Message, alert.RecommendedAction)
	return subject, body
}
