package types

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// NotificationPreferences controls which alerts a user is emailed about.
// Empty Parameters or Devices sets mean "all".
type NotificationPreferences struct {
	UserID              string          `json:"userId"`
	Email               string          `json:"email"`
	EmailNotifications  bool            `json:"emailNotifications"`
	PushNotifications   bool            `json:"pushNotifications"`
	SendScheduledAlerts bool            `json:"sendScheduledAlerts"`
	AlertSeverities     []AlertSeverity `json:"alertSeverities"`
	Parameters          []Parameter     `json:"parameters"`
	Devices             []string        `json:"devices"`
	QuietHoursEnabled   bool            `json:"quietHoursEnabled"`
	QuietHoursStart     string          `json:"quietHoursStart"` // "HH:MM" local
	QuietHoursEnd       string          `json:"quietHoursEnd"`   // "HH:MM" local
}

// Validate enforces that email notifications require a well-formed address
// and that quiet-hours bounds parse when enabled.
func (p *NotificationPreferences) Validate() error {
	if p.EmailNotifications {
		if p.Email == "" {
			return fmt.Errorf("email_notifications enabled without an email address")
		}
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return fmt.Errorf("malformed email address %q: %w", p.Email, err)
		}
	}
	if p.QuietHoursEnabled {
		if _, err := ParseClock(p.QuietHoursStart); err != nil {
			return fmt.Errorf("invalid quiet_hours_start: %w", err)
		}
		if _, err := ParseClock(p.QuietHoursEnd); err != nil {
			return fmt.Errorf("invalid quiet_hours_end: %w", err)
		}
	}
	return nil
}

// WantsSeverity reports whether the user subscribed to the severity.
func (p *NotificationPreferences) WantsSeverity(s AlertSeverity) bool {
	for _, sev := range p.AlertSeverities {
		if sev == s {
			return true
		}
	}
	return false
}

// WantsParameter reports whether the user subscribed to the parameter.
// An empty set subscribes to all parameters.
func (p *NotificationPreferences) WantsParameter(param Parameter) bool {
	if len(p.Parameters) == 0 {
		return true
	}
	for _, pp := range p.Parameters {
		if pp == param {
			return true
		}
	}
	return false
}

// WantsDevice reports whether the user subscribed to the device. An empty
// set subscribes to all devices.
func (p *NotificationPreferences) WantsDevice(deviceID string) bool {
	if len(p.Devices) == 0 {
		return true
	}
	for _, d := range p.Devices {
		if d == deviceID {
			return true
		}
	}
	return false
}

// Clock is minutes past midnight in local time.
type Clock int

// ParseClock parses an "HH:MM" string into a Clock.
func ParseClock(s string) (Clock, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock(hour*60 + minute), nil
}

// InQuietHours reports whether now falls inside the user's quiet window
// [start, end). Windows that wrap across midnight are supported. Malformed
// bounds disable suppression rather than silencing the user forever.
func (p *NotificationPreferences) InQuietHours(now time.Time) bool {
	if !p.QuietHoursEnabled {
		return false
	}
	start, err := ParseClock(p.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := ParseClock(p.QuietHoursEnd)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}
	current := Clock(now.Hour()*60 + now.Minute())
	if start < end {
		return current >= start && current < end
	}
	// Window wraps across midnight, e.g. 22:00 -> 06:00.
	return current >= start || current < end
}
