package notify

import (
	"time"

	"aquabridge/internal/types"
)

// SelectRecipients filters user preferences down to the users who should
// be emailed about the alert right now. A user is eligible when email
// notifications are on, the severity is subscribed, the parameter and
// device filters match (empty sets match everything), and the current
// local time falls outside the user's quiet hours.
func SelectRecipients(prefs []types.NotificationPreferences, alert *types.Alert, now time.Time) []types.NotificationPreferences {
	var recipients []types.NotificationPreferences
	for _, p := range prefs {
		if !p.EmailNotifications || p.Email == "" {
			continue
		}
		if !p.WantsSeverity(alert.Severity) {
			continue
		}
		if !p.WantsParameter(alert.Parameter) {
			continue
		}
		if !p.WantsDevice(alert.DeviceID) {
			continue
		}
		if p.InQuietHours(now) {
			continue
		}
		recipients = append(recipients, p)
	}
	return recipients
}
