package notify

import (
	"testing"
	"time"

	"aquabridge/internal/types"
)

func basePrefs(userID string) types.NotificationPreferences {
	return types.NotificationPreferences{
		UserID:             userID,
		Email:              userID + "@example.com",
		EmailNotifications: true,
		AlertSeverities:    []types.AlertSeverity{types.SeverityWarning, types.SeverityCritical},
	}
}

func testAlert(severity types.AlertSeverity) *types.Alert {
	return &types.Alert{
		AlertID:   "alert-1",
		DeviceID:  "dev-1",
		Parameter: types.ParameterPH,
		Kind:      types.AlertKindThreshold,
		Severity:  severity,
		Status:    types.AlertStatusActive,
	}
}

func daytime() time.Time {
	return time.Date(2024, 6, 10, 14, 0, 0, 0, time.Local)
}

func TestSelectRecipients(t *testing.T) {
	tests := []struct {
		name  string
		prefs []types.NotificationPreferences
		alert *types.Alert
		now   time.Time
		want  []string
	}{
		{
			name:  "matching user selected",
			prefs: []types.NotificationPreferences{basePrefs("u1")},
			alert: testAlert(types.SeverityCritical),
			now:   daytime(),
			want:  []string{"u1"},
		},
		{
			name: "email notifications off",
			prefs: func() []types.NotificationPreferences {
				p := basePrefs("u1")
				p.EmailNotifications = false
				return []types.NotificationPreferences{p}
			}(),
			alert: testAlert(types.SeverityCritical),
			now:   daytime(),
			want:  nil,
		},
		{
			name:  "severity not subscribed",
			prefs: []types.NotificationPreferences{basePrefs("u1")},
			alert: testAlert(types.SeverityAdvisory),
			now:   daytime(),
			want:  nil,
		},
		{
			name: "parameter filter excludes",
			prefs: func() []types.NotificationPreferences {
				p := basePrefs("u1")
				p.Parameters = []types.Parameter{types.ParameterTDS}
				return []types.NotificationPreferences{p}
			}(),
			alert: testAlert(types.SeverityCritical),
			now:   daytime(),
			want:  nil,
		},
		{
			name: "device filter excludes",
			prefs: func() []types.NotificationPreferences {
				p := basePrefs("u1")
				p.Devices = []string{"dev-other"}
				return []types.NotificationPreferences{p}
			}(),
			alert: testAlert(types.SeverityCritical),
			now:   daytime(),
			want:  nil,
		},
		{
			name: "quiet hours suppress",
			prefs: func() []types.NotificationPreferences {
				p := basePrefs("u1")
				p.QuietHoursEnabled = true
				p.QuietHoursStart = "22:00"
				p.QuietHoursEnd = "06:00"
				return []types.NotificationPreferences{p}
			}(),
			alert: testAlert(types.SeverityCritical),
			now:   time.Date(2024, 6, 10, 23, 30, 0, 0, time.Local),
			want:  nil,
		},
		{
			name: "quiet hours pass during the day",
			prefs: func() []types.NotificationPreferences {
				p := basePrefs("u1")
				p.QuietHoursEnabled = true
				p.QuietHoursStart = "22:00"
				p.QuietHoursEnd = "06:00"
				return []types.NotificationPreferences{p}
			}(),
			alert: testAlert(types.SeverityCritical),
			now:   daytime(),
			want:  []string{"u1"},
		},
		{
			name: "mixed population",
			prefs: []types.NotificationPreferences{
				basePrefs("u1"),
				func() types.NotificationPreferences {
					p := basePrefs("u2")
					p.Devices = []string{"dev-1"}
					return p
				}(),
				func() types.NotificationPreferences {
					p := basePrefs("u3")
					p.EmailNotifications = false
					return p
				}(),
			},
			alert: testAlert(types.SeverityWarning),
			now:   daytime(),
			want:  []string{"u1", "u2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recipients := SelectRecipients(tt.prefs, tt.alert, tt.now)

			var got []string
			for _, r := range recipients {
				got = append(got, r.UserID)
			}

			if len(got) != len(tt.want) {
				t.Fatalf("SelectRecipients() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("recipient[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
