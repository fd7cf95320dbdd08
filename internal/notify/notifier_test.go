package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"aquabridge/internal/breaker"
	"aquabridge/internal/types"
)

type fakePrefs struct {
	prefs []types.NotificationPreferences
	err   error
}

func (f *fakePrefs) ListNotificationPreferences(ctx context.Context) ([]types.NotificationPreferences, error) {
	return f.prefs, f.err
}

type fakeRecorder struct {
	alertID string
	userIDs []string
}

func (f *fakeRecorder) RecordNotifications(ctx context.Context, alertID string, userIDs []string) error {
	f.alertID = alertID
	f.userIDs = userIDs
	return nil
}

type fakeSender struct {
	sent []string
	fail map[string]error
}

func (f *fakeSender) Send(ctx context.Context, to, subject, body string) error {
	if err, ok := f.fail[to]; ok {
		return err
	}
	f.sent = append(f.sent, to)
	return nil
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(logger)
}

func testBreaker() *breaker.Breaker {
	return breaker.New(breaker.DefaultConfig("email"), testLogger())
}

func TestNotifier_DeliversAndRecords(t *testing.T) {
	prefs := &fakePrefs{prefs: []types.NotificationPreferences{
		basePrefs("u1"),
		basePrefs("u2"),
	}}
	recorder := &fakeRecorder{}
	sender := &fakeSender{}

	n := NewNotifier(prefs, recorder, sender, testBreaker(), testLogger())
	n.now = daytime

	delivered := n.Dispatch(context.Background(), testAlert(types.SeverityCritical), nil)

	if len(delivered) != 2 {
		t.Fatalf("delivered = %v, want two users", delivered)
	}
	if len(sender.sent) != 2 {
		t.Errorf("sender.sent = %v, want two emails", sender.sent)
	}
	if recorder.alertID != "alert-1" || len(recorder.userIDs) != 2 {
		t.Errorf("recorder got (%s, %v), want alert-1 with two users", recorder.alertID, recorder.userIDs)
	}
}

func TestNotifier_PartialFailureRecordsPartialSet(t *testing.T) {
	prefs := &fakePrefs{prefs: []types.NotificationPreferences{
		basePrefs("u1"),
		basePrefs("u2"),
	}}
	recorder := &fakeRecorder{}
	sender := &fakeSender{fail: map[string]error{
		"u1@example.com": errors.New("mailbox unavailable"),
	}}

	n := NewNotifier(prefs, recorder, sender, testBreaker(), testLogger())
	n.now = daytime

	delivered := n.Dispatch(context.Background(), testAlert(types.SeverityCritical), nil)

	if len(delivered) != 1 || delivered[0] != "u2" {
		t.Fatalf("delivered = %v, want [u2]", delivered)
	}
	if len(recorder.userIDs) != 1 || recorder.userIDs[0] != "u2" {
		t.Errorf("recorder.userIDs = %v, want [u2]", recorder.userIDs)
	}
}

func TestNotifier_OpenCircuitDropsQuietly(t *testing.T) {
	prefs := &fakePrefs{prefs: []types.NotificationPreferences{basePrefs("u1")}}
	recorder := &fakeRecorder{}
	sender := &fakeSender{fail: map[string]error{
		"u1@example.com": errors.New("smtp down"),
	}}

	// Force the breaker open by exhausting its failure budget first.
	cb := testBreaker()
	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), func(context.Context) error {
			return errors.New("smtp down")
		})
	}

	n := NewNotifier(prefs, recorder, sender, cb, testLogger())
	n.now = daytime

	delivered := n.Dispatch(context.Background(), testAlert(types.SeverityCritical), nil)
	if len(delivered) != 0 {
		t.Errorf("delivered = %v, want empty while the circuit is open", delivered)
	}
	if recorder.alertID != "" {
		t.Error("recorder should not be called when nothing was delivered")
	}
}

func TestNotifier_NoRecipients(t *testing.T) {
	prefs := &fakePrefs{}
	recorder := &fakeRecorder{}
	sender := &fakeSender{}

	n := NewNotifier(prefs, recorder, sender, testBreaker(), testLogger())

	delivered := n.Dispatch(context.Background(), testAlert(types.SeverityCritical), nil)
	if delivered != nil {
		t.Errorf("delivered = %v, want nil", delivered)
	}
	if len(sender.sent) != 0 {
		t.Error("no emails should be sent without recipients")
	}
}
