package processor

import (
	"testing"
	"time"
)

func TestStatusThrottle_OneWritePerWindow(t *testing.T) {
	th := NewStatusThrottle(5 * time.Minute)

	current := time.Now()
	th.now = func() time.Time { return current }

	if !th.Allow("dev-1", time.Time{}) {
		t.Fatal("first write for a never-seen device should be allowed")
	}
	if th.Allow("dev-1", time.Time{}) {
		t.Error("second write inside the window should be throttled")
	}

	// Just before the window closes: still throttled.
	current = current.Add(5*time.Minute - time.Second)
	if th.Allow("dev-1", time.Time{}) {
		t.Error("write just inside the window should be throttled")
	}

	// Window elapsed: allowed again.
	current = current.Add(time.Second)
	if !th.Allow("dev-1", time.Time{}) {
		t.Error("write after the window should be allowed")
	}
}

func TestStatusThrottle_RespectsStoredLastSeen(t *testing.T) {
	th := NewStatusThrottle(5 * time.Minute)

	current := time.Now()
	th.now = func() time.Time { return current }

	// Another instance wrote two minutes ago; this one stays quiet.
	if th.Allow("dev-1", current.Add(-2*time.Minute)) {
		t.Error("recent stored last_seen should suppress the write")
	}

	// A stale stored last_seen permits a write.
	if !th.Allow("dev-2", current.Add(-10*time.Minute)) {
		t.Error("stale stored last_seen should allow the write")
	}
}

func TestStatusThrottle_IndependentDevices(t *testing.T) {
	th := NewStatusThrottle(5 * time.Minute)

	if !th.Allow("dev-1", time.Time{}) {
		t.Fatal("dev-1 first write should be allowed")
	}
	if !th.Allow("dev-2", time.Time{}) {
		t.Error("dev-2 should have its own window")
	}
}
