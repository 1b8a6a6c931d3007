package instance

import (
	"testing"
	"time"
)

func TestStale(t *testing.T) {
	fresh := Record{LastHeartbeat: time.Now()}
	if fresh.Stale(time.Minute) {
		t.Error("recent heartbeat should not be stale")
	}

	old := Record{LastHeartbeat: time.Now().Add(-time.Hour)}
	if !old.Stale(time.Minute) {
		t.Error("hour-old heartbeat should be stale against a one-minute timeout")
	}
}

func TestHasCapacity(t *testing.T) {
	cases := []struct {
		name     string
		record   Record
		hasCap   bool
	}{
		{"unlimited capacity", Record{Capacity: 0, ActiveCount: 1000}, true},
		{"under capacity", Record{Capacity: 10, ActiveCount: 5}, true},
		{"at capacity", Record{Capacity: 10, ActiveCount: 10}, false},
		{"over capacity", Record{Capacity: 10, ActiveCount: 11}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.record.HasCapacity(); got != tc.hasCap {
				t.Errorf("HasCapacity() = %v, want %v", got, tc.hasCap)
			}
		})
	}
}
