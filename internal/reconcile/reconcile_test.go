package reconcile

import (
	"testing"
	"time"

	"waconnect/internal/domain/connstate"
	"waconnect/internal/domain/sessionkey"
)

func newTestReconciler() *Reconciler {
	return &Reconciler{
		cfg:      Config{}.WithDefaults(),
		observed: make(map[string]phaseObservation),
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.Interval != 2*time.Minute {
		t.Errorf("Interval = %s, want 2m", cfg.Interval)
	}

	explicit := Config{Interval: time.Minute}.WithDefaults()
	if explicit.Interval != time.Minute {
		t.Errorf("WithDefaults overwrote explicit Interval: %s", explicit.Interval)
	}
}

func TestObserveResetsOnPhaseChange(t *testing.T) {
	r := newTestReconciler()
	key, err := sessionkey.New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error building key: %v", err)
	}

	if d := r.observe(key, connstate.PhaseConnecting); d != 0 {
		t.Errorf("first observation = %s, want 0", d)
	}

	time.Sleep(5 * time.Millisecond)
	if d := r.observe(key, connstate.PhaseConnecting); d <= 0 {
		t.Errorf("same-phase observation should report elapsed time, got %s", d)
	}

	if d := r.observe(key, connstate.PhaseConnected); d != 0 {
		t.Errorf("phase change should reset the clock, got %s", d)
	}
}

func TestPruneObservedDropsStaleKeys(t *testing.T) {
	r := newTestReconciler()
	k1, _ := sessionkey.New("user-1", "5511999999999")
	k2, _ := sessionkey.New("user-2", "5511999999998")

	r.observe(k1, connstate.PhaseConnecting)
	r.observe(k2, connstate.PhaseConnecting)

	r.pruneObserved([]sessionkey.Key{k1})

	if _, ok := r.observed[k1.String()]; !ok {
		t.Error("expected k1 to remain tracked")
	}
	if _, ok := r.observed[k2.String()]; ok {
		t.Error("expected k2 to be pruned")
	}
}
