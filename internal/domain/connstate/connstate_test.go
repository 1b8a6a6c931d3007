package connstate

import "testing"

func TestIsImporting(t *testing.T) {
	cases := map[Phase]bool{
		PhaseImportingHistory:  true,
		PhaseImportingContacts: true,
		PhaseConnected:         false,
		PhaseConnecting:        false,
	}
	for phase, want := range cases {
		if got := phase.IsImporting(); got != want {
			t.Errorf("%s.IsImporting() = %v, want %v", phase, got, want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	cases := map[Phase]bool{
		PhaseDisconnected: true,
		PhaseFailed:       true,
		PhaseConnected:    false,
		PhaseRestarting:   false,
	}
	for phase, want := range cases {
		if got := phase.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", phase, got, want)
		}
	}
}

func TestCanAttach(t *testing.T) {
	cases := map[Phase]bool{
		PhaseConnected:    false,
		PhaseConnecting:   false,
		PhaseQRPending:    false,
		PhaseRestarting:   false,
		PhaseDisconnected: true,
		PhaseFailed:       true,
	}
	for phase, want := range cases {
		r := Record{Phase: phase}
		if got := r.CanAttach(); got != want {
			t.Errorf("Record{Phase: %s}.CanAttach() = %v, want %v", phase, got, want)
		}
	}
}

func TestIsConnected(t *testing.T) {
	if !(Record{Phase: PhaseConnected}).IsConnected() {
		t.Error("expected PhaseConnected to report IsConnected")
	}
	if (Record{Phase: PhaseDisconnected}).IsConnected() {
		t.Error("expected PhaseDisconnected to not report IsConnected")
	}
}
