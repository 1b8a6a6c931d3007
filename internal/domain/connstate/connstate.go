// Package connstate models the Connection Record: the phase machine a
// session's protocol connection moves through from first attach to a
// stable connected state (or a terminal failure).
package connstate

import "time"

type Phase string

const (
	PhaseConnecting        Phase = "connecting"
	PhaseQRPending         Phase = "qr_pending"
	PhaseRestarting        Phase = "restarting"
	PhaseImportingHistory  Phase = "importing_history"
	PhaseImportingContacts Phase = "importing_contacts"
	PhaseConnected         Phase = "connected"
	PhaseDisconnected      Phase = "disconnected"
	PhaseFailed            Phase = "failed"
)

// IsImporting reports whether the phase is one of the post-pair sync
// phases that must resolve to Connected within the sync timeout.
func (p Phase) IsImporting() bool {
	return p == PhaseImportingHistory || p == PhaseImportingContacts
}

func (p Phase) IsTerminal() bool {
	return p == PhaseDisconnected || p == PhaseFailed
}

// Record is the in-memory Connection Record owned by a single Pool
// session goroutine. It is never shared across goroutines by pointer;
// callers read a copy returned by Pool.Status.
type Record struct {
	Phase            Phase
	WaJID            string
	QRCode           string
	QRExpiresAt      time.Time
	ReconnectAttempt int
	LastError        string
	ConnectedAt      time.Time
	LastSeen         time.Time
	SyncStartedAt    time.Time
	InstanceID       string
	ProxyAssignment  string
	// ConnectedOnce is set the first time the session reaches
	// PhaseConnected and never cleared; it gates ProxyReleased and
	// decides how a CauseReplaced close is handled.
	ConnectedOnce bool
	// ProxyReleased becomes true at most once, T_stable after entering
	// an open phase without a further restart, and is never reset.
	ProxyReleased bool
}

func (r Record) CanAttach() bool {
	switch r.Phase {
	case PhaseConnected, PhaseConnecting, PhaseQRPending, PhaseRestarting:
		return false
	default:
		return true
	}
}

func (r Record) IsConnected() bool { return r.Phase == PhaseConnected }
