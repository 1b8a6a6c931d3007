// Package projection models the External Status Projection: the
// read-optimized, dotted-path-updatable document the Connection State
// Manager maintains for each session key.
package projection

import "time"

type Status struct {
	SessionKey        string     `json:"sessionKey"`
	Phase             string     `json:"phase"`
	WaJID             string     `json:"waJid,omitempty"`
	InstanceID        string     `json:"instanceId,omitempty"`
	InstanceURL       string     `json:"instanceUrl,omitempty"`
	QRCode            string     `json:"qrCode,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
	ErrorCount        int        `json:"errorCount"`
	ConnectedAt       *time.Time `json:"connectedAt,omitempty"`
	LastSeen          *time.Time `json:"lastSeen,omitempty"`
	LastHeartbeat     *time.Time `json:"lastHeartbeat,omitempty"`
	HandshakeCompleted bool      `json:"handshakeCompleted"`
	SyncCompleted     bool       `json:"syncCompleted"`
	SyncStatus        string     `json:"syncStatus,omitempty"`
	SyncContactsCount int        `json:"syncContactsCount"`
	SyncMessagesCount int        `json:"syncMessagesCount"`
	ProxyCountry      string     `json:"proxyCountry,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	deliberatelyRM    bool
}

// Sync status vocabulary written by update_sync_progress (spec.md §4.4).
const (
	SyncStarted            = "started"
	SyncImportingContacts  = "importing_contacts"
	SyncImportingMessages  = "importing_messages"
	SyncCompleted          = "completed"
)

// Delta is a set of dotted field paths to update in place. Writers
// must never replace the whole document — only the paths present here.
type Delta map[string]any

// IsTerminalDeletion reports a document that was deliberately removed
// (session deleted) and must not be resurrected by a late-arriving
// stale write — see the Connection State Manager's suppression rule.
func (s Status) IsTerminalDeletion() bool { return s.deliberatelyRM }

func MarkDeleted(s Status) Status {
	s.deliberatelyRM = true
	return s
}
