package protocol

import "testing"

func TestClassifyClose(t *testing.T) {
	cases := []struct {
		name               string
		kind               EventKind
		handshakeCompleted bool
		want               CloseCause
	}{
		{"stream replaced", EventStreamReplaced, true, CauseReplaced},
		{"logged out", EventLoggedOut, true, CauseLoggedOut},
		{"logged out before handshake", EventLoggedOut, false, CauseLoggedOut},
		{"disconnected before handshake", EventDisconnected, false, CauseRestartRequired},
		{"disconnected after handshake", EventDisconnected, true, CauseOther},
		{"unrelated event", EventMessage, true, CauseOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyClose(Event{Kind: tc.kind}, tc.handshakeCompleted)
			if got != tc.want {
				t.Errorf("ClassifyClose(%s, handshakeCompleted=%v) = %s, want %s", tc.kind, tc.handshakeCompleted, got, tc.want)
			}
		})
	}
}
