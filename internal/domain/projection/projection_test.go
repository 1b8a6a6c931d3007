package projection

import "testing"

func TestIsTerminalDeletion(t *testing.T) {
	status := Status{SessionKey: "user-1:5511999999999"}
	if status.IsTerminalDeletion() {
		t.Error("fresh status should not report terminal deletion")
	}

	deleted := MarkDeleted(status)
	if !deleted.IsTerminalDeletion() {
		t.Error("MarkDeleted should cause IsTerminalDeletion to report true")
	}
	if status.IsTerminalDeletion() {
		t.Error("MarkDeleted must not mutate the original value")
	}
}
