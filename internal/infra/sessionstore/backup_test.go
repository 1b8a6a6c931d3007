package sessionstore

import (
	"testing"

	"waconnect/internal/domain/sessionkey"
)

func TestBackupSchedulerTrackUntrack(t *testing.T) {
	s := &BackupScheduler{keys: make(map[sessionkey.Key]struct{})}
	key, err := sessionkey.New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error building key: %v", err)
	}

	s.Track(key)
	if _, tracked := s.keys[key]; !tracked {
		t.Error("expected key to be tracked after Track")
	}

	s.Untrack(key)
	if _, tracked := s.keys[key]; tracked {
		t.Error("expected key to be removed after Untrack")
	}
}

func TestBackupSchedulerUntrackUnknownKeyIsNoop(t *testing.T) {
	s := &BackupScheduler{keys: make(map[sessionkey.Key]struct{})}
	key, err := sessionkey.New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error building key: %v", err)
	}
	s.Untrack(key) // must not panic on an untracked key
}
