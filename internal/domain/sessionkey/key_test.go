package sessionkey

import "testing"

func TestNewValidatesPhone(t *testing.T) {
	cases := []struct {
		name    string
		userID  string
		phone   string
		wantErr bool
	}{
		{"valid", "user-1", "5511999999999", false},
		{"empty userID", "", "5511999999999", true},
		{"leading zero", "user-1", "0511999999999", true},
		{"too short", "user-1", "123", true},
		{"non-digits", "user-1", "55119abc9999", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.userID, tc.phone)
			if (err != nil) != tc.wantErr {
				t.Errorf("New(%q, %q) error = %v, wantErr %v", tc.userID, tc.phone, err, tc.wantErr)
			}
		})
	}
}

func TestStringAndParseRoundTrip(t *testing.T) {
	key, err := New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := Parse(key.String())
	if err != nil {
		t.Fatalf("Parse(%q) returned error: %v", key.String(), err)
	}
	if parsed != key {
		t.Errorf("Parse round-trip = %+v, want %+v", parsed, key)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	if _, err := Parse("no-colon-here"); err == nil {
		t.Error("expected error for key without a colon separator")
	}
}

func TestStoragePath(t *testing.T) {
	key, err := New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "sessions/user-1/5511999999999"
	if got := key.StoragePath(); got != want {
		t.Errorf("StoragePath() = %q, want %q", got, want)
	}
}
