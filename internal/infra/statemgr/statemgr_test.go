package statemgr

import "testing"

func TestJSONPath(t *testing.T) {
	cases := map[string]string{
		"phase":         "phase",
		"meta.region":   "meta,region",
		"a.b.c":         "a,b,c",
	}
	for in, want := range cases {
		if got := jsonPath(in); got != want {
			t.Errorf("jsonPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.RetryAttempts)
	}
	if len(cfg.RetryDelays) != 3 {
		t.Errorf("len(RetryDelays) = %d, want 3", len(cfg.RetryDelays))
	}

	explicit := Config{RetryAttempts: 5}.WithDefaults()
	if explicit.RetryAttempts != 5 {
		t.Errorf("WithDefaults overwrote explicit RetryAttempts: %d", explicit.RetryAttempts)
	}
}
