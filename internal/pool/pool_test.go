package pool

import (
	"testing"
	"time"

	"waconnect/internal/domain/sessionkey"
)

func TestReconnectDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
	}
	for _, tc := range cases {
		if got := reconnectDelay(tc.attempt); got != tc.want {
			t.Errorf("reconnectDelay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.MaxReconnectAttempts != maxReconnects {
		t.Errorf("MaxReconnectAttempts = %d, want %d", cfg.MaxReconnectAttempts, maxReconnects)
	}
	if cfg.ReconnectRatePerHour != 50 {
		t.Errorf("ReconnectRatePerHour = %d, want 50", cfg.ReconnectRatePerHour)
	}

	explicit := Config{MaxReconnectAttempts: 3, ReconnectRatePerHour: 10}.WithDefaults()
	if explicit.MaxReconnectAttempts != 3 || explicit.ReconnectRatePerHour != 10 {
		t.Errorf("WithDefaults overwrote explicit values: %+v", explicit)
	}
}

func TestAttachOptionsValidation(t *testing.T) {
	key, err := sessionkey.New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error building key: %v", err)
	}

	if err := optionsValidator.Struct(AttachOptions{Key: key}); err != nil {
		t.Errorf("bare options should validate, got: %v", err)
	}

	if err := optionsValidator.Struct(AttachOptions{Key: key, Country: "USA"}); err == nil {
		t.Error("expected a three-letter country code to fail the len=2 rule")
	}

	if err := optionsValidator.Struct(AttachOptions{Key: key, PairViaPhone: true}); err == nil {
		t.Error("expected PairViaPhone without PhoneForPairing to fail required_if")
	}

	if err := optionsValidator.Struct(AttachOptions{Key: key, PairViaPhone: true, PhoneForPairing: "5511999999999"}); err != nil {
		t.Errorf("PairViaPhone with PhoneForPairing should validate, got: %v", err)
	}
}
