package proxy

import (
	"testing"
	"time"
)

func TestAssignmentURL(t *testing.T) {
	cases := []struct {
		name string
		a    Assignment
		want string
	}{
		{
			name: "no credentials",
			a:    Assignment{Host: "10.0.0.1", Port: 8080},
			want: "http://10.0.0.1:8080",
		},
		{
			name: "with credentials",
			a:    Assignment{Host: "10.0.0.1", Port: 8080, Username: "u", Password: "p"},
			want: "http://u:p@10.0.0.1:8080",
		},
		{
			name: "zero port",
			a:    Assignment{Host: "10.0.0.1", Port: 0},
			want: "http://10.0.0.1:0",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.URL(); got != tc.want {
				t.Errorf("URL() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAvailabilityExpired(t *testing.T) {
	fresh := Availability{CheckedAt: time.Now()}
	if fresh.Expired(time.Minute) {
		t.Error("fresh entry should not be expired")
	}

	stale := Availability{CheckedAt: time.Now().Add(-time.Hour)}
	if !stale.Expired(time.Minute) {
		t.Error("hour-old entry should be expired against a one-minute TTL")
	}
}
