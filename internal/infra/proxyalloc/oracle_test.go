package proxyalloc

import "testing"

func TestStaticOracleFallback(t *testing.T) {
	oracle := NewStaticOracle(map[string][]string{
		"US": {"CA", "MX"},
	})

	got, ok := oracle.Fallback("US", nil)
	if !ok || got != "CA" {
		t.Errorf("Fallback(US, nil) = (%q, %v), want (CA, true)", got, ok)
	}

	got, ok = oracle.Fallback("US", []string{"CA"})
	if !ok || got != "MX" {
		t.Errorf("Fallback(US, [CA]) = (%q, %v), want (MX, true)", got, ok)
	}

	_, ok = oracle.Fallback("US", []string{"CA", "MX"})
	if ok {
		t.Error("expected no fallback left once every candidate has been tried")
	}

	_, ok = oracle.Fallback("ZZ", nil)
	if ok {
		t.Error("expected no fallback for a country with no proximity entry")
	}
}

func TestNewStaticOracleDefaultsProximityTable(t *testing.T) {
	oracle := NewStaticOracle(nil)
	got, ok := oracle.Fallback("US", nil)
	if !ok || got != "CA" {
		t.Errorf("Fallback(US, nil) with nil table = (%q, %v), want (CA, true)", got, ok)
	}
}
