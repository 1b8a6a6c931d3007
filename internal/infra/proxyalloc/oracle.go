package proxyalloc

// staticOracle is the static regional-proximity fallback table — the
// non-LLM CountryOracle implementation spec.md offers as an
// alternative to an LLM-backed variant, which is not implemented here
// (see DESIGN.md Open Question resolutions: no LLM SDK is grounded
// anywhere in the retrieved example pack).
type staticOracle struct {
	proximity map[string][]string
}

// NewStaticOracle builds a CountryOracle from a regional-proximity
// table: for a given country, candidates are tried in order, skipping
// any already present in tried.
func NewStaticOracle(proximity map[string][]string) *staticOracle {
	if proximity == nil {
		proximity = DefaultProximityTable()
	}
	return &staticOracle{proximity: proximity}
}

func (o *staticOracle) Fallback(country string, tried []string) (string, bool) {
	candidates := o.proximity[country]
	for _, c := range candidates {
		if !contains(tried, c) {
			return c, true
		}
	}
	return "", false
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// DefaultProximityTable is a coarse regional grouping: each entry's
// neighbors are tried in order before giving up.
func DefaultProximityTable() map[string][]string {
	return map[string][]string{
		"US": {"CA", "MX", "GB"},
		"CA": {"US", "GB"},
		"MX": {"US", "BR"},
		"GB": {"IE", "FR", "DE"},
		"IE": {"GB", "FR"},
		"FR": {"DE", "ES", "GB"},
		"DE": {"FR", "NL", "PL"},
		"NL": {"DE", "BE", "GB"},
		"ES": {"FR", "PT"},
		"PT": {"ES"},
		"PL": {"DE", "CZ"},
		"BR": {"AR", "MX"},
		"AR": {"BR", "CL"},
		"CL": {"AR", "BR"},
		"IN": {"SG", "AE"},
		"SG": {"MY", "ID", "IN"},
		"MY": {"SG", "ID"},
		"ID": {"SG", "MY"},
		"AE": {"SA", "IN"},
		"SA": {"AE"},
		"AU": {"NZ", "SG"},
		"NZ": {"AU"},
		"JP": {"KR", "SG"},
		"KR": {"JP", "SG"},
	}
}
