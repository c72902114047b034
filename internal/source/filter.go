package source

import (
	"fmt"
	"strings"
)

// Keep reports whether an entry with the given price passes f.
func (f Filter) Keep(price *float64) bool {
	if !f.Enabled {
		return true
	}
	if price == nil {
		return false
	}
	return f.Min <= *price && *price <= f.Max
}

func (f Filter) String() string {
	if !f.Enabled {
		return "off"
	}
	return fmt.Sprintf("[%g, %g]", f.Min, f.Max)
}

// Validate checks every candidate carries a symbol and a display name.
// The first offending position is reported.
func Validate(cands []Candidate) error {
	for i, c := range cands {
		if strings.TrimSpace(c.Symbol) == "" {
			return fmt.Errorf("%w: candidate %d has no symbol", ErrValidation, i)
		}
		if strings.TrimSpace(c.DisplayName) == "" {
			return fmt.Errorf("%w: candidate %d (%s) has no display name", ErrValidation, i, c.Symbol)
		}
	}
	return nil
}
