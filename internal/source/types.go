package source

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoSource means neither the primary store nor the fallback file is
	// usable. It fails the run, not the process.
	ErrNoSource = errors.New("no candidate source available")
	// ErrValidation marks data that cannot be turned into valid candidates.
	ErrValidation = errors.New("candidate validation failed")
)

// Kind tags the provider a Source reads from.
type Kind int

const (
	KindNone Kind = iota
	KindPrimary
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindPrimary:
		return "primary"
	case KindFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Config locates both providers.
type Config struct {
	DBPath       string
	FallbackPath string
	UseFallback  bool
	// BusyTimeout is applied to the SQLite connection; 0 means 5s.
	BusyTimeout time.Duration
}

// Filter is an inclusive price range. When Enabled, entries without a price
// are excluded.
type Filter struct {
	Enabled bool
	Min     float64
	Max     float64
}

// Candidate is the provider-independent entry handed to request building.
type Candidate struct {
	Symbol      string
	DisplayName string
	Price       *float64
}

func (c Candidate) Identifier() string { return c.Symbol }
func (c Candidate) Name() string       { return c.DisplayName }

// Source is an opened provider. Each run opens its own and closes it.
type Source interface {
	Kind() Kind
	LoadFiltered(ctx context.Context, f Filter) ([]Candidate, error)
	Close() error
}
