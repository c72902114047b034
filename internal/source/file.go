package source

import (
	"context"
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	logx "scanbot/pkg/logx"
)

// WatchlistEntry is the fallback file's native record.
//
// The file is YAML (JSON parses as well) and is either a bare list of
// entries or a mapping with a "stocks" list:
//
//	stocks:
//	  - symbol: "2330"
//	    name: TSMC
//	    price: 580
type WatchlistEntry struct {
	Symbol string   `yaml:"symbol"`
	Name   string   `yaml:"name"`
	Price  *float64 `yaml:"price"`
	Sector string   `yaml:"sector"`
}

type watchlistFile struct {
	Stocks []WatchlistEntry `yaml:"stocks"`
}

// ReadWatchlist parses the fallback file at path, keeping file order.
func ReadWatchlist(path string) ([]WatchlistEntry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var root yaml.Node
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrValidation, path, err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]

	switch doc.Kind {
	case yaml.SequenceNode:
		var entries []WatchlistEntry
		if err := doc.Decode(&entries); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrValidation, path, err)
		}
		return entries, nil
	case yaml.MappingNode:
		var wf watchlistFile
		if err := doc.Decode(&wf); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrValidation, path, err)
		}
		return wf.Stocks, nil
	default:
		return nil, fmt.Errorf("%w: %s: expected a list or a mapping with \"stocks\"", ErrValidation, path)
	}
}

type fileSource struct {
	path string
	log  logx.Logger
}

func openFile(path string, log logx.Logger) *fileSource {
	return &fileSource{path: path, log: log}
}

func (f *fileSource) Kind() Kind   { return KindFallback }
func (f *fileSource) Close() error { return nil }

func (f *fileSource) LoadFiltered(ctx context.Context, flt Filter) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := ReadWatchlist(f.path)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, e := range entries {
		if !flt.Keep(e.Price) {
			continue
		}
		out = append(out, fromWatchlistEntry(e))
	}
	f.log.Debug("fallback loaded", logx.Int("entries", len(entries)), logx.Int("kept", len(out)), logx.String("filter", flt.String()))
	return out, nil
}

func fromWatchlistEntry(e WatchlistEntry) Candidate {
	name := strings.TrimSpace(e.Name)
	return Candidate{
		Symbol:      strings.TrimSpace(e.Symbol),
		DisplayName: name,
		Price:       e.Price,
	}
}
