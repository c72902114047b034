package analysis

import "strings"

// Item is anything that can become a Request.
type Item interface {
	Identifier() string
	Name() string
}

// BuildRequests maps items to requests one-to-one, preserving order.
func BuildRequests[T Item](items []T) []Request {
	out := make([]Request, 0, len(items))
	for i, it := range items {
		out = append(out, Request{
			Seq:         i,
			ID:          strings.TrimSpace(it.Identifier()),
			DisplayName: strings.TrimSpace(it.Name()),
		})
	}
	return out
}
