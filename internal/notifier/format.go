package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// FormatHTML renders r for Telegram's HTML parse mode.
func FormatHTML(r Report, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Stock scan · top %d</b>\n", len(r.Entries))
	fmt.Fprintf(&b, "<i>%s</i>", r.At.In(loc).Format("2006-01-02 15:04 MST"))
	if r.Source != "" {
		fmt.Fprintf(&b, " · source: %s", html.EscapeString(r.Source))
	}
	b.WriteString("\n\n")

	if len(r.Entries) == 0 {
		b.WriteString("No results.\n")
	}
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%d. <b>%s</b> %s\n", e.Rank, html.EscapeString(e.Symbol), html.EscapeString(e.Name))
		fmt.Fprintf(&b, "   score <code>%.1f</code> · confidence <code>%.0f%%</code>", e.Score, e.Confidence*100)
		if e.Signal != "" {
			fmt.Fprintf(&b, " · %s", html.EscapeString(e.Signal))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nanalyzed %d/%d", r.Succeeded, r.Candidates)
	if r.Failed > 0 {
		fmt.Fprintf(&b, " (%d failed)", r.Failed)
	}
	if r.Took > 0 {
		fmt.Fprintf(&b, " in %s", r.Took.Round(time.Second))
	}
	if r.RunID != "" {
		fmt.Fprintf(&b, "\n<code>%s</code>", html.EscapeString(r.RunID))
	}
	return b.String()
}
