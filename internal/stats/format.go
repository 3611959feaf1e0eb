package stats

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

const timeLayout = "2006-01-02 15:04:05 UTC"

// Format renders a snapshot as plain text for the chat command and terminal.
func Format(s Snapshot, now time.Time) string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Fetched:\t%s\n", humanize.Comma(int64(s.Fetched)))
	fmt.Fprintf(tw, "Forwarded:\t%s\n", humanize.Comma(int64(s.Forwarded)))
	fmt.Fprintf(tw, "Errors:\t%s\n", humanize.Comma(int64(s.Errors)))
	fmt.Fprintf(tw, "Uptime:\t%s\n", uptime(s.StartedAt, now))
	fmt.Fprintf(tw, "Last poll:\t%s\n", formatPoll(s.LastPoll, now))
	_ = tw.Flush()

	names := s.KindNames()
	if len(names) == 0 {
		return strings.TrimRight(b.String(), "\n")
	}

	b.WriteString("\n")
	tw = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tFETCHED\tFORWARDED\tERRORS\tLAST POLL")
	for _, name := range names {
		ks := s.Kinds[name]
		last := "never"
		if !ks.LastPoll.IsZero() {
			last = humanize.RelTime(ks.LastPoll, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			name,
			humanize.Comma(int64(ks.Fetched)),
			humanize.Comma(int64(ks.Forwarded)),
			humanize.Comma(int64(ks.Errors)),
			last,
		)
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func uptime(start, now time.Time) string {
	if start.IsZero() {
		return "unknown"
	}
	return strings.TrimSpace(humanize.RelTime(start, now, "", "")) +
		" (since " + start.UTC().Format(timeLayout) + ")"
}

func formatPoll(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(timeLayout) + " (" + humanize.RelTime(t, now, "ago", "from now") + ")"
}
