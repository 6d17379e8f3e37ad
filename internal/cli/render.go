package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/murelay/internal/engine"
	"github.com/roach88/murelay/internal/ir"
)

// shortIDLen is how much of an id the text output shows.
const shortIDLen = 12

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

// renderCrank writes res as an indented tree.
func renderCrank(w io.Writer, res *engine.CrankResult) {
	fmt.Fprintf(w, "crank %s: %s (%d nodes)\n", res.CrankID, res.Status, len(res.Nodes))
	if root := res.Root(); root != nil {
		fmt.Fprintln(w, nodeLine(*root))
		renderChildren(w, res, *root, "")
	}

	if len(res.Warnings) > 0 {
		fmt.Fprintln(w, "warnings:")
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "  - %s\n", warn)
		}
	}

	if failures := res.Failures(); len(failures) > 0 {
		fmt.Fprintln(w, "failures:")
		for _, f := range failures {
			path := make([]string, len(f.Path))
			for i, id := range f.Path {
				path[i] = shortID(id)
			}
			fmt.Fprintf(w, "  - #%d %s: %s\n", f.Node.Index, strings.Join(path, " > "), f.Node.Error.Kind)
		}
	}
}

func renderChildren(w io.Writer, res *engine.CrankResult, n engine.CrankNode, prefix string) {
	for i, idx := range n.Children {
		child := res.Nodes[idx]
		branch, indent := "├── ", "│   "
		if i == len(n.Children)-1 {
			branch, indent = "└── ", "    "
		}
		fmt.Fprintf(w, "%s%s%s\n", prefix, branch, nodeLine(child))
		renderChildren(w, res, child, prefix+indent)
	}
}

func nodeLine(n engine.CrankNode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s %s", n.Index, n.ProcessID, shortID(n.MessageID))
	switch {
	case n.Revisited:
		fmt.Fprintf(&b, " revisit of #%d", n.RevisitOf)
	case n.Error != nil:
		fmt.Fprintf(&b, " FAILED %s: %s", n.Error.Kind, n.Error.Message)
	default:
		if n.TxID != "" {
			fmt.Fprintf(&b, " seq=%d tx=%s", n.SequenceNumber, shortID(n.TxID))
		}
		if n.Outbox > 0 {
			fmt.Fprintf(&b, " outbox=%d", n.Outbox)
		}
		if n.Cached {
			b.WriteString(" (cached)")
		}
	}
	return b.String()
}

// renderRecord writes one cache record.
func renderRecord(w io.Writer, rec ir.CacheRecord) {
	fmt.Fprintf(w, "message %s\n", rec.MessageID)
	fmt.Fprintf(w, "  process: %s\n", rec.ProcessID)
	fmt.Fprintf(w, "  status:  %s\n", rec.Status)
	if rec.TxID != "" {
		fmt.Fprintf(w, "  tx:      %s (seq %d)\n", rec.TxID, rec.SequenceNumber)
	}
	if rec.ErrorKind != "" {
		fmt.Fprintf(w, "  error:   %s: %s\n", rec.ErrorKind, rec.LastError)
	}
	fmt.Fprintf(w, "  outbox:  %d\n", len(rec.Outbox))
	for _, m := range rec.Outbox {
		fmt.Fprintf(w, "    - %s -> %s\n", shortID(m.ID), m.ProcessID)
	}
}

// renderRecords writes a page of records as a table.
func renderRecords(w io.Writer, processID string, records []ir.CacheRecord, next int64) {
	if len(records) == 0 {
		fmt.Fprintf(w, "No messages found for process: %s\n", processID)
		return
	}
	fmt.Fprintf(w, "%-14s %-10s %5s %s\n", "MESSAGE", "STATUS", "SEQ", "OUTBOX")
	for _, rec := range records {
		fmt.Fprintf(w, "%-14s %-10s %5d %d\n", shortID(rec.MessageID), rec.Status, rec.SequenceNumber, len(rec.Outbox))
	}
	if next != 0 {
		fmt.Fprintf(w, "next cursor: %d\n", next)
	}
}
