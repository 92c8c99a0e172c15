// Package observability provides logging setup and formatted CLI output.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/dian-reconciler/internal/bundle"
	"github.com/jonathan/dian-reconciler/internal/reconcile"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 64
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer writes human-readable summaries for the CLI.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintReport outputs the counters and per-group outcome of a reconciliation run.
func (p *Printer) PrintReport(r *reconcile.Report) {
	if r == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(r.Message() + "\n\n")
	sb.WriteString(fmt.Sprintf("Run:         %s\n", r.RunID))
	sb.WriteString(fmt.Sprintf("Documents:   %d\n", r.TotalDocuments))
	sb.WriteString(fmt.Sprintf("Groups:      %d\n", r.DuplicateGroupCount))
	sb.WriteString(fmt.Sprintf("Corrected:   %d\n", r.CorrectedCount))
	sb.WriteString(fmt.Sprintf("Errors:      %d\n", r.ErrorCount))
	if pending := r.Pending(); pending > 0 {
		sb.WriteString(fmt.Sprintf("Pending:     %d\n", pending))
	}
	if r.Error != "" {
		sb.WriteString(fmt.Sprintf("Stopped:     %s\n", r.Error))
	}

	if len(r.Groups) > 0 {
		sb.WriteString("\n")
		count := min(len(r.Groups), maxItemsToShow)
		for i := 0; i < count; i++ {
			writeGroup(&sb, r.Groups[i])
		}
		if len(r.Groups) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("... and %d more groups\n", len(r.Groups)-maxItemsToShow))
		}
	}

	p.printBox("RECONCILIATION REPORT", strings.TrimSuffix(sb.String(), "\n"))
}

func writeGroup(sb *strings.Builder, g reconcile.GroupOutcome) {
	sb.WriteString(fmt.Sprintf("%s  [%s]\n", g.CUFE, g.Status))
	if g.Canonical != nil {
		sb.WriteString(fmt.Sprintf("  portal: subtotal %s  total %s\n", g.Canonical.Subtotal, g.Canonical.Total))
	}
	for _, m := range g.Members {
		mark := "·"
		switch {
		case m.Authoritative:
			mark = "✓"
		case m.Deactivated:
			mark = "✗"
		}
		sb.WriteString(fmt.Sprintf("  %s #%d %s  subtotal %s  total %s\n", mark, m.ID, m.Prefix+m.Number, m.Subtotal, m.Total))
		if m.Error != "" {
			sb.WriteString(fmt.Sprintf("    ⚠ %s\n", m.Error))
		}
	}
	if g.Error != "" {
		sb.WriteString(fmt.Sprintf("  ⚠ %s\n", g.Error))
	}
}

// PrintBundle outputs the entries of a downloaded bundle and the fields
// extracted from each invoice document.
func (p *Printer) PrintBundle(trackID string, b *bundle.Bundle) {
	if b == nil {
		return
	}

	var sb strings.Builder
	if trackID != "" {
		sb.WriteString(fmt.Sprintf("Track ID: %s\n", trackID))
	}
	sb.WriteString(fmt.Sprintf("Entries:  %d\n", b.TotalEntries))
	var types []string
	for _, ext := range b.Extensions() {
		types = append(types, fmt.Sprintf("%s=%d", ext, b.CountsByExtension[ext]))
	}
	if len(types) > 0 {
		sb.WriteString(fmt.Sprintf("Types:    %s\n", strings.Join(types, " ")))
	}

	for _, e := range b.Invoices() {
		sb.WriteString(fmt.Sprintf("\n%s (%d bytes, %d lines)\n", e.Name, e.SizeBytes, e.LineItems))
		for _, key := range bundle.FieldKeys() {
			if v := e.Field(key); v != "" {
				sb.WriteString(fmt.Sprintf("  %-22s %s\n", key, v))
			}
		}
	}

	p.printBox("DOCUMENT BUNDLE", strings.TrimSuffix(sb.String(), "\n"))
}
