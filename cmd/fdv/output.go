package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/financevibe/fdv/internal/collector"
	"github.com/financevibe/fdv/internal/sink"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func printStatus(w io.Writer, label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(w, "  %s %s\n", l, val)
}

// printSummary writes the end-of-cycle counters of one run, followed by one
// line per failed entity.
func printSummary(w io.Writer, s collector.Summary) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, s.Kind), colorize(colorCyan, s.RunID))
	printStatus(w, "Processed", "%d", s.Processed)
	printStatus(w, "Succeeded", "%d", s.Succeeded)
	printStatus(w, "Skipped (fresh)", "%d", s.SkippedFresh)
	printStatus(w, "Failed", "%d", s.Failed)
	printStatus(w, "Rejected", "%d", s.Rejected)
	printStatus(w, "Rate limited", "%d", s.RateLimited)
	printStatus(w, "Inserted", "%d", s.Inserted)
	printStatus(w, "Duplicates", "%d", s.Duplicates)
	printStatus(w, "Duration", "%s", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	for _, f := range s.Failures {
		fmt.Fprintf(w, "    %s %s (%s): %s\n", colorize(colorRed, "✗"), f.EntityID, f.Status, f.Error)
	}
}

func printReport(w io.Writer, entityID string, rep sink.Report) {
	fmt.Fprintf(w, "%s\n", colorize(colorBold, entityID))
	printStatus(w, "Inserted", "%d", rep.Inserted)
	printStatus(w, "Replaced", "%d", rep.Replaced)
	printStatus(w, "Unchanged", "%d", rep.Skipped)
	printStatus(w, "Failed", "%d", rep.Failed)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
