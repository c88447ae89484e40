package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/botdash/internal/usage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// stdout is swapped by tests.
var stdout io.Writer = os.Stdout

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

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(stdout, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func levelColor(level string) string {
	switch level {
	case usage.Warning.String():
		return colorYellow
	case usage.Critical.String(), usage.Blocking.String():
		return colorRed
	default:
		return colorGreen
	}
}

// quotaBar renders a 20-cell bar such as [#########-----------] 45.0%.
func quotaBar(q usage.Quota) string {
	const width = 20
	filled := max(0, min(int(q.Percent/100*width), width))
	bar := "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
	return colorize(levelColor(q.Level), fmt.Sprintf("%s %5.1f%%", bar, q.Percent))
}

func printQuota(label string, q usage.Quota) {
	printStatus(label, "%s  %d / %d", quotaBar(q), q.Used, q.Limit)
	if q.Message != "" {
		fmt.Fprintf(stdout, "    %s\n", colorize(levelColor(q.Level), q.Message))
	}
}
