package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/xiaoqinglee/mason/internal/deps"
)

// Color palette.
var (
	colorGreen  = lipgloss.Color("35")  // ready
	colorYellow = lipgloss.Color("220") // stale, fixable by fetching or cleaning
	colorRed    = lipgloss.Color("167") // broken, needs the manifest changed
	colorCyan   = lipgloss.Color("36")  // informational
	colorBlue   = lipgloss.Color("75")  // suggested commands
	colorDim    = lipgloss.Color("240") // secondary text
)

var (
	styleReady   = lipgloss.NewStyle().Foreground(colorGreen)
	styleStale   = lipgloss.NewStyle().Foreground(colorYellow)
	styleBroken  = lipgloss.NewStyle().Foreground(colorRed)
	styleInfo    = lipgloss.NewStyle().Foreground(colorCyan)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleName    = lipgloss.NewStyle().Bold(true)
	styleCommand = lipgloss.NewStyle().Foreground(colorBlue)
)

const (
	iconReady  = "✓"
	iconStale  = "!"
	iconBroken = "✗"
)

// render applies a style unless --no-color is set.
func render(st lipgloss.Style, s string) string {
	if noColor {
		return s
	}
	return st.Render(s)
}

// statusStyle maps a dependency status to its display style.
func statusStyle(s deps.Status) lipgloss.Style {
	switch s {
	case deps.StatusOK:
		return styleReady
	case deps.StatusOverridden:
		return styleInfo
	case deps.StatusUnavailable, deps.StatusDiverged, deps.StatusDivergedReq, deps.StatusBadRequirement:
		return styleBroken
	default:
		return styleStale
	}
}

func statusIcon(s deps.Status) string {
	switch {
	case s.Ready():
		return iconReady
	case s == deps.StatusUnavailable || s == deps.StatusDiverged ||
		s == deps.StatusDivergedReq || s == deps.StatusBadRequirement:
		return iconBroken
	default:
		return iconStale
	}
}

// describeStatus renders a status with its diagnostic payload.
func describeStatus(d *deps.Dep) string {
	msg := d.Status.String()
	switch {
	case d.Diag.Expected != "" && d.Diag.Actual != "":
		msg += fmt.Sprintf(" (expected %s, found %s)", d.Diag.Expected, d.Diag.Actual)
	case d.Diag.Actual != "":
		msg += ": " + d.Diag.Actual
	}
	return msg
}

// printWarning prints a styled warning line.
func printWarning(format string, args ...any) {
	fmt.Println(render(styleStale, iconStale) + " " + fmt.Sprintf(format, args...))
}

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Printf("  "+format+"\n", args...)
	}
}
