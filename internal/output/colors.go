package output

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme defines the colors used for the console report.
type ColorScheme struct {
	Title     *color.Color
	Section   *color.Color
	Metric    *color.Color
	Value     *color.Color
	Pass      *color.Color
	Fail      *color.Color
	Warn      *color.Color
	Dim       *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.FgCyan, color.Bold),
		Section:   color.New(color.Bold),
		Metric:    color.New(color.FgBlue),
		Value:     color.New(color.FgWhite),
		Pass:      color.New(color.FgGreen, color.Bold),
		Fail:      color.New(color.FgRed, color.Bold),
		Warn:      color.New(color.FgYellow, color.Bold),
		Dim:       color.New(color.Faint),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()

	scheme.Title.DisableColor()
	scheme.Section.DisableColor()
	scheme.Metric.DisableColor()
	scheme.Value.DisableColor()
	scheme.Pass.DisableColor()
	scheme.Fail.DisableColor()
	scheme.Warn.DisableColor()
	scheme.Dim.DisableColor()
	scheme.Highlight.DisableColor()

	return scheme
}

// SuccessIcon returns a checkmark symbol with appropriate color.
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color.
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}

// WarningIcon returns a warning symbol with appropriate color.
func WarningIcon(noColor bool) string {
	if noColor {
		return "⚠"
	}
	return color.New(color.FgYellow).Sprint("⚠")
}

// ShouldColor reports whether output to w should use colors. NO_COLOR
// and FORCE_COLOR take precedence over terminal detection.
func ShouldColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
