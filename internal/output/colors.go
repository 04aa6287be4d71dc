package output

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title   *color.Color
	Node    *color.Color
	Value   *color.Color
	Muted   *color.Color
	Success *color.Color
	Warn    *color.Color
	Error   *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:   color.New(color.FgCyan, color.Bold),
		Node:    color.New(color.FgBlue, color.Bold),
		Value:   color.New(color.FgWhite),
		Muted:   color.New(color.Faint),
		Success: color.New(color.FgGreen, color.Bold),
		Warn:    color.New(color.FgYellow, color.Bold),
		Error:   color.New(color.FgRed, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range []*color.Color{
		scheme.Title, scheme.Node, scheme.Value, scheme.Muted,
		scheme.Success, scheme.Warn, scheme.Error,
	} {
		c.DisableColor()
	}
	return scheme
}

// SuccessIcon returns a checkmark symbol with appropriate color
func (s *ColorScheme) SuccessIcon() string {
	return s.Success.Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func (s *ColorScheme) ErrorIcon() string {
	return s.Error.Sprint("✗")
}

// WarningIcon returns a warning symbol with appropriate color
func (s *ColorScheme) WarningIcon() string {
	return s.Warn.Sprint("⚠")
}

// UseColors reports whether output written to w should be colored.
// NO_COLOR and FORCE_COLOR take precedence over terminal detection.
func UseColors(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if term := os.Getenv("TERM"); term == "dumb" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
