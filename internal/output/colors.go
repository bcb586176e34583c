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
	Label   *color.Color
	Success *color.Color
	Error   *color.Color
	Warning *color.Color
	Muted   *color.Color

	// NoColor is set when every color is disabled
	NoColor bool
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	s := &ColorScheme{
		Title:   color.New(color.FgCyan, color.Bold),
		Label:   color.New(color.FgYellow),
		Success: color.New(color.FgGreen, color.Bold),
		Error:   color.New(color.FgRed, color.Bold),
		Warning: color.New(color.FgYellow, color.Bold),
		Muted:   color.New(color.FgHiBlack),
	}
	for _, c := range s.colors() {
		c.EnableColor()
	}
	return s
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	for _, c := range s.colors() {
		c.DisableColor()
	}
	s.NoColor = true
	return s
}

// SchemeFor returns the default scheme when w is a terminal and NO_COLOR is
// unset, and NoColorScheme otherwise.
func SchemeFor(w io.Writer) *ColorScheme {
	if IsTerminal(w) && os.Getenv("NO_COLOR") == "" {
		return DefaultColorScheme()
	}
	return NoColorScheme()
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (s *ColorScheme) colors() []*color.Color {
	return []*color.Color{s.Title, s.Label, s.Success, s.Error, s.Warning, s.Muted}
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}
