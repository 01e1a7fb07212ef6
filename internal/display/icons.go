package display

import (
	"os"

	"github.com/mattn/go-isatty"
)

// Icon has a Unicode glyph and an ASCII fallback
type Icon struct {
	Unicode string
	ASCII   string
	Color   Color
}

var icons = map[string]Icon{
	"success": {Unicode: "✓", ASCII: "[OK]", Color: ColorGreen},
	"warning": {Unicode: "!", ASCII: "[WARN]", Color: ColorYellow},
	"error":   {Unicode: "✗", ASCII: "[ERR]", Color: ColorRed},
	"info":    {Unicode: "•", ASCII: "[INFO]", Color: ColorCyan},
	"mounted": {Unicode: "⛁", ASCII: "[M]", Color: ColorBlue},
	"pending": {Unicode: "…", ASCII: "...", Color: ColorBlue},
}

// IconSet renders icons with or without Unicode
type IconSet struct {
	unicode bool
}

// NewIconSet detects Unicode support for f
func NewIconSet(f *os.File) *IconSet {
	return &IconSet{unicode: detectUnicodeSupport(f)}
}

func detectUnicodeSupport(f *os.File) bool {
	if os.Getenv("FORCE_UNICODE") != "" {
		return true
	}
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	if os.Getenv("LANG") == "C" || os.Getenv("LC_ALL") == "C" {
		return false
	}
	if t := os.Getenv("TERM"); t == "dumb" || t == "vt100" {
		return false
	}
	return f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// Render returns the glyph for name, "?" when unknown
func (s *IconSet) Render(name string) string {
	icon, ok := icons[name]
	if !ok {
		return "?"
	}
	if s != nil && s.unicode {
		return icon.Unicode
	}
	return icon.ASCII
}

// RenderColored applies the icon's color through cs
func (s *IconSet) RenderColored(name string, cs ColorSystem) string {
	return cs.Colorize(s.Render(name), icons[name].Color)
}
