package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// ColorSystem handles color application and terminal detection
type ColorSystem interface {
	Colorize(text string, color Color) string
	Sprintf(color Color, format string, args ...interface{}) string
	IsColorSupported() bool
	Theme() ColorTheme
}

type colorSystem struct {
	theme          ColorTheme
	colorSupported bool
	colorMap       map[Color]*color.Color
}

// NewColorSystem creates a color system for output written to f. Colors
// are off when enabled is false or f cannot show them.
func NewColorSystem(theme ColorTheme, f *os.File, enabled bool) ColorSystem {
	cs := &colorSystem{
		theme:          theme,
		colorSupported: enabled && detectColorSupport(f),
	}
	cs.initializeColorMap()
	return cs
}

// detectColorSupport checks if f is a terminal that accepts colors
func detectColorSupport(f *os.File) bool {
	if f == nil {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	return termenv.NewOutput(f).ColorProfile() != termenv.Ascii
}

func (cs *colorSystem) initializeColorMap() {
	attrs := map[Color]color.Attribute{
		ColorRed:          color.FgRed,
		ColorGreen:        color.FgGreen,
		ColorYellow:       color.FgYellow,
		ColorBlue:         color.FgBlue,
		ColorMagenta:      color.FgMagenta,
		ColorCyan:         color.FgCyan,
		ColorWhite:        color.FgWhite,
		ColorBrightRed:    color.FgHiRed,
		ColorBrightGreen:  color.FgHiGreen,
		ColorBrightYellow: color.FgHiYellow,
		ColorBrightBlue:   color.FgHiBlue,
		ColorBrightCyan:   color.FgHiCyan,
	}

	cs.colorMap = make(map[Color]*color.Color, len(attrs))
	for c, attr := range attrs {
		fc := color.New(attr)
		// fatih/color disables itself globally when stdout is not a TTY;
		// the decision here is per stream.
		if cs.colorSupported {
			fc.EnableColor()
		} else {
			fc.DisableColor()
		}
		cs.colorMap[c] = fc
	}
}

// Colorize applies color to text if color is supported
func (cs *colorSystem) Colorize(text string, clr Color) string {
	if !cs.colorSupported {
		return text
	}
	if fc, ok := cs.colorMap[clr]; ok {
		return fc.Sprint(text)
	}
	return text
}

func (cs *colorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

func (cs *colorSystem) IsColorSupported() bool {
	return cs.colorSupported
}

func (cs *colorSystem) Theme() ColorTheme {
	return cs.theme
}
