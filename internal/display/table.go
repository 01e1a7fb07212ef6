package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// TableStyle defines the visual style of a table
type TableStyle struct {
	Name            string
	Border          BorderStyle
	HeaderSeparator bool
	Padding         int
	// MaxWidth of 0 means the terminal width; negative disables fitting.
	MaxWidth int
}

// BorderStyle defines table border characters
type BorderStyle struct {
	Horizontal string
	Vertical   string
	Corner     string
}

var (
	// PlainTableStyle is borderless with an underlined header
	PlainTableStyle = TableStyle{
		Name:            "plain",
		HeaderSeparator: true,
		Padding:         1,
	}

	// BoxTableStyle draws ASCII borders
	BoxTableStyle = TableStyle{
		Name:            "box",
		Border:          BorderStyle{Horizontal: "-", Vertical: "|", Corner: "+"},
		HeaderSeparator: true,
		Padding:         1,
	}
)

// Table renders rows in aligned columns. The last column is truncated when
// the table would overflow the terminal.
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	style      TableStyle
	colors     ColorSystem
	width      int
}

// NewTable creates a table; colors may be nil.
func NewTable(colors ColorSystem, headers ...string) *Table {
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		style:      PlainTableStyle,
		colors:     colors,
		width:      terminalWidth(os.Stdout),
	}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) SetAlignment(column int, a Alignment) {
	t.alignments[column] = a
}

func (t *Table) SetStyle(style TableStyle) {
	t.style = style
}

// Len is the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Render returns the table with a trailing newline.
func (t *Table) Render() string {
	widths := t.columnWidths()
	if len(widths) == 0 {
		return ""
	}
	widths = t.fit(widths)

	var b strings.Builder
	border := t.style.Border

	if border.Horizontal != "" {
		b.WriteString(t.rule(widths, border.Horizontal, border.Corner))
	}
	if len(t.headers) > 0 {
		b.WriteString(t.row(t.headers, widths, true))
		if t.style.HeaderSeparator {
			h := border.Horizontal
			if h == "" {
				h = "-"
			}
			b.WriteString(t.rule(widths, h, border.Corner))
		}
	}
	for _, r := range t.rows {
		b.WriteString(t.row(r, widths, false))
	}
	if border.Horizontal != "" {
		b.WriteString(t.rule(widths, border.Horizontal, border.Corner))
	}
	return b.String()
}

func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnWidths() []int {
	n := len(t.headers)
	for _, r := range t.rows {
		if len(r) > n {
			n = len(r)
		}
	}
	widths := make([]int, n)
	measure := func(cells []string) {
		for i, c := range cells {
			if w := utf8.RuneCountInString(c); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, r := range t.rows {
		measure(r)
	}
	return widths
}

// fit shrinks the last column so the table fits the available width.
func (t *Table) fit(widths []int) []int {
	limit := t.style.MaxWidth
	if limit == 0 {
		limit = t.width
	}
	if limit <= 0 {
		return widths
	}

	total := 0
	for _, w := range widths {
		total += w + 2*t.style.Padding
	}
	if t.style.Border.Vertical != "" {
		total += len(widths) + 1
	}

	last := len(widths) - 1
	if over := total - limit; over > 0 {
		widths[last] -= over
		if widths[last] < 4 {
			widths[last] = 4
		}
	}
	return widths
}

func (t *Table) rule(widths []int, h, corner string) string {
	var b strings.Builder
	b.WriteString(corner)
	for i, w := range widths {
		b.WriteString(strings.Repeat(h, w+2*t.style.Padding))
		if i < len(widths)-1 || corner != "" {
			b.WriteString(corner)
		}
	}
	return strings.TrimRight(b.String(), " ") + "\n"
}

func (t *Table) row(cells []string, widths []int, header bool) string {
	var b strings.Builder
	v := t.style.Border.Vertical
	pad := strings.Repeat(" ", t.style.Padding)

	b.WriteString(v)
	for i, w := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		b.WriteString(pad)
		b.WriteString(t.cell(cell, w, t.alignments[i], header))
		b.WriteString(pad)
		b.WriteString(v)
	}
	return strings.TrimRight(b.String(), " ") + "\n"
}

// cell pads before coloring so escape codes do not count toward the width.
func (t *Table) cell(content string, width int, align Alignment, header bool) string {
	runes := []rune(content)
	if len(runes) > width {
		if width > 3 {
			content = string(runes[:width-3]) + "..."
		} else {
			content = string(runes[:width])
		}
	}

	gap := strings.Repeat(" ", width-utf8.RuneCountInString(content))
	if header && t.colors != nil {
		content = t.colors.Colorize(content, t.colors.Theme().Primary)
	}
	if align == AlignRight {
		return gap + content
	}
	return content + gap
}

func terminalWidth(f *os.File) int {
	if f == nil {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
