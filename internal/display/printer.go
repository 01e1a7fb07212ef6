// Package display renders command results for direct (non-interactive)
// commands: listings on stdout in table, JSON or YAML form, and status
// messages and the busy indicator on stderr.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"borg-tool/internal/backup"
	"borg-tool/internal/borg"
	apperrors "borg-tool/internal/errors"
	"borg-tool/internal/mount"
	"borg-tool/internal/probe"
)

// Options configure a Printer.
type Options struct {
	Out     io.Writer
	Err     io.Writer
	Format  OutputFormat
	NoColor bool
	Quiet   bool
}

// Printer writes results and status messages.
type Printer struct {
	out       io.Writer
	err       io.Writer
	format    OutputFormat
	quiet     bool
	outColors ColorSystem
	errColors ColorSystem
	icons     *IconSet
	animate   bool
}

// NewPrinter creates a printer. Nil writers default to stdout and stderr.
func NewPrinter(opts Options) *Printer {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Format == "" {
		opts.Format = FormatTable
	}

	outFile, _ := opts.Out.(*os.File)
	errFile, _ := opts.Err.(*os.File)
	theme := DefaultColorTheme()
	if opts.NoColor {
		theme = PlainTextTheme()
	}

	return &Printer{
		out:       opts.Out,
		err:       opts.Err,
		format:    opts.Format,
		quiet:     opts.Quiet,
		outColors: NewColorSystem(theme, outFile, !opts.NoColor),
		errColors: NewColorSystem(theme, errFile, !opts.NoColor),
		icons:     NewIconSet(errFile),
		animate:   errFile != nil && isatty.IsTerminal(errFile.Fd()),
	}
}

// Format is the listing format in use.
func (p *Printer) Format() OutputFormat { return p.format }

// Archives lists archives oldest first, as borg reports them.
func (p *Printer) Archives(repo string, archives []borg.Archive) error {
	if p.format != FormatTable {
		if archives == nil {
			archives = []borg.Archive{}
		}
		return p.encode(archives)
	}
	if len(archives) == 0 {
		p.Info(fmt.Sprintf("No archives found in %s", repo))
		return nil
	}

	t := p.newTable("ARCHIVE", "TIME")
	for _, a := range archives {
		t.AddRow(a.Name, a.Time)
	}
	t.RenderTo(p.out)
	return nil
}

// Items lists the entries of one archive.
func (p *Printer) Items(archive string, items []borg.Item) error {
	if p.format != FormatTable {
		if items == nil {
			items = []borg.Item{}
		}
		return p.encode(items)
	}
	if len(items) == 0 {
		p.Info(fmt.Sprintf("Archive %s is empty", archive))
		return nil
	}

	t := p.newTable("TYPE", "SIZE", "PATH")
	t.SetAlignment(1, AlignRight)
	for _, it := range items {
		t.AddRow(ItemType(it.Type), ItemSize(it), it.Path)
	}
	t.RenderTo(p.out)
	return nil
}

// ItemType names borg's one-letter item types.
func ItemType(t string) string {
	switch t {
	case "d":
		return "dir"
	case "-":
		return "file"
	case "l":
		return "link"
	case "":
		return "?"
	}
	return t
}

// ItemSize is the human-readable size of regular files.
func ItemSize(it borg.Item) string {
	if it.Type != "-" {
		return ""
	}
	return humanize.IBytes(uint64(it.Size))
}

type statusRow struct {
	Name     string `json:"name" yaml:"name"`
	Location string `json:"location" yaml:"location"`
	Status   string `json:"status" yaml:"status"`
	Presets  int    `json:"presets" yaml:"presets"`
	Warning  string `json:"warning,omitempty" yaml:"warning,omitempty"`
}

// RepoStatuses lists repositories with their probe status.
func (p *Printer) RepoStatuses(results []probe.Result) error {
	rows := make([]statusRow, 0, len(results))
	for _, r := range results {
		row := statusRow{
			Name:     r.Repository.Name,
			Location: r.Repository.Location,
			Status:   string(r.Status),
			Presets:  len(r.Repository.Presets),
		}
		if r.Warning != nil {
			row.Warning = WarningText(r.Warning)
		}
		rows = append(rows, row)
	}
	if p.format != FormatTable {
		return p.encode(rows)
	}

	t := p.newTable("REPO", "STATUS", "PRESETS", "LOCATION")
	t.SetAlignment(2, AlignRight)
	for _, r := range rows {
		t.AddRow(r.Name, r.Status, fmt.Sprint(r.Presets), r.Location)
	}
	t.RenderTo(p.out)
	for _, r := range rows {
		if r.Warning != "" {
			p.Warning(r.Warning)
		}
	}
	return nil
}

// Sessions lists mount sessions.
func (p *Printer) Sessions(sessions []mount.Session) error {
	if p.format != FormatTable {
		if sessions == nil {
			sessions = []mount.Session{}
		}
		return p.encode(sessions)
	}
	t := p.newTable("MOUNTPOINT", "REPO", "ARCHIVE")
	for _, s := range sessions {
		t.AddRow(s.Mountpoint, s.Repository, s.Archive)
	}
	t.RenderTo(p.out)
	return nil
}

type planView struct {
	Repository   string   `json:"repository" yaml:"repository"`
	Preset       string   `json:"preset" yaml:"preset"`
	Archive      string   `json:"archive" yaml:"archive"`
	Includes     []string `json:"includes" yaml:"includes"`
	Excludes     []string `json:"excludes" yaml:"excludes"`
	AutoExcludes []string `json:"auto_excludes,omitempty" yaml:"auto_excludes,omitempty"`
	Command      []string `json:"command" yaml:"command"`
}

// Plan shows what a backup would run.
func (p *Printer) Plan(plan backup.Plan) error {
	cmd := append([]string{plan.Repository.BorgBin}, plan.Args()...)
	if p.format != FormatTable {
		return p.encode(planView{
			Repository:   plan.Repository.Name,
			Preset:       plan.Preset.Name,
			Archive:      plan.Archive,
			Includes:     plan.Options.Includes,
			Excludes:     plan.Options.Excludes,
			AutoExcludes: plan.AutoExcludes,
			Command:      cmd,
		})
	}

	fmt.Fprintf(p.out, "Repository: %s\n", plan.Repository.Name)
	fmt.Fprintf(p.out, "Backup:     %s\n", plan.Preset.Name)
	fmt.Fprintf(p.out, "Archive:    %s\n", plan.Archive)
	fmt.Fprintf(p.out, "Command:    %s\n", shellquote.Join(cmd...))
	return nil
}

// Outcome reports a finished backup.
func (p *Printer) Outcome(out backup.Outcome) error {
	if p.format != FormatTable {
		return p.encode(out)
	}
	switch out.Kind {
	case backup.OutcomeSuccess:
		p.Success(fmt.Sprintf("Backup '%s' completed: %s", out.Preset, out.Archive))
	case backup.OutcomeWarning:
		p.Warning(fmt.Sprintf("Backup '%s' completed with warnings (status %d): %s", out.Preset, out.ExitCode, out.Archive))
		for _, d := range out.Details {
			fmt.Fprintf(p.err, "  %s\n", d)
		}
	default:
		p.Error(fmt.Sprintf("Backup '%s' failed with status %d%s", out.Preset, out.ExitCode, out.Hint))
		for _, l := range out.StderrTail {
			fmt.Fprintf(p.err, "  %s\n", l)
		}
	}
	return nil
}

func (p *Printer) Success(message string) { p.status("success", message, p.errColors.Theme().Success) }
func (p *Printer) Warning(message string) { p.status("warning", message, p.errColors.Theme().Warning) }
func (p *Printer) Error(message string)   { p.status("error", message, p.errColors.Theme().Error) }

// Info is suppressed in quiet mode.
func (p *Printer) Info(message string) {
	if p.quiet {
		return
	}
	p.status("info", message, p.errColors.Theme().Info)
}

func (p *Printer) status(icon, message string, clr Color) {
	fmt.Fprintf(p.err, "%s %s\n", p.icons.RenderColored(icon, p.errColors), p.errColors.Colorize(message, clr))
}

// StartSpinner shows a busy line on stderr until Stop is called.
func (p *Printer) StartSpinner(message string) *Spinner {
	style := LineSpinner
	if p.icons.unicode {
		style = DotsSpinner
	}
	w := p.err
	if p.quiet {
		w = io.Discard
	}
	return NewSpinner(w, message, style, p.animate && !p.quiet, p.errColors).Start()
}

func (p *Printer) newTable(headers ...string) *Table {
	return NewTable(p.outColors, headers...)
}

func (p *Printer) encode(v interface{}) error {
	switch p.format {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(p.out, string(data))
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported output format %q", p.format)
}

// WarningText renders a probe warning the way the operator should read it.
func WarningText(err error) string {
	return strings.TrimSpace(apperrors.FormatUserError(err))
}
