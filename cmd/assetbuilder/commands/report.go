package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"git.home.luguber.info/inful/assetbuilder/internal/history"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

// styles used for terminal output. Every style is plain when the writer is
// not a terminal.
type styles struct {
	ok    lipgloss.Style
	fail  lipgloss.Style
	warn  lipgloss.Style
	muted lipgloss.Style
	label lipgloss.Style
	name  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	if !isTerminal(w) {
		plain := lipgloss.NewStyle()
		return styles{ok: plain, fail: plain, warn: plain, muted: plain, label: plain, name: plain}
	}
	r := lipgloss.NewRenderer(w)
	return styles{
		ok:    r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"}).Bold(true),
		fail:  r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}).Bold(true),
		warn:  r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}),
		muted: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"}),
		label: r.NewStyle().Bold(true),
		name:  r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0550ae", Dark: "#79c0ff"}),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

// writeReport prints a build summary.
func writeReport(w io.Writer, r *pipeline.Report) {
	st := newStyles(w)
	var b strings.Builder

	switch r.Status {
	case history.StatusSuccess:
		fmt.Fprintf(&b, "%s build %s in %s", st.ok.Render("✓"), shortID(r.BuildID), formatDuration(r.Duration))
	case history.StatusCanceled:
		fmt.Fprintf(&b, "%s build %s canceled after %s", st.warn.Render("-"), shortID(r.BuildID), formatDuration(r.Duration))
	default:
		fmt.Fprintf(&b, "%s build %s failed after %s", st.fail.Render("✗"), shortID(r.BuildID), formatDuration(r.Duration))
	}
	b.WriteString(st.muted.Render(fmt.Sprintf("  (%s)", r.Trigger)))
	b.WriteString("\n")

	fmt.Fprintf(&b, "  %s %d units, %d cached, %d failed, %d files",
		st.label.Render("graph"), r.Units, r.Cached, r.Failed, r.Files())
	if r.ManifestHash != "" {
		b.WriteString(st.muted.Render(", manifest " + shortID(r.ManifestHash)))
	}
	b.WriteString("\n")

	if len(r.Stages) > 0 {
		parts := make([]string, 0, len(r.Stages))
		for _, s := range r.Stages {
			part := fmt.Sprintf("%s %s", s.Name, formatDuration(s.Duration))
			if s.Failed {
				part = st.fail.Render(part)
			}
			parts = append(parts, part)
		}
		fmt.Fprintf(&b, "  %s %s\n", st.label.Render("stages"), strings.Join(parts, st.muted.Render(" · ")))
	}

	if bundles := r.Bundles(); len(bundles) > 0 {
		names := make([]string, 0, len(bundles))
		width := 0
		for name := range bundles {
			names = append(names, name)
			width = max(width, lipgloss.Width(name))
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "  %s\n", st.label.Render("bundles"))
		col := lipgloss.NewStyle().Width(width + 2)
		for _, name := range names {
			fmt.Fprintf(&b, "    %s%s\n", col.Render(st.name.Render(name)), strings.Join(bundles[name], ", "))
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "  %s\n", st.label.Render("warnings"))
		for _, warn := range r.Warnings {
			line := warn.Unit
			if warn.Specifier != "" {
				line += fmt.Sprintf(" (%q)", warn.Specifier)
			}
			fmt.Fprintf(&b, "    %s %s\n", st.warn.Render(line+":"), warn.Message)
		}
	}

	if r.Err != nil && r.Status == history.StatusFailed {
		fmt.Fprintf(&b, "  %s %s\n", st.fail.Render("error"), r.Err.Error())
	}
	_, _ = io.WriteString(w, b.String())
}

// writeHistory prints build records as a table, newest first.
func writeHistory(w io.Writer, recs []history.Record) {
	st := newStyles(w)
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(w, st.muted.Render("no builds recorded"))
		return
	}
	headers := []string{"ID", "STARTED", "TRIGGER", "STATUS", "DURATION", "UNITS", "CACHED", "FILES", "COMMIT"}
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []string{
			shortID(rec.ID),
			rec.StartedAt.Local().Format(time.DateTime),
			string(rec.Trigger),
			string(rec.Status),
			formatDuration(rec.Duration),
			fmt.Sprint(rec.Units),
			fmt.Sprint(rec.CacheHits),
			fmt.Sprint(rec.Files),
			shortID(rec.SourceCommit),
		})
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = lipgloss.NewStyle().Width(widths[i] + 2).Render(st.label.Render(h))
	}
	b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " ") + "\n")
	for ri, row := range rows {
		for i, cell := range row {
			switch {
			case i == 3 && recs[ri].Status == history.StatusSuccess:
				cell = st.ok.Render(cell)
			case i == 3 && recs[ri].Status == history.StatusFailed:
				cell = st.fail.Render(cell)
			case i == 3:
				cell = st.warn.Render(cell)
			}
			cells[i] = lipgloss.NewStyle().Width(widths[i] + 2).Render(cell)
		}
		b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " ") + "\n")
		if recs[ri].Error != "" {
			b.WriteString("  " + st.fail.Render(recs[ri].Error) + "\n")
		}
	}
	_, _ = io.WriteString(w, b.String())
}
