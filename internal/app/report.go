package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"mailbuild/internal/ledger"
	"mailbuild/internal/pipeline"
)

type reportStyles struct {
	title   lipgloss.Style
	ok      lipgloss.Style
	failed  lipgloss.Style
	skipped lipgloss.Style
	detail  lipgloss.Style
}

// newReportStyles binds the styles to w so colors are only emitted when w
// is a terminal.
func newReportStyles(w io.Writer) reportStyles {
	r := lipgloss.NewRenderer(w)
	return reportStyles{
		title:   r.NewStyle().Bold(true),
		ok:      r.NewStyle().Foreground(lipgloss.Color("#4CAF50")),
		failed:  r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		skipped: r.NewStyle().Foreground(lipgloss.Color("#888888")),
		detail:  r.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true),
	}
}

// WriteReport renders the outcome of a run: one line per stage followed by
// the overall status.
func WriteReport(w io.Writer, res *pipeline.RunResult) error {
	st := newReportStyles(w)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", st.title.Render("task "+res.Task), st.detail.Render("run "+res.RunID))

	width := 0
	for _, s := range res.Stages {
		width = max(width, len(s.Stage))
	}

	for _, s := range res.Stages {
		name := fmt.Sprintf("%-*s", width, s.Stage)
		switch s.Status {
		case pipeline.StatusSucceeded:
			line := fmt.Sprintf("  ✓ %s  %s", name, formatDuration(s.Duration))
			if s.Files > 0 {
				line += fmt.Sprintf("  %d files", s.Files)
			}
			if s.Attempts > 1 {
				line += fmt.Sprintf("  %d attempts", s.Attempts)
			}
			b.WriteString(st.ok.Render(line))
			if s.Output != "" {
				b.WriteString("  " + st.detail.Render(s.Output))
			}
		case pipeline.StatusFailed:
			b.WriteString(st.failed.Render(fmt.Sprintf("  ✗ %s", name)))
			if s.Attempts > 1 {
				b.WriteString(st.detail.Render(fmt.Sprintf("  %d attempts", s.Attempts)))
			}
		default:
			b.WriteString(st.skipped.Render(fmt.Sprintf("  - %s  skipped", name)))
		}
		b.WriteString("\n")
	}

	if res.Succeeded() {
		b.WriteString(st.ok.Render(fmt.Sprintf("succeeded in %s", formatDuration(res.Duration()))))
	} else {
		b.WriteString(st.failed.Render("failed") + " " + res.Err.Error())
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteTasks renders the task list.
func WriteTasks(w io.Writer, tasks []TaskInfo) error {
	st := newReportStyles(w)
	var b strings.Builder
	for _, t := range tasks {
		b.WriteString(st.title.Render(t.Name))
		if t.Description != "" {
			b.WriteString("  " + t.Description)
		}
		b.WriteString("\n")
		if t.Err != nil {
			b.WriteString("  " + st.failed.Render(t.Err.Error()) + "\n")
			continue
		}
		b.WriteString("  " + strings.Join(t.Stages, " → ") + "\n")
		if len(t.Requires) > 0 {
			args := make([]string, len(t.Requires))
			for i, r := range t.Requires {
				args[i] = "--" + r
			}
			b.WriteString("  " + st.detail.Render("requires "+strings.Join(args, " ")) + "\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteHistory renders ledger run records, one per line.
func WriteHistory(w io.Writer, runs []ledger.RunRecord) error {
	st := newReportStyles(w)
	var b strings.Builder
	for _, r := range runs {
		status := st.ok.Render(fmt.Sprintf("%-9s", r.Status))
		if r.Status != StatusSuccess {
			status = st.failed.Render(fmt.Sprintf("%-9s", r.Status))
		}
		fmt.Fprintf(&b, "%s  %s  %-10s  %s", r.StartedAt.UTC().Format(time.RFC3339), status, r.Task,
			formatDuration(r.FinishedAt.Sub(r.StartedAt)))
		if r.FailedAt != "" {
			b.WriteString("  " + st.detail.Render("at "+r.FailedAt))
		}
		b.WriteString("  " + st.detail.Render(r.RunID) + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}
