package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	kgxerr "kgxops/internal/errors"
	"kgxops/internal/graph"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// report prints s and turns an unsuccessful summary into an error.
func report(w io.Writer, s graph.Summary, err error, details ...string) error {
	status := successStyle.Render("ok")
	if !s.Success {
		status = errorStyle.Render("failed")
	}
	_, _ = fmt.Fprintf(w, "%s %s: %s\n", titleStyle.Render(s.Operation), status, s.Message)
	for _, d := range details {
		_, _ = fmt.Fprintf(w, "  %s\n", d)
	}
	if s.Stats != nil {
		printStats(w, *s.Stats)
	}
	for _, m := range s.Warnings {
		_, _ = fmt.Fprintf(w, "  %s %s\n", warnStyle.Render("warning:"), m)
	}
	for _, m := range s.Errors {
		_, _ = fmt.Fprintf(w, "  %s %s\n", errorStyle.Render("error:"), m)
	}
	_, _ = fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  run %s in %s", s.RunID, s.Elapsed.Round(time.Millisecond))))

	if err != nil {
		return err
	}
	if !s.Success {
		return kgxerr.Errorf(kgxerr.CodePipelineStepFailure, "%s did not succeed", s.Operation)
	}
	return nil
}

func printStats(w io.Writer, st graph.Stats) {
	_, _ = fmt.Fprintf(w, "  nodes %d  edges %d  mappings %d\n", st.Nodes, st.Edges, st.Mappings)
	archives := []struct {
		name string
		n    int64
	}{
		{"duplicate nodes", st.DuplicateNodes},
		{"duplicate edges", st.DuplicateEdges},
		{"duplicate mappings", st.DuplicateMappings},
		{"dangling edges", st.DanglingEdges},
		{"singleton nodes", st.SingletonNodes},
		{"small component nodes", st.SmallComponentNodes},
		{"small component edges", st.SmallComponentEdges},
	}
	var parts []string
	for _, a := range archives {
		if a.n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", a.name, a.n))
		}
	}
	if len(parts) > 0 {
		_, _ = fmt.Fprintf(w, "  archived: %s\n", strings.Join(parts, ", "))
	}
	if st.SizeBytes > 0 {
		_, _ = fmt.Fprintf(w, "  database %.2f MB\n", st.SizeMB())
	}
}
