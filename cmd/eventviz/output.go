// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#55efc4"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#fdcb6e"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff7675"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#636e72"))
	summaryFrame = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#74b9ff")).
			Padding(0, 1)
)

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// styler applies lipgloss styles only when writing to a terminal.
type styler struct {
	enabled bool
}

func newStyler(w io.Writer) styler {
	return styler{enabled: isTerminal(w)}
}

func (s styler) render(style lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return style.Render(text)
}

// printSummary writes a short account of an analysis run.
func printSummary(w io.Writer, res *graph.AnalysisResult) {
	st := newStyler(w)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", st.render(titleStyle, "Run"), res.RunID)
	fmt.Fprintf(&b, "%s %d nodes, %d edges\n",
		st.render(okStyle, "Graph"), res.Graph.NodeCount(), res.Graph.EdgeCount())
	fmt.Fprintf(&b, "%s %d analysed, %d ignored, %d calls resolved",
		st.render(mutedStyle, "Classes"),
		res.Stats.ClassesAnalysed, res.Stats.ClassesIgnored, res.Stats.CallsResolved)
	if res.Truncated {
		fmt.Fprintf(&b, "\n%s node limit reached, graph is partial", st.render(warnStyle, "Truncated"))
	}
	for _, f := range res.Failures {
		fmt.Fprintf(&b, "\n%s %s (%s)", st.render(errStyle, "Failed"), f.Class, f.Kind)
	}

	out := b.String()
	if st.enabled {
		out = summaryFrame.Render(out)
	}
	fmt.Fprintln(w, out)
}

// writeJSON writes v indented.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openOutput returns stdout for "" or "-", or creates path.
func openOutput(stdout io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return f, f.Close, nil
}
