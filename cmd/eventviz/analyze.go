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
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/eventviz/services/eventviz"
	"github.com/AleutianAI/eventviz/services/eventviz/graph"
	"github.com/AleutianAI/eventviz/services/eventviz/render"
)

// Output formats of the analyze and watch commands.
const (
	formatMermaid = "mermaid"
	formatJSON    = "json"
	formatHTML    = "html"
)

type analyzeOptions struct {
	format  string
	output  string
	summary bool
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Build the dispatch graph once and print it",
		Example: `  eventviz analyze -p ./shop
  eventviz analyze -p ./shop --format html --output events.html
  eventviz analyze -p ./shop --format json | jq '.graph.edges'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validFormat(opts.format); err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, err := root.newService(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Analyze(ctx)
			if err != nil {
				return err
			}

			out, closeOut, err := openOutput(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			if err := writeResult(out, svc, res, opts.format); err != nil {
				closeOut()
				return err
			}
			if err := closeOut(); err != nil {
				return err
			}
			if opts.summary {
				printSummary(cmd.ErrOrStderr(), res)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatMermaid, "Output format: mermaid, json or html")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "Output file, - for stdout")
	cmd.Flags().BoolVar(&opts.summary, "summary", true, "Print a run summary to stderr")
	return cmd
}

func validFormat(format string) error {
	switch format {
	case formatMermaid, formatJSON, formatHTML:
		return nil
	default:
		return fmt.Errorf("unknown format %q: want mermaid, json or html", format)
	}
}

// analyzeJSON is the JSON output of analyze.
type analyzeJSON struct {
	RunID     string                   `json:"run_id"`
	Graph     *graph.SerializableGraph `json:"graph"`
	Stats     graph.AnalysisStats      `json:"stats"`
	Failures  []graph.ClassFailure     `json:"failures"`
	Truncated bool                     `json:"truncated"`
}

// writeResult renders res in format.
func writeResult(w io.Writer, svc *eventviz.Service, res *graph.AnalysisResult, format string) error {
	switch format {
	case formatJSON:
		failures := res.Failures
		if failures == nil {
			failures = []graph.ClassFailure{}
		}
		return writeJSON(w, analyzeJSON{
			RunID:     res.RunID,
			Graph:     res.Graph.ToSerializable(),
			Stats:     res.Stats,
			Failures:  failures,
			Truncated: res.Truncated,
		})
	case formatHTML:
		return render.HTML(w, render.Page{
			Title:          svc.Config().Title(svc.ProjectRoot()),
			Diagram:        render.Mermaid(res.Graph, svc.Theme()),
			MermaidVersion: svc.Config().MermaidVersion,
		})
	default:
		_, err := io.WriteString(w, render.Mermaid(res.Graph, svc.Theme()))
		return err
	}
}
