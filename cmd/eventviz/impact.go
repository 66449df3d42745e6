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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/eventviz/services/eventviz/impact"
)

// maxDiffSize bounds the diff read by impact (16MB).
const maxDiffSize = 16 << 20

type impactOptions struct {
	asJSON bool
}

func newImpactCmd(root *rootOptions) *cobra.Command {
	opts := &impactOptions{}
	cmd := &cobra.Command{
		Use:   "impact [diff-file]",
		Short: "List graph nodes touched by a unified diff",
		Long: `impact maps the files of a unified diff onto classes through the composer
PSR-4 roots and reports every graph node whose class changed, with the
nodes it dispatches to and the nodes that lead to it. The diff is read from
the file argument, or from stdin when it is omitted or "-".`,
		Example: `  git diff main | eventviz impact -p ./shop
  eventviz impact -p ./shop changes.diff --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			raw, err := io.ReadAll(io.LimitReader(in, maxDiffSize+1))
			if err != nil {
				return fmt.Errorf("reading diff: %w", err)
			}
			if len(raw) > maxDiffSize {
				return fmt.Errorf("diff exceeds %d bytes", maxDiffSize)
			}

			ctx := cmd.Context()
			svc, err := root.newService(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			if _, err := svc.Analyze(ctx); err != nil {
				return err
			}

			report, err := svc.Impact(ctx, raw)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printImpact(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func printImpact(w io.Writer, report *impact.Report) {
	st := newStyler(w)

	if len(report.Affected) == 0 {
		fmt.Fprintln(w, st.render(okStyle, "No graph nodes affected."))
	}
	for _, a := range report.Affected {
		fmt.Fprintf(w, "%s %s (%s)\n", st.render(titleStyle, a.Name), st.render(mutedStyle, a.Class), a.Type)
		for _, id := range a.Upstream {
			fmt.Fprintf(w, "  <- %s\n", id)
		}
		for _, id := range a.Downstream {
			fmt.Fprintf(w, "  -> %s\n", id)
		}
	}
	for _, path := range report.Unmapped {
		fmt.Fprintf(w, "%s %s\n", st.render(warnStyle, "unmapped"), path)
	}
}
