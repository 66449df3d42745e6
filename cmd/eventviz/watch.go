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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/eventviz/services/eventviz"
	"github.com/AleutianAI/eventviz/services/eventviz/graph"
	"github.com/AleutianAI/eventviz/services/eventviz/source"
)

type watchOptions struct {
	format string
	output string
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rewrite the diagram file whenever the application changes",
		Example: `  eventviz watch -p ./shop --output storage/events.html
  eventviz watch -p ./shop --format mermaid --output events.mmd`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validFormat(opts.format); err != nil {
				return err
			}
			return runWatch(cmd, root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatHTML, "Output format: mermaid, json or html")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "event-visualizer.html", "Output file, relative to the project root")
	return cmd
}

func runWatch(cmd *cobra.Command, root *rootOptions, opts *watchOptions) error {
	ctx := cmd.Context()
	stderr := cmd.ErrOrStderr()

	var svc *eventviz.Service
	write := func(res *graph.AnalysisResult) {
		path := opts.output
		if !filepath.IsAbs(path) {
			path = filepath.Join(svc.ProjectRoot(), path)
		}
		if err := writeResultFile(path, svc, res, opts.format); err != nil {
			slog.Error("writing diagram failed", slog.String("path", path), slog.String("error", err.Error()))
			return
		}
		printSummary(stderr, res)
	}

	svc, err := root.newService(ctx, eventviz.WithRunHook(write))
	if err != nil {
		return err
	}
	defer svc.Close()

	if _, err := svc.Analyze(ctx); err != nil {
		return err
	}

	fmt.Fprintf(stderr, "watching %d directories, press Ctrl+C to stop\n", len(svc.WatchDirs()))
	err = svc.Watch(ctx, source.WithWatcherLogger(slog.Default()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// writeResultFile replaces path atomically with the rendered result.
func writeResultFile(path string, svc *eventviz.Service, res *graph.AnalysisResult, format string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".eventviz-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writeResult(tmp, svc, res, format); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
