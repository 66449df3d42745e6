// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command eventviz builds the event, listener and job dispatch graph of a
// Laravel application and renders it as a mermaid flowchart.
//
// Usage:
//
//	eventviz analyze --project /path/to/app
//	eventviz analyze --project /path/to/app --format html --output events.html
//	eventviz serve --project /path/to/app --watch
//	eventviz impact --project /path/to/app < changes.diff
//	eventviz snapshot save --project /path/to/app --label nightly
//	eventviz export neo4j --project /path/to/app --uri neo4j://localhost:7687
//
// Example requests against a running server:
//
//	# Rebuild the graph
//	curl -X POST http://localhost:8080/v1/eventviz/analyze
//
//	# Mermaid source of the current graph
//	curl http://localhost:8080/v1/eventviz/graph/mermaid
//
//	# Diagram page (loopback clients only unless APP_ENV=local)
//	open http://localhost:8080/event-visualizer
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}

// run executes the command line and flushes telemetry on the way out.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts := &rootOptions{}
	root := newRootCmd(opts)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if serr := opts.teardown(context.Background()); serr != nil && err == nil {
		err = serr
	}
	return err
}
