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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/eventviz/services/eventviz/export"
	"github.com/AleutianAI/eventviz/services/eventviz/graph"
	"github.com/AleutianAI/eventviz/services/eventviz/impact"
)

const sampleApp = "../../test/fixtures/sample-laravel-app"

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func TestCLI_Help(t *testing.T) {
	res := runCLI(t, "", "--help")
	require.NoError(t, res.err)
	for _, want := range []string{"analyze", "serve", "watch", "impact", "snapshot", "export"} {
		assert.Contains(t, res.stdout, want)
	}
}

func TestCLI_AnalyzeMermaid(t *testing.T) {
	res := runCLI(t, "", "analyze", "-p", sampleApp)
	require.NoError(t, res.err, res.stderr)

	assert.True(t, strings.HasPrefix(res.stdout, "flowchart LR\n"))
	assert.Contains(t, res.stdout, "OrderPlaced(OrderPlaced):::event --> ReserveStock(ReserveStock):::listener;")
	assert.Contains(t, res.stdout, "ReserveStock(ReserveStock):::listener --> UpdateInventory(UpdateInventory):::job;")
	assert.NotContains(t, res.stdout, "AuditTrail")
	assert.Contains(t, res.stderr, "9 nodes, 7 edges")
}

func TestCLI_AnalyzeJSON(t *testing.T) {
	res := runCLI(t, "", "analyze", "-p", sampleApp, "--format", "json", "--summary=false")
	require.NoError(t, res.err, res.stderr)

	var out analyzeJSON
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.NotEmpty(t, out.RunID)
	assert.Len(t, out.Graph.Nodes, 9)
	assert.Len(t, out.Graph.Edges, 7)
	assert.Empty(t, out.Failures)
	assert.False(t, out.Truncated)
	assert.Empty(t, res.stderr)
}

func TestCLI_AnalyzeHTMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.html")
	res := runCLI(t, "", "analyze", "-p", sampleApp, "-f", "html", "-o", path)
	require.NoError(t, res.err, res.stderr)
	assert.Empty(t, res.stdout)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	page := string(data)
	assert.Contains(t, page, "Events in Acme Shop")
	assert.Contains(t, page, "mermaid/9.0.1/mermaid.min.js")
	assert.NotContains(t, page, "WebSocket")
}

func TestCLI_AnalyzeErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown format", []string{"analyze", "-p", sampleApp, "-f", "svg"}, `unknown format "svg"`},
		{"bad log level", []string{"analyze", "-p", sampleApp, "--log-level", "loud"}, "invalid --log-level"},
		{"bad log format", []string{"analyze", "-p", sampleApp, "--log-format", "xml"}, "invalid --log-format"},
		{"missing composer", []string{"analyze", "-p", "."}, "composer"},
		{"extra argument", []string{"analyze", "now"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, "", tt.args...)
			require.Error(t, res.err)
			assert.Contains(t, res.err.Error(), tt.want)
		})
	}
}

const reserveStockDiff = `diff --git a/app/Listeners/ReserveStock.php b/app/Listeners/ReserveStock.php
--- a/app/Listeners/ReserveStock.php
+++ b/app/Listeners/ReserveStock.php
@@ -12,4 +12,5 @@ class ReserveStock
     {
         $job = new UpdateInventory($event->order);
+        $job->onQueue('stock');
         Bus::dispatch($job);
     }
diff --git a/resources/js/app.js b/resources/js/app.js
--- a/resources/js/app.js
+++ b/resources/js/app.js
@@ -1 +1 @@
-import './bootstrap';
+import './bootstrap.js';
`

func TestCLI_Impact(t *testing.T) {
	t.Run("text from stdin", func(t *testing.T) {
		res := runCLI(t, reserveStockDiff, "impact", "-p", sampleApp)
		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, `ReserveStock App\Listeners\ReserveStock (listener)`)
		assert.Contains(t, res.stdout, `  <- event:App\Events\OrderPlaced`)
		assert.Contains(t, res.stdout, `  -> job:App\Jobs\UpdateInventory`)
	})

	t.Run("json from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "changes.diff")
		require.NoError(t, os.WriteFile(path, []byte(reserveStockDiff), 0o644))

		res := runCLI(t, "", "impact", "-p", sampleApp, path, "--json")
		require.NoError(t, res.err, res.stderr)

		var report impact.Report
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
		require.Len(t, report.Files, 2)
		require.Len(t, report.Affected, 1)
		assert.Equal(t, `listener:App\Listeners\ReserveStock`, report.Affected[0].ID)
		assert.Equal(t, "ReserveStock", report.Affected[0].Name)
		assert.Empty(t, report.Unmapped)
	})

	t.Run("no affected nodes", func(t *testing.T) {
		res := runCLI(t, "", "impact", "-p", sampleApp)
		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "No graph nodes affected.")
	})
}

func TestCLI_SnapshotLifecycle(t *testing.T) {
	store := t.TempDir()
	snap := func(stdin string, args ...string) cliResult {
		return runCLI(t, stdin, append([]string{"snapshot", "-p", sampleApp, "--badger", store}, args...)...)
	}

	first := snap("", "save", "--label", "v1")
	require.NoError(t, first.err, first.stderr)
	firstID := strings.TrimSpace(first.stdout)
	require.Len(t, firstID, 16)

	// Snapshot IDs derive from the build time in milliseconds.
	time.Sleep(5 * time.Millisecond)
	second := snap("", "save")
	require.NoError(t, second.err, second.stderr)
	secondID := strings.TrimSpace(second.stdout)
	require.NotEqual(t, firstID, secondID)

	list := snap("", "list", "--json")
	require.NoError(t, list.err, list.stderr)
	var metas []*graph.SnapshotMetadata
	require.NoError(t, json.Unmarshal([]byte(list.stdout), &metas))
	require.Len(t, metas, 2)
	assert.Equal(t, secondID, metas[0].SnapshotID)
	assert.Equal(t, "v1", metas[1].Label)

	table := snap("", "list")
	require.NoError(t, table.err)
	assert.Contains(t, table.stdout, "ID")
	assert.Contains(t, table.stdout, firstID)

	diff := snap("", "diff", firstID, secondID)
	require.NoError(t, diff.err, diff.stderr)
	assert.Contains(t, diff.stdout, "Snapshots are identical.")

	refused := snap("", "delete", firstID)
	require.Error(t, refused.err)
	assert.True(t, errors.Is(refused.err, errDeleteNotConfirmed))

	deleted := snap("", "delete", firstID, "--yes")
	require.NoError(t, deleted.err, deleted.stderr)
	assert.Contains(t, deleted.stdout, "deleted "+firstID)

	missing := snap("", "diff", firstID, secondID)
	require.Error(t, missing.err)
	assert.True(t, errors.Is(missing.err, graph.ErrSnapshotNotFound))
}

func TestCLI_SnapshotWithoutStore(t *testing.T) {
	res := runCLI(t, "", "snapshot", "list", "-p", sampleApp)
	require.Error(t, res.err)
	assert.True(t, errors.Is(res.err, errSnapshotsDisabled))
}

func TestCLI_ExportNeo4jWithoutURI(t *testing.T) {
	res := runCLI(t, "", "export", "neo4j", "-p", sampleApp)
	require.Error(t, res.err)
	assert.True(t, errors.Is(res.err, export.ErrNoURI))
}

func TestWriteResultFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	opts := &rootOptions{project: sampleApp, logLevel: "error", logFormat: "text"}
	cmd := newRootCmd(opts)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetContext(context.Background())
	require.NoError(t, opts.setup(cmd))
	t.Cleanup(func() { opts.teardown(context.Background()) })

	svc, err := opts.newService(context.Background())
	require.NoError(t, err)
	defer svc.Close()
	res, err := svc.Analyze(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "events.mmd")
	require.NoError(t, writeResultFile(path, svc, res, formatMermaid))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "flowchart LR"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
