// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export writes dispatch graphs to external graph stores.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

// DefaultBatchSize is the number of rows sent per UNWIND statement.
const DefaultBatchSize = 500

var (
	// ErrNoURI is returned when no Neo4j URI is configured.
	ErrNoURI = errors.New("neo4j uri not configured")

	// ErrNilGraph is returned when exporting a nil graph.
	ErrNilGraph = errors.New("graph must not be nil")
)

var exportTracer = otel.Tracer("eventviz.export")

// Neo4jOptions configures a Neo4jExporter.
type Neo4jOptions struct {
	URI      string
	User     string
	Database string

	// PasswordKey is the secret key holding the password.
	PasswordKey string

	BatchSize int
	Logger    *slog.Logger
}

// ExportStats summarises one export.
type ExportStats struct {
	Project       string `json:"project"`
	Nodes         int    `json:"nodes"`
	Relationships int    `json:"relationships"`
	Batches       int    `json:"batches"`
	DurationMilli int64  `json:"duration_milli"`
}

// cypherRunner executes one statement.
type cypherRunner interface {
	run(ctx context.Context, cypher string, params map[string]any) error
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r *driverRunner) run(ctx context.Context, cypher string, params map[string]any) error {
	var opts []neo4j.ExecuteQueryConfigurationOption
	if r.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(r.database))
	}
	_, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	return err
}

// Neo4jExporter upserts dispatch graphs into Neo4j.
//
// Description:
//
//	Nodes become :EventvizNode {project, id} with name, class, type and
//	handler properties; edges become :DISPATCHES relationships carrying
//	the dispatch method in "via". Each export replaces the previous
//	graph of the same project.
//
// Thread Safety:
//
//	Safe for concurrent use; the driver is.
type Neo4jExporter struct {
	runner    cypherRunner
	close     func(ctx context.Context) error
	batchSize int
	logger    *slog.Logger
}

// NewNeo4jExporter connects to Neo4j.
//
// Description:
//
//	The password is read from secrets inside an enclave and handed to the
//	driver. Connectivity is verified before returning.
//
// Inputs:
//   - ctx: Context for the connectivity check.
//   - opts: Connection options. URI is required.
//   - secrets: Source of the password. Nil connects without a password.
//
// Outputs:
//   - *Neo4jExporter: Ready exporter. Close it when done.
//   - error: ErrNoURI, a secret error or a driver error.
func NewNeo4jExporter(ctx context.Context, opts Neo4jOptions, secrets *SecretManager) (*Neo4jExporter, error) {
	if opts.URI == "" {
		return nil, ErrNoURI
	}

	var driver neo4j.DriverWithContext
	connect := func(password string) error {
		d, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.User, password, ""))
		if err != nil {
			return fmt.Errorf("creating neo4j driver: %w", err)
		}
		driver = d
		return nil
	}

	var err error
	if secrets != nil && opts.PasswordKey != "" {
		err = secrets.WithSecret(ctx, opts.PasswordKey, connect)
	} else {
		err = connect("")
	}
	if err != nil {
		return nil, err
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", opts.URI, err)
	}

	exp := newExporter(&driverRunner{driver: driver, database: opts.Database}, opts)
	exp.close = driver.Close
	return exp, nil
}

func newExporter(runner cypherRunner, opts Neo4jOptions) *Neo4jExporter {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Neo4jExporter{runner: runner, batchSize: batch, logger: logger}
}

// Close releases the driver.
func (e *Neo4jExporter) Close(ctx context.Context) error {
	if e.close == nil {
		return nil
	}
	return e.close(ctx)
}

const (
	cypherIndex = `CREATE INDEX eventviz_node_key IF NOT EXISTS FOR (n:EventvizNode) ON (n.project, n.id)`

	cypherClean = `MATCH (n:EventvizNode {project: $project}) DETACH DELETE n`

	cypherNodes = `UNWIND $batch AS row
		 MERGE (n:EventvizNode {project: $project, id: row.id})
		 SET n.name = row.name, n.class = row.class, n.type = row.type,
		     n.handler = row.handler, n.built_at = $built_at`

	cypherEdges = `UNWIND $batch AS row
		 MATCH (a:EventvizNode {project: $project, id: row.from}),
		       (b:EventvizNode {project: $project, id: row.to})
		 MERGE (a)-[r:DISPATCHES]->(b)
		 SET r.via = row.via`
)

// Export writes g, replacing the stored graph of g.ProjectRoot.
//
// Outputs:
//   - *ExportStats: Counts written. Partial on error.
//   - error: ErrNilGraph or the first failing statement.
func (e *Neo4jExporter) Export(ctx context.Context, g *graph.Graph) (*ExportStats, error) {
	if g == nil {
		return nil, ErrNilGraph
	}

	ctx, span := exportTracer.Start(ctx, "export.Neo4jExporter.Export")
	defer span.End()
	span.SetAttributes(
		attribute.String("project", g.ProjectRoot),
		attribute.Int("nodes", g.NodeCount()),
		attribute.Int("edges", g.EdgeCount()),
	)

	start := time.Now()
	stats := &ExportStats{Project: g.ProjectRoot}

	fail := func(step string, err error) (*ExportStats, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, step)
		stats.DurationMilli = time.Since(start).Milliseconds()
		return stats, fmt.Errorf("neo4j %s: %w", step, err)
	}

	if err := e.runner.run(ctx, cypherIndex, nil); err != nil {
		return fail("index", err)
	}
	if err := e.runner.run(ctx, cypherClean, map[string]any{"project": g.ProjectRoot}); err != nil {
		return fail("clean", err)
	}

	nodes := make([]map[string]any, 0, g.NodeCount())
	for _, n := range g.Nodes() {
		nodes = append(nodes, map[string]any{
			"id":      n.ID(),
			"name":    n.Name(),
			"class":   n.ClassName(),
			"type":    n.Type.String(),
			"handler": n.Handler(),
		})
	}
	edges := make([]map[string]any, 0, g.EdgeCount())
	for _, edge := range g.Edges() {
		edges = append(edges, map[string]any{
			"from": edge.FromID,
			"to":   edge.ToID,
			"via":  edge.Via,
		})
	}

	for _, batch := range chunk(nodes, e.batchSize) {
		params := map[string]any{"project": g.ProjectRoot, "built_at": g.BuiltAtMilli, "batch": batch}
		if err := e.runner.run(ctx, cypherNodes, params); err != nil {
			return fail("nodes", err)
		}
		stats.Nodes += len(batch)
		stats.Batches++
	}
	for _, batch := range chunk(edges, e.batchSize) {
		params := map[string]any{"project": g.ProjectRoot, "batch": batch}
		if err := e.runner.run(ctx, cypherEdges, params); err != nil {
			return fail("relationships", err)
		}
		stats.Relationships += len(batch)
		stats.Batches++
	}

	stats.DurationMilli = time.Since(start).Milliseconds()
	e.logger.Info("graph exported to neo4j",
		slog.String("project", stats.Project),
		slog.Int("nodes", stats.Nodes),
		slog.Int("relationships", stats.Relationships),
		slog.Int("batches", stats.Batches),
		slog.Int64("duration_ms", stats.DurationMilli))
	return stats, nil
}

func chunk(rows []map[string]any, size int) [][]map[string]any {
	var out [][]map[string]any
	for len(rows) > 0 {
		n := min(size, len(rows))
		out = append(out, rows[:n])
		rows = rows[n:]
	}
	return out
}
