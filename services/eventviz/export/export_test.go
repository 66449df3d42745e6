// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

type recordedQuery struct {
	cypher string
	params map[string]any
}

type fakeRunner struct {
	mu      sync.Mutex
	queries []recordedQuery
	failOn  string
}

func (f *fakeRunner) run(_ context.Context, cypher string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.Contains(cypher, f.failOn) {
		return errors.New("boom")
	}
	f.queries = append(f.queries, recordedQuery{cypher: cypher, params: params})
	return nil
}

func exportTestGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.NewGraph("/srv/shop")
	steps := []struct {
		from, to graph.VisualizerNode
		via      string
	}{
		{graph.NewEvent(`App\Events\OrderPlaced`), graph.NewListener(`App\Listeners\Bill`, false), graph.ViaListens},
		{graph.NewEvent(`App\Events\OrderPlaced`), graph.NewListener(`App\Listeners\Notify`, false), graph.ViaListens},
		{graph.NewListener(`App\Listeners\Bill`, false), graph.NewJob(`App\Jobs\Charge`), "dispatch"},
	}
	for _, s := range steps {
		if _, err := g.Connect(s.from, s.to, s.via); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	g.Freeze()
	return g
}

func quietOptions(batch int) Neo4jOptions {
	return Neo4jOptions{BatchSize: batch, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestNeo4jExporter_Export(t *testing.T) {
	runner := &fakeRunner{}
	exp := newExporter(runner, quietOptions(2))

	stats, err := exp.Export(context.Background(), exportTestGraph(t))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if stats.Nodes != 4 || stats.Relationships != 3 {
		t.Errorf("stats = %+v, want 4 nodes and 3 relationships", stats)
	}
	// 2 node batches + 2 edge batches with batch size 2.
	if stats.Batches != 4 {
		t.Errorf("Batches = %d, want 4", stats.Batches)
	}

	if len(runner.queries) != 6 {
		t.Fatalf("got %d queries, want 6", len(runner.queries))
	}
	if runner.queries[0].cypher != cypherIndex {
		t.Errorf("first query should create the index")
	}
	if got := runner.queries[1].params["project"]; got != "/srv/shop" {
		t.Errorf("clean project = %v", got)
	}

	first := runner.queries[2].params["batch"].([]map[string]any)
	if first[0]["id"] != `event:App\Events\OrderPlaced` || first[0]["name"] != "OrderPlaced" || first[0]["type"] != "event" {
		t.Errorf("first node row = %v", first[0])
	}
	lastEdges := runner.queries[5].params["batch"].([]map[string]any)
	if lastEdges[0]["via"] != "dispatch" || lastEdges[0]["to"] != `job:App\Jobs\Charge` {
		t.Errorf("last edge row = %v", lastEdges[0])
	}
}

func TestNeo4jExporter_ExportErrors(t *testing.T) {
	exp := newExporter(&fakeRunner{}, quietOptions(0))
	if _, err := exp.Export(context.Background(), nil); !errors.Is(err, ErrNilGraph) {
		t.Errorf("nil graph: got %v, want ErrNilGraph", err)
	}

	runner := &fakeRunner{failOn: "DISPATCHES"}
	exp = newExporter(runner, quietOptions(0))
	stats, err := exp.Export(context.Background(), exportTestGraph(t))
	if err == nil || !strings.Contains(err.Error(), "relationships") {
		t.Fatalf("expected relationships error, got %v", err)
	}
	if stats.Nodes != 4 || stats.Relationships != 0 {
		t.Errorf("partial stats = %+v", stats)
	}
}

func TestNewNeo4jExporter_NoURI(t *testing.T) {
	_, err := NewNeo4jExporter(context.Background(), Neo4jOptions{}, nil)
	if !errors.Is(err, ErrNoURI) {
		t.Errorf("got %v, want ErrNoURI", err)
	}
}

func TestChunk(t *testing.T) {
	rows := make([]map[string]any, 5)
	got := chunk(rows, 2)
	if len(got) != 3 || len(got[2]) != 1 {
		t.Errorf("chunk(5, 2) = %d batches, last %d", len(got), len(got[len(got)-1]))
	}
	if chunk(nil, 2) != nil {
		t.Error("chunk(nil) should be nil")
	}
}

func TestEnvBackend_GetSecret(t *testing.T) {
	t.Setenv("EVENTVIZ_TEST_SECRET", "s3cret")

	backend := NewEnvBackend(0)
	value, err := backend.GetSecret(context.Background(), "EVENTVIZ_TEST_SECRET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "s3cret" {
		t.Errorf("got %q, want %q", value, "s3cret")
	}

	t.Setenv("EVENTVIZ_TEST_MISSING", "")
	if _, err := backend.GetSecret(context.Background(), "EVENTVIZ_TEST_MISSING"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("error should wrap ErrSecretNotFound, got: %v", err)
	}
}

func TestEnvBackend_Caching(t *testing.T) {
	t.Setenv("EVENTVIZ_TEST_CACHED", "value1")

	backend := NewEnvBackend(time.Hour)
	ctx := context.Background()
	if v, _ := backend.GetSecret(ctx, "EVENTVIZ_TEST_CACHED"); v != "value1" {
		t.Fatalf("got %q, want value1", v)
	}

	t.Setenv("EVENTVIZ_TEST_CACHED", "value2")
	if v, _ := backend.GetSecret(ctx, "EVENTVIZ_TEST_CACHED"); v != "value1" {
		t.Errorf("cached value should be value1, got %q", v)
	}
}

func TestEnvBackend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewEnvBackend(0).GetSecret(ctx, "ANY"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

type countingBackend struct {
	calls int
	value string
}

func (c *countingBackend) GetSecret(_ context.Context, key string) (string, error) {
	c.calls++
	if c.value == "" {
		return "", ErrSecretNotFound
	}
	return c.value, nil
}

func TestSecretManager_WithSecret(t *testing.T) {
	backend := &countingBackend{value: "neo4j-pass"}
	sm := NewSecretManagerWithBackend(backend)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		var got string
		err := sm.WithSecret(ctx, "PW", func(secret string) error {
			got = strings.Clone(secret)
			return nil
		})
		if err != nil {
			t.Fatalf("WithSecret: %v", err)
		}
		if got != "neo4j-pass" {
			t.Errorf("secret = %q", got)
		}
	}
	if backend.calls != 1 {
		t.Errorf("backend called %d times, want 1 (enclave reused)", backend.calls)
	}

	sm.Forget("PW")
	_ = sm.WithSecret(ctx, "PW", func(string) error { return nil })
	if backend.calls != 2 {
		t.Errorf("backend called %d times after Forget, want 2", backend.calls)
	}

	wantErr := errors.New("callback failed")
	if err := sm.WithSecret(ctx, "PW", func(string) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Errorf("callback error not returned: %v", err)
	}
}

func TestSecretManager_Missing(t *testing.T) {
	sm := NewSecretManagerWithBackend(&countingBackend{})
	err := sm.WithSecret(context.Background(), "PW", func(string) error {
		t.Fatal("callback must not run")
		return nil
	})
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("got %v, want ErrSecretNotFound", err)
	}
}

func TestSecretBackendInterface(t *testing.T) {
	var _ SecretBackend = (*EnvBackend)(nil)
	var _ SecretBackend = (*countingBackend)(nil)
}
