// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventviz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/eventviz/services/eventviz/config"
	"github.com/AleutianAI/eventviz/services/eventviz/graph"
	"github.com/AleutianAI/eventviz/services/eventviz/registry"
	"github.com/AleutianAI/eventviz/services/eventviz/source"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const sendWelcomeSource = `<?php

namespace App\Listeners;

use App\Jobs\SendWelcomeMail;

class SendWelcome
{
    public function handle($event)
    {
        dispatch(new SendWelcomeMail($event->user));
    }
}
`

const auditLogSource = `<?php

namespace App\Listeners;

use App\Jobs\WriteAudit;
use Illuminate\Support\Facades\Bus;

class AuditLog
{
    public function handle($event)
    {
        Bus::dispatch(new WriteAudit());
    }
}
`

const sendWelcomeMailSource = `<?php

namespace App\Jobs;

class SendWelcomeMail
{
    public function handle()
    {
    }
}
`

// testSources is a small application. WriteAudit has no source.
func testSources() source.MapLocator {
	return source.MapLocator{
		`App\Listeners\SendWelcome`: sendWelcomeSource,
		`App\Listeners\AuditLog`:    auditLogSource,
		`App\Jobs\SendWelcomeMail`:  sendWelcomeMailSource,
	}
}

// switchableListeners is a ListenerSource whose registry tests can swap.
type switchableListeners struct {
	mu     sync.Mutex
	events graph.EventListenerMap
	err    error
}

func (s *switchableListeners) set(events graph.EventListenerMap, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events, s.err = events, err
}

func (s *switchableListeners) load(ctx context.Context) (graph.EventListenerMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events, s.err
}

func defaultTestEvents() graph.EventListenerMap {
	return graph.EventListenerMap{
		`App\Events\UserRegistered`: {`App\Listeners\SendWelcome`, `App\Listeners\AuditLog`},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestService creates a Service over in-memory sources. mutate may
// adjust the configuration before the service is built.
func setupTestService(t *testing.T, mutate func(*config.Config), opts ...ServiceOption) (*Service, *switchableListeners) {
	t.Helper()

	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config.Default: %v", err)
	}
	cfg.Server.AnalyzeRatePerMinute = 0
	if mutate != nil {
		mutate(cfg)
	}

	listeners := &switchableListeners{events: defaultTestEvents()}
	opts = append([]ServiceOption{
		WithLocator(testSources()),
		WithListenerSource(listeners.load),
		WithServiceLogger(discardLogger()),
	}, opts...)

	svc, err := NewService(context.Background(), t.TempDir(), cfg, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, listeners
}

// setupTestSnapshotManager opens an in-memory badger store.
func setupTestSnapshotManager(t *testing.T) *graph.SnapshotManager {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("opening badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mgr, err := graph.NewSnapshotManager(db, discardLogger())
	if err != nil {
		t.Fatalf("NewSnapshotManager: %v", err)
	}
	return mgr
}

func setupTestRouter(svc *Service) *gin.Engine {
	router := gin.New()
	handlers := NewHandlers(svc)
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	RegisterPageRoutes(router, handlers)
	return router
}

func doRequest(router http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d: %s", w.Code, status, w.Body.String())
	}
	resp := decode[ErrorResponse](t, w)
	if resp.Code != code {
		t.Errorf("code = %q, want %q", resp.Code, code)
	}
}

func analyze(t *testing.T, router http.Handler) AnalyzeResponse {
	t.Helper()
	w := doRequest(router, http.MethodPost, "/v1/eventviz/analyze", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("analyze status = %d: %s", w.Code, w.Body.String())
	}
	return decode[AnalyzeResponse](t, w)
}

func TestHandleGetGraph_NoGraph(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	router := setupTestRouter(svc)

	expectError(t, doRequest(router, http.MethodGet, "/v1/eventviz/graph", nil), http.StatusNotFound, "NO_GRAPH")
	expectError(t, doRequest(router, http.MethodGet, "/v1/eventviz/graph/mermaid", nil), http.StatusNotFound, "NO_GRAPH")
	expectError(t, doRequest(router, http.MethodGet, "/v1/eventviz/failures", nil), http.StatusNotFound, "NO_GRAPH")
}

func TestHandleAnalyze_Success(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	router := setupTestRouter(svc)

	resp := analyze(t, router)
	if resp.RunID == "" {
		t.Error("run_id is empty")
	}
	if resp.GraphHash == "" {
		t.Error("graph_hash is empty")
	}
	// WriteAudit has no source.
	if resp.FailureCount != 1 {
		t.Errorf("failure_count = %d, want 1", resp.FailureCount)
	}

	w := doRequest(router, http.MethodGet, "/v1/eventviz/graph", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("graph status = %d: %s", w.Code, w.Body.String())
	}
	g := decode[GraphResponse](t, w)
	if g.RunID != resp.RunID {
		t.Errorf("run_id = %q, want %q", g.RunID, resp.RunID)
	}
	if len(g.Graph.Nodes) != 5 {
		t.Errorf("nodes = %d, want 5", len(g.Graph.Nodes))
	}
	if len(g.Graph.Edges) != 4 {
		t.Errorf("edges = %d, want 4", len(g.Graph.Edges))
	}
	if g.Graph.GraphHash != resp.GraphHash {
		t.Errorf("graph hash = %q, want %q", g.Graph.GraphHash, resp.GraphHash)
	}
}

func TestHandleGetMermaid(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	router := setupTestRouter(svc)
	analyze(t, router)

	w := doRequest(router, http.MethodGet, "/v1/eventviz/graph/mermaid", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{
		"flowchart LR",
		"UserRegistered(UserRegistered):::event --> SendWelcome(SendWelcome):::listener;",
		"SendWelcome(SendWelcome):::listener --> SendWelcomeMail(SendWelcomeMail):::job;",
		"classDef event fill:#55efc4;",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("mermaid output missing %q:\n%s", want, body)
		}
	}
}

func TestHandleAnalyze_NoRegistry(t *testing.T) {
	svc, listeners := setupTestService(t, nil)
	router := setupTestRouter(svc)
	listeners.set(nil, fmt.Errorf("%w in /srv/app", registry.ErrNoRegistry))

	expectError(t, doRequest(router, http.MethodPost, "/v1/eventviz/analyze", nil),
		http.StatusUnprocessableEntity, "NO_LISTENER_REGISTRY")
}

func TestHandleAnalyze_Failure(t *testing.T) {
	svc, listeners := setupTestService(t, nil)
	router := setupTestRouter(svc)
	listeners.set(nil, fmt.Errorf("provider unreadable"))

	expectError(t, doRequest(router, http.MethodPost, "/v1/eventviz/analyze", nil),
		http.StatusInternalServerError, "ANALYZE_FAILED")
	if svc.Current() != nil {
		t.Error("failed run must not replace the current graph")
	}
}

func TestHandleAnalyze_RateLimited(t *testing.T) {
	svc, _ := setupTestService(t, func(c *config.Config) {
		c.Server.AnalyzeRatePerMinute = 1
	})
	router := setupTestRouter(svc)

	analyze(t, router)

	w := doRequest(router, http.MethodPost, "/v1/eventviz/analyze", nil)
	expectError(t, w, http.StatusTooManyRequests, "RATE_LIMITED")
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header not set")
	}
}

func TestHandleGetFailures(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	router := setupTestRouter(svc)
	run := analyze(t, router)

	w := doRequest(router, http.MethodGet, "/v1/eventviz/failures", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode[FailuresResponse](t, w)
	if resp.RunID != run.RunID {
		t.Errorf("run_id = %q, want %q", resp.RunID, run.RunID)
	}
	if len(resp.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(resp.Failures))
	}
	if resp.Failures[0].Class != `App\Jobs\WriteAudit` {
		t.Errorf("failed class = %q", resp.Failures[0].Class)
	}
	if resp.Failures[0].Kind != graph.FailureSourceNotFound {
		t.Errorf("failure kind = %q", resp.Failures[0].Kind)
	}
}

func TestHandleHealth(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	router := setupTestRouter(svc)

	resp := decode[HealthResponse](t, doRequest(router, http.MethodGet, "/v1/eventviz/health", nil))
	if resp.Status != "healthy" || resp.HasGraph {
		t.Errorf("before analysis: %+v", resp)
	}

	run := analyze(t, router)
	resp = decode[HealthResponse](t, doRequest(router, http.MethodGet, "/v1/eventviz/health", nil))
	if !resp.HasGraph || resp.Nodes != 5 || resp.Edges != 4 {
		t.Errorf("after analysis: %+v", resp)
	}
	if resp.GraphHash != run.GraphHash {
		t.Errorf("graph_hash = %q, want %q", resp.GraphHash, run.GraphHash)
	}
	if resp.ProjectRoot != svc.ProjectRoot() {
		t.Errorf("project_root = %q", resp.ProjectRoot)
	}
}

func TestHandleImpact(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	router := setupTestRouter(svc)

	body, _ := json.Marshal(ImpactRequest{Diff: "--- a/x.php\n+++ b/x.php\n@@ -1 +1 @@\n-a\n+b\n"})

	t.Run("no graph", func(t *testing.T) {
		expectError(t, doRequest(router, http.MethodPost, "/v1/eventviz/impact", body), http.StatusNotFound, "NO_GRAPH")
	})

	analyze(t, router)

	t.Run("missing diff", func(t *testing.T) {
		expectError(t, doRequest(router, http.MethodPost, "/v1/eventviz/impact", []byte(`{}`)),
			http.StatusBadRequest, "INVALID_REQUEST")
	})

	t.Run("unmapped file", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/v1/eventviz/impact", body)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		resp := decode[ImpactResponse](t, w)
		if len(resp.Report.Files) != 1 {
			t.Errorf("files = %d, want 1", len(resp.Report.Files))
		}
		if len(resp.Report.Unmapped) != 1 || resp.Report.Unmapped[0] != "x.php" {
			t.Errorf("unmapped = %v", resp.Report.Unmapped)
		}
		if len(resp.Report.Affected) != 0 {
			t.Errorf("affected = %v", resp.Report.Affected)
		}
	})
}

func TestSnapshotHandlers_NotAvailable(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	router := setupTestRouter(svc)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/eventviz/snapshots"},
		{http.MethodGet, "/v1/eventviz/snapshots"},
		{http.MethodGet, "/v1/eventviz/snapshots/abc"},
		{http.MethodDelete, "/v1/eventviz/snapshots/abc"},
		{http.MethodGet, "/v1/eventviz/snapshots/diff?base=a&target=b"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			expectError(t, doRequest(router, tc.method, tc.path, nil), http.StatusServiceUnavailable, "SNAPSHOTS_NOT_AVAILABLE")
		})
	}
}

func TestSnapshotHandlers_Lifecycle(t *testing.T) {
	svc, listeners := setupTestService(t, nil, WithSnapshotManager(setupTestSnapshotManager(t)))
	router := setupTestRouter(svc)

	expectError(t, doRequest(router, http.MethodPost, "/v1/eventviz/snapshots", nil), http.StatusNotFound, "NO_GRAPH")

	analyze(t, router)
	w := doRequest(router, http.MethodPost, "/v1/eventviz/snapshots", []byte(`{"label":"before"}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("save status = %d: %s", w.Code, w.Body.String())
	}
	first := decode[SaveSnapshotResponse](t, w)
	if first.NodeCount != 5 || first.EdgeCount != 4 {
		t.Errorf("first snapshot = %+v", first)
	}

	// Snapshot IDs derive from the build time in milliseconds.
	time.Sleep(5 * time.Millisecond)
	listeners.set(graph.EventListenerMap{
		`App\Events\UserRegistered`: {`App\Listeners\SendWelcome`},
	}, nil)
	analyze(t, router)
	w = doRequest(router, http.MethodPost, "/v1/eventviz/snapshots", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("second save status = %d: %s", w.Code, w.Body.String())
	}
	second := decode[SaveSnapshotResponse](t, w)

	list := decode[ListSnapshotsResponse](t, doRequest(router, http.MethodGet, "/v1/eventviz/snapshots", nil))
	if len(list.Snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(list.Snapshots))
	}

	w = doRequest(router, http.MethodGet, "/v1/eventviz/snapshots/"+first.SnapshotID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", w.Code, w.Body.String())
	}
	loaded := decode[LoadSnapshotResponse](t, w)
	if loaded.GraphHash != first.GraphHash || loaded.Metadata.Label != "before" {
		t.Errorf("loaded = %+v", loaded)
	}

	w = doRequest(router, http.MethodGet,
		"/v1/eventviz/snapshots/diff?base="+first.SnapshotID+"&target="+second.SnapshotID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("diff status = %d: %s", w.Code, w.Body.String())
	}
	diff := decode[SnapshotDiffResponse](t, w).Diff
	if len(diff.NodesRemoved) != 2 {
		t.Errorf("nodes removed = %v, want AuditLog and WriteAudit", diff.NodesRemoved)
	}
	if len(diff.NodesAdded) != 0 {
		t.Errorf("nodes added = %v", diff.NodesAdded)
	}

	w = doRequest(router, http.MethodDelete, "/v1/eventviz/snapshots/"+first.SnapshotID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}
	expectError(t, doRequest(router, http.MethodGet, "/v1/eventviz/snapshots/"+first.SnapshotID, nil),
		http.StatusNotFound, "SNAPSHOT_NOT_FOUND")
	expectError(t, doRequest(router, http.MethodDelete, "/v1/eventviz/snapshots/"+first.SnapshotID, nil),
		http.StatusNotFound, "SNAPSHOT_NOT_FOUND")
}

func TestHandleSnapshotDiff_Errors(t *testing.T) {
	svc, _ := setupTestService(t, nil, WithSnapshotManager(setupTestSnapshotManager(t)))
	router := setupTestRouter(svc)

	expectError(t, doRequest(router, http.MethodGet, "/v1/eventviz/snapshots/diff?base=a", nil),
		http.StatusBadRequest, "MISSING_PARAMETER")
	expectError(t, doRequest(router, http.MethodGet, "/v1/eventviz/snapshots/diff?base=a&target=b", nil),
		http.StatusNotFound, "SNAPSHOT_NOT_FOUND")
	expectError(t, doRequest(router, http.MethodGet, "/v1/eventviz/snapshots?limit=0", nil),
		http.StatusBadRequest, "INVALID_PARAMETER")
}

func TestHandlePage_LocalOnly(t *testing.T) {
	tests := []struct {
		name       string
		appEnv     string
		remoteAddr string
		wantStatus int
	}{
		{"remote client rejected", "production", "192.0.2.10:4711", http.StatusForbidden},
		{"loopback allowed", "production", "127.0.0.1:4711", http.StatusOK},
		{"local environment allows anyone", "local", "192.0.2.10:4711", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := setupTestService(t, func(c *config.Config) {
				c.Server.AppEnv = tt.appEnv
				c.AppName = "Shop"
			})
			router := setupTestRouter(svc)

			req := httptest.NewRequest(http.MethodGet, "/event-visualizer", nil)
			req.RemoteAddr = tt.remoteAddr
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			body := w.Body.String()
			for _, want := range []string{"Events in Shop", "flowchart LR", "new WebSocket("} {
				if !strings.Contains(body, want) {
					t.Errorf("page missing %q", want)
				}
			}
			if svc.Current() == nil {
				t.Error("page request should have built the graph")
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	router := setupTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/eventviz/graph", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("request id = %q, want req-123", got)
	}

	w = doRequest(router, http.MethodGet, "/v1/eventviz/graph", nil)
	if got := w.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("generated request id = %q, want a UUID", got)
	}
}
