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
	"net/http"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/eventviz/services/eventviz"
	"github.com/AleutianAI/eventviz/services/eventviz/config"
	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	host   string
	port   int
	watch  bool
	debug  bool
	badger string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the diagram page and the HTTP API",
		Long: `serve runs an HTTP server exposing /v1/eventviz/* and the diagram page at
/event-visualizer. With --watch the graph is rebuilt whenever a PHP source
or the listener registry changes, and open pages reload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "127.0.0.1", "Address to listen on")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Port to listen on (default server.port)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Rebuild the graph on file changes")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable gin debug mode and request logging")
	cmd.Flags().StringVar(&opts.badger, "badger", "", "Snapshot store directory (default storage.badger_path)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	projectRoot, cfg, err := root.loadConfig(ctx)
	if err != nil {
		return err
	}

	svcOpts := []eventviz.ServiceOption{eventviz.WithServiceLogger(slog.Default())}
	db, err := openSnapshotStore(projectRoot, cfg, opts.badger)
	switch {
	case errors.Is(err, errSnapshotsDisabled):
		slog.Info("snapshot store not configured, snapshot endpoints disabled")
	case err != nil:
		return err
	default:
		defer closeStore(db)
		mgr, err := graph.NewSnapshotManager(db, slog.Default())
		if err != nil {
			return err
		}
		svcOpts = append(svcOpts, eventviz.WithSnapshotManager(mgr))
	}

	svc, err := eventviz.NewService(ctx, projectRoot, cfg, svcOpts...)
	if err != nil {
		return err
	}
	defer svc.Close()

	if _, err := svc.Analyze(ctx); err != nil {
		slog.Warn("initial analysis failed", slog.String("error", err.Error()))
	}

	if opts.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("eventviz"))
	if opts.debug {
		router.Use(gin.Logger())
	}
	// ClientIP must come from the socket for the local-only guard.
	if err := router.SetTrustedProxies(nil); err != nil {
		return err
	}

	handlers := eventviz.NewHandlers(svc)
	v1 := router.Group("/v1")
	eventviz.RegisterRoutes(v1, handlers)
	eventviz.RegisterPageRoutes(router, handlers)

	port := opts.port
	if port == 0 {
		port = cfg.Server.Port
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.host, port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchDone := make(chan error, 1)
	if opts.watch {
		go func() {
			watchDone <- svc.Watch(ctx)
		}()
	} else {
		close(watchDone)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting eventviz server",
			slog.String("address", srv.Addr),
			slog.String("project", projectRoot),
			slog.Bool("watch", opts.watch))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancel()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	slog.Info("shutting down eventviz server")
	svc.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	cancel()
	if err := <-watchDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var errSnapshotsDisabled = errors.New("snapshots disabled: set storage.badger_path or --badger")

// openSnapshotStore opens the badger directory from override or the
// configuration. Relative paths are taken from the project root.
func openSnapshotStore(projectRoot string, cfg *config.Config, override string) (*badger.DB, error) {
	path := override
	if path == "" {
		path = cfg.Storage.BadgerPath
	}
	if path == "" {
		return nil, errSnapshotsDisabled
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(projectRoot, path)
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store %s: %w", path, err)
	}
	slog.Debug("snapshot store opened", slog.String("path", path))
	return db, nil
}

func closeStore(db *badger.DB) {
	if err := db.Close(); err != nil {
		slog.Warn("closing snapshot store failed", slog.String("error", err.Error()))
	}
}
