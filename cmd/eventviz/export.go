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
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/eventviz/services/eventviz/export"
)

// secretCacheTTL bounds how long the neo4j password stays cached.
const secretCacheTTL = 5 * time.Minute

func newExportCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the dispatch graph to external stores",
	}
	cmd.AddCommand(newExportNeo4jCmd(root))
	return cmd
}

type neo4jFlags struct {
	uri         string
	user        string
	database    string
	passwordEnv string
	batchSize   int
}

func newExportNeo4jCmd(root *rootOptions) *cobra.Command {
	flags := &neo4jFlags{}
	cmd := &cobra.Command{
		Use:   "neo4j",
		Short: "Write the graph to Neo4j",
		Long: `neo4j replaces the project's :EventvizNode nodes and :DISPATCHES
relationships in Neo4j with the current graph. The password is read from
the environment variable named by neo4j.password_env.`,
		Example: `  EVENTVIZ_NEO4J_PASSWORD=secret eventviz export neo4j -p ./shop --uri neo4j://localhost:7687`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := root.newService(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			cfg := svc.Config().Neo4j
			opts := export.Neo4jOptions{
				URI:         firstNonEmpty(flags.uri, cfg.URI),
				User:        firstNonEmpty(flags.user, cfg.User),
				Database:    firstNonEmpty(flags.database, cfg.Database),
				PasswordKey: firstNonEmpty(flags.passwordEnv, cfg.PasswordEnv),
				BatchSize:   flags.batchSize,
				Logger:      slog.Default(),
			}
			if opts.URI == "" {
				return fmt.Errorf("%w: set neo4j.uri or --uri", export.ErrNoURI)
			}

			res, err := svc.Analyze(ctx)
			if err != nil {
				return err
			}

			secrets := export.NewSecretManager(secretCacheTTL)
			defer secrets.Destroy()

			exporter, err := export.NewNeo4jExporter(ctx, opts, secrets)
			if err != nil {
				return err
			}
			defer exporter.Close(ctx)

			stats, err := exporter.Export(ctx, res.Graph)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d nodes and %d relationships in %d batches\n",
				stats.Nodes, stats.Relationships, stats.Batches)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.uri, "uri", "", "Bolt or neo4j URI (default neo4j.uri)")
	f.StringVar(&flags.user, "user", "", "User name (default neo4j.user)")
	f.StringVar(&flags.database, "database", "", "Database name (default neo4j.database)")
	f.StringVar(&flags.passwordEnv, "password-env", "", "Environment variable holding the password (default neo4j.password_env)")
	f.IntVar(&flags.batchSize, "batch-size", export.DefaultBatchSize, "Rows per UNWIND batch")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
