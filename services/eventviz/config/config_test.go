// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/eventviz/services/eventviz/codeparser"
	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.False(t, cfg.ShowLaravelEvents)
	assert.False(t, cfg.ShowSubscriberInternalHandlerMethods)
	assert.True(t, cfg.AutoDiscoverJobsAndEvents)
	assert.Equal(t, "App", cfg.AppNamespacePrefix)
	assert.Equal(t, 5000, cfg.MaxNodes)
	assert.Equal(t, "#55efc4", cfg.Theme.Colors.Event)
	assert.Equal(t, "#74b9ff", cfg.Theme.Colors.Listener)
	assert.Equal(t, "#a29bfe", cfg.Theme.Colors.Job)
	assert.Equal(t, "9.0.1", cfg.MermaidVersion)
	assert.Equal(t, "composer.json", cfg.Source.ComposerJSON)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Server.LocalOnly)
	assert.Equal(t, codeparser.DefaultJobFamily(), cfg.Dispatch.Jobs)
	assert.Equal(t, codeparser.DefaultEventFamily(), cfg.Dispatch.Events)
}

func TestLoadConfig_OverlayKeepsDefaults(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), []byte(`
show_laravel_events: true
classes_to_ignore: [Telescope, Horizon]
theme:
  colors:
    job: "#000000"
dispatch:
  jobs:
    functions: [dispatch]
`))
	require.NoError(t, err)

	assert.True(t, cfg.ShowLaravelEvents)
	assert.Equal(t, []string{"Telescope", "Horizon"}, cfg.ClassesToIgnore)
	assert.Equal(t, "#000000", cfg.Theme.Colors.Job)
	assert.Equal(t, "#55efc4", cfg.Theme.Colors.Event, "unset colors keep defaults")
	assert.Equal(t, 5000, cfg.MaxNodes)
	assert.Equal(t, []string{"dispatch"}, cfg.Dispatch.Jobs.Functions)
	assert.Empty(t, cfg.Dispatch.Jobs.Static)
	assert.Equal(t, codeparser.DefaultEventFamily(), cfg.Dispatch.Events)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "max_nodes: [1"},
		{"bad color", "theme: {colors: {event: green}}"},
		{"zero max nodes", "max_nodes: 0"},
		{"bad mermaid version", "mermaid_version: latest"},
		{"empty prefix", `app_namespace_prefix: ""`},
		{"bad port", "server: {port: 70000}"},
		{"bad neo4j uri", "neo4j: {uri: 'not a url'}"},
		{"dispatch method without class", "dispatch: {jobs: {static: [{methods: [dispatch]}]}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(context.Background(), []byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig_MermaidVersionPrefix(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), []byte(`mermaid_version: "v10.2.0"`))
	require.NoError(t, err)
	assert.Equal(t, "10.2.0", cfg.MermaidVersion)
}

func TestLoadConfig_TooLarge(t *testing.T) {
	data := make([]byte, MaxYAMLFileSize+1)
	_, err := LoadConfig(context.Background(), data)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestApplyEnv(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	env := map[string]string{
		"EVENTVIZ_SHOW_LARAVEL_EVENTS":  "true",
		"EVENTVIZ_SHOW_HANDLER_METHODS": "1",
		"EVENTVIZ_CLASSES_TO_IGNORE":    " Telescope , ,Horizon",
		"EVENTVIZ_MAX_NODES":            "42",
		"EVENTVIZ_BADGER_PATH":          "/tmp/snaps",
		"EVENTVIZ_NEO4J_URI":            "neo4j://localhost:7687",
		"EVENTVIZ_PORT":                 "9090",
		"APP_ENV":                       "local",
		"APP_NAME":                      "Shop",
	}
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.True(t, cfg.ShowLaravelEvents)
	assert.True(t, cfg.ShowSubscriberInternalHandlerMethods)
	assert.Equal(t, []string{"Telescope", "Horizon"}, cfg.ClassesToIgnore)
	assert.Equal(t, 42, cfg.MaxNodes)
	assert.Equal(t, "/tmp/snaps", cfg.Storage.BadgerPath)
	assert.Equal(t, "neo4j://localhost:7687", cfg.Neo4j.URI)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Server.AppEnv)
	assert.Equal(t, "Shop", cfg.Title("/srv/app"))
	assert.NoError(t, cfg.Validate())
}

func TestTitle_FallsBackToDirectory(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "shop-api", cfg.Title("/home/dev/shop-api"))
}

func TestApplyEnv_Invalid(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	err = cfg.ApplyEnv(func(k string) string {
		if k == "EVENTVIZ_MAX_NODES" {
			return "many"
		}
		return ""
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadProjectConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigFile), []byte("max_nodes: 10\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("EVENTVIZ_TEST_ONLY_FLAG=1\n"), 0o644))
	t.Setenv("EVENTVIZ_TEST_ONLY_FLAG", "")
	os.Unsetenv("EVENTVIZ_TEST_ONLY_FLAG")
	t.Setenv("EVENTVIZ_PORT", "9191")

	cfg, err := LoadProjectConfig(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxNodes)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "1", os.Getenv("EVENTVIZ_TEST_ONLY_FLAG"))
}

func TestLoadProjectConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadProjectConfig(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.MaxNodes)
}

func TestBuilderOptions(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), []byte("max_nodes: 7\nclasses_to_ignore: [X]"))
	require.NoError(t, err)

	var got graph.BuilderOptions
	for _, opt := range cfg.BuilderOptions("/proj", nil) {
		opt(&got)
	}
	assert.Equal(t, "/proj", got.ProjectRoot)
	assert.Equal(t, 7, got.MaxNodes)
	assert.Equal(t, []string{"X"}, got.ClassesToIgnore)
	assert.Equal(t, "App", got.AppPrefix)
	assert.True(t, got.AutoDiscover)
	assert.Equal(t, int64(10485760), got.MaxFileSize)
	assert.False(t, got.Jobs.IsEmpty())
}
