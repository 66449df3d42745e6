// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads eventviz configuration.
//
// Configuration is layered: embedded defaults, then the project's
// event-visualizer.yaml, then a project .env file and EVENTVIZ_*
// environment variables. The result is validated before use.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/eventviz/services/eventviz/codeparser"
	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

//go:embed default_config.yaml
var defaultConfigYAML []byte

const (
	// ProjectConfigFile is the per-project configuration file name.
	ProjectConfigFile = "event-visualizer.yaml"

	// MaxYAMLFileSize bounds configuration files (1MB).
	MaxYAMLFileSize = 1024 * 1024
)

// ErrInvalidConfig is returned for configuration that fails to parse or
// validate.
var ErrInvalidConfig = errors.New("invalid configuration")

var configTracer = otel.Tracer("eventviz.config")

// Config is the complete eventviz configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	// AppName titles the HTML page. Empty uses the project directory name.
	AppName string `yaml:"app_name"`

	// ShowLaravelEvents includes framework events in graphs.
	ShowLaravelEvents bool `yaml:"show_laravel_events"`

	// ShowSubscriberInternalHandlerMethods renders handler methods of
	// subscriber listeners in node names.
	ShowSubscriberInternalHandlerMethods bool `yaml:"show_subscriber_internal_handler_methods"`

	// AutoDiscoverJobsAndEvents resolves dispatches from source. When false
	// the declared dispatchesJobs/dispatchesEvents methods are read.
	AutoDiscoverJobsAndEvents bool `yaml:"auto_discover_jobs_and_events"`

	AppNamespacePrefix string   `yaml:"app_namespace_prefix" validate:"required"`
	ClassesToIgnore    []string `yaml:"classes_to_ignore"`
	MaxNodes           int      `yaml:"max_nodes" validate:"min=1,max=1000000"`

	Theme ThemeConfig `yaml:"theme"`

	// MermaidVersion is the mermaid CDN release used by the HTML page.
	MermaidVersion string `yaml:"mermaid_version" validate:"required"`

	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Source    SourceConfig    `yaml:"source"`
	Listeners ListenersConfig `yaml:"listeners"`
	Storage   StorageConfig   `yaml:"storage"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	Server    ServerConfig    `yaml:"server"`
}

// ThemeConfig holds diagram styling.
type ThemeConfig struct {
	Colors ThemeColors `yaml:"colors"`
}

// ThemeColors are the fill colors per node type.
type ThemeColors struct {
	Event    string `yaml:"event" validate:"required,hexcolor"`
	Listener string `yaml:"listener" validate:"required,hexcolor"`
	Job      string `yaml:"job" validate:"required,hexcolor"`
}

// DispatchConfig holds the dispatch call shapes. Empty families fall back
// to codeparser.DefaultJobFamily and codeparser.DefaultEventFamily.
type DispatchConfig struct {
	Jobs   codeparser.DispatchFamily `yaml:"jobs"`
	Events codeparser.DispatchFamily `yaml:"events"`
}

// SourceConfig controls class source lookup.
type SourceConfig struct {
	ComposerJSON string `yaml:"composer_json" validate:"required"`
	CacheSize    int    `yaml:"cache_size" validate:"min=1"`
	MaxFileSize  int64  `yaml:"max_file_size" validate:"min=1"`
}

// ListenersConfig names where the event→listener registry comes from. A
// registry file takes precedence over the provider.
type ListenersConfig struct {
	File     string `yaml:"file"`
	Provider string `yaml:"provider"`
}

// StorageConfig controls snapshot persistence. An empty BadgerPath
// disables snapshots.
type StorageConfig struct {
	BadgerPath string `yaml:"badger_path"`
}

// Neo4jConfig controls graph export. An empty URI disables export.
type Neo4jConfig struct {
	URI         string `yaml:"uri" validate:"omitempty,url"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port      int  `yaml:"port" validate:"min=1,max=65535"`
	LocalOnly bool `yaml:"local_only"`

	// AnalyzeRatePerMinute bounds POST /analyze. Zero disables the limit.
	AnalyzeRatePerMinute int `yaml:"analyze_rate_per_minute" validate:"min=0"`

	// AppEnv is the deployment environment; "local" lifts the local-only
	// guard of the HTML page.
	AppEnv string `yaml:"app_env"`
}

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	return LoadConfig(context.Background(), nil)
}

// LoadConfig parses data over the embedded defaults and validates the
// result. Nil or empty data yields the defaults.
//
// Outputs:
//   - *Config: The validated configuration.
//   - error: Wraps ErrInvalidConfig.
func LoadConfig(ctx context.Context, data []byte) (*Config, error) {
	_, span := configTracer.Start(ctx, "config.LoadConfig")
	defer span.End()

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("eventviz.max_nodes", cfg.MaxNodes),
		attribute.Int("eventviz.classes_to_ignore", len(cfg.ClassesToIgnore)),
		attribute.Bool("eventviz.auto_discover", cfg.AutoDiscoverJobsAndEvents),
	)
	return cfg, nil
}

// parse decodes defaults and then data into one Config. Keys absent from
// data keep their default values.
func parse(data []byte) (*Config, error) {
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("%w: YAML data exceeds maximum size (%d > %d)", ErrInvalidConfig, len(data), MaxYAMLFileSize)
	}

	var cfg Config
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parsing default config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing YAML: %w", ErrInvalidConfig, err)
		}
	}
	return &cfg, nil
}

// LoadProjectConfig loads configuration for a project directory.
//
// Description:
//
//	Reads <projectRoot>/event-visualizer.yaml when present, loads
//	<projectRoot>/.env into the process environment without overriding
//	variables already set, then applies EVENTVIZ_* overrides.
func LoadProjectConfig(ctx context.Context, projectRoot string) (*Config, error) {
	ctx, span := configTracer.Start(ctx, "config.LoadProjectConfig")
	defer span.End()

	envFile := filepath.Join(projectRoot, ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("ignoring unreadable .env file",
			slog.String("path", envFile),
			slog.String("error", err.Error()))
	}

	path := filepath.Join(projectRoot, ProjectConfigFile)
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	slog.Info("configuration loaded",
		slog.String("project_root", projectRoot),
		slog.Bool("project_file", data != nil),
		slog.Int("max_nodes", cfg.MaxNodes))
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read with getenv.
// Unset or empty variables leave fields unchanged.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	boolVar := func(name string, dst *bool) error {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
			}
			*dst = b
		}
		return nil
	}
	intVar := func(name string, dst *int) error {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
			}
			*dst = n
		}
		return nil
	}
	stringVar := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}

	if err := boolVar("EVENTVIZ_SHOW_LARAVEL_EVENTS", &c.ShowLaravelEvents); err != nil {
		return err
	}
	if err := boolVar("EVENTVIZ_SHOW_HANDLER_METHODS", &c.ShowSubscriberInternalHandlerMethods); err != nil {
		return err
	}
	if err := intVar("EVENTVIZ_MAX_NODES", &c.MaxNodes); err != nil {
		return err
	}
	if err := intVar("EVENTVIZ_PORT", &c.Server.Port); err != nil {
		return err
	}
	if v := strings.TrimSpace(getenv("EVENTVIZ_CLASSES_TO_IGNORE")); v != "" {
		c.ClassesToIgnore = splitList(v)
	}
	stringVar("EVENTVIZ_BADGER_PATH", &c.Storage.BadgerPath)
	stringVar("EVENTVIZ_NEO4J_URI", &c.Neo4j.URI)
	stringVar("EVENTVIZ_NEO4J_USER", &c.Neo4j.User)
	stringVar("APP_NAME", &c.AppName)
	stringVar("APP_ENV", &c.Server.AppEnv)
	return nil
}

// Title returns AppName, or the base name of projectRoot when unset.
func (c *Config) Title(projectRoot string) string {
	if c.AppName != "" {
		return c.AppName
	}
	return filepath.Base(projectRoot)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalize fills fields whose zero value means "use the default".
func (c *Config) normalize() {
	if c.Dispatch.Jobs.IsEmpty() {
		c.Dispatch.Jobs = codeparser.DefaultJobFamily()
	}
	if c.Dispatch.Events.IsEmpty() {
		c.Dispatch.Events = codeparser.DefaultEventFamily()
	}
	c.MermaidVersion = strings.TrimPrefix(strings.TrimSpace(c.MermaidVersion), "v")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the mermaid version.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if !semver.IsValid("v" + c.MermaidVersion) {
		return fmt.Errorf("%w: mermaid_version %q is not a semantic version", ErrInvalidConfig, c.MermaidVersion)
	}
	return nil
}

// BuilderOptions maps the configuration onto graph builder options.
func (c *Config) BuilderOptions(projectRoot string, logger *slog.Logger) []graph.BuilderOption {
	return []graph.BuilderOption{
		graph.WithProjectRoot(projectRoot),
		graph.WithBuilderMaxNodes(c.MaxNodes),
		graph.WithClassesToIgnore(c.ClassesToIgnore),
		graph.WithShowFrameworkEvents(c.ShowLaravelEvents),
		graph.WithAppPrefix(c.AppNamespacePrefix),
		graph.WithShowHandlerMethods(c.ShowSubscriberInternalHandlerMethods),
		graph.WithAutoDiscover(c.AutoDiscoverJobsAndEvents),
		graph.WithFamilies(c.Dispatch.Jobs, c.Dispatch.Events),
		graph.WithMaxFileSize(c.Source.MaxFileSize),
		graph.WithLogger(logger),
	}
}
