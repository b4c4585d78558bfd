package config

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAPIURL      = "http://127.0.0.1:7480"
	DefaultDatabaseURL = "file:.dbimage.db"
	DefaultLogLevel    = "debug"
	ConfigFileName     = ".dbimage.toml"

	DefaultStorePoolSize       = 4
	DefaultStoreAcquireTimeout = "5s"

	DefaultCoverMaxBytes        int64 = 15 << 20
	DefaultAvatarMaxBytes       int64 = 5 << 20
	DefaultProfileCoverMaxBytes int64 = 15 << 20
	DefaultMultipartMaxMemory   int64 = 8 << 20
	DefaultUploadConcurrency          = 8

	DefaultMigrationMaxBytes int64 = 15 << 20

	configDirEnvKey       = "DBIMAGE_CONFIG_DIR"
	databaseURLEnvKey     = "DATABASE_URL"
	apiURLEnvKey          = "DBIMAGE_API_URL"
	logLevelEnvKey        = "DBIMAGE_LOG_LEVEL"
	uploadTokenHashEnvKey = "DBIMAGE_UPLOAD_TOKEN_HASH"
	otlpEndpointEnvKey    = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// StoreConfig tunes the connection pool.
type StoreConfig struct {
	PoolSize       int    `toml:"pool_size"`
	AcquireTimeout string `toml:"acquire_timeout"`
}

// UploadConfig holds per-kind upload ceilings and the upload guard.
type UploadConfig struct {
	CoverMaxBytes        int64    `toml:"cover_max_bytes"`
	AvatarMaxBytes       int64    `toml:"avatar_max_bytes"`
	ProfileCoverMaxBytes int64    `toml:"profile_cover_max_bytes"`
	MultipartMaxMemory   int64    `toml:"multipart_max_memory"`
	AllowedMediaTypes    []string `toml:"allowed_media_types"`
	Concurrency          int      `toml:"concurrency"`
	TokenHash            string   `toml:"token_hash"`
}

// ReferenceRule names a host table column rewritten during migration.
type ReferenceRule struct {
	Table  string `toml:"table"`
	Column string `toml:"column"`
}

// MigrationConfig configures the bulk sweep.
type MigrationConfig struct {
	Root         string          `toml:"root"`
	MaxBytes     int64           `toml:"max_bytes"`
	Extensions   []string        `toml:"extensions"`
	PreserveDirs []string        `toml:"preserve_dirs"`
	References   []ReferenceRule `toml:"references"`
	ReportPath   string          `toml:"report_path"`
}

// TelemetryConfig holds OTLP/HTTP endpoints. Empty endpoints disable export.
type TelemetryConfig struct {
	TracesEndpoint  string `toml:"traces_endpoint"`
	MetricsEndpoint string `toml:"metrics_endpoint"`
}

// Config defines runtime configuration for dbimage.
type Config struct {
	DatabaseURL string          `toml:"database_url"`
	APIURL      string          `toml:"api_url"`
	LogLevel    string          `toml:"log_level"`
	Store       StoreConfig     `toml:"store"`
	Uploads     UploadConfig    `toml:"uploads"`
	Migration   MigrationConfig `toml:"migration"`
	Telemetry   TelemetryConfig `toml:"telemetry"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		DatabaseURL: "",
		APIURL:      DefaultAPIURL,
		LogLevel:    DefaultLogLevel,
		Store: StoreConfig{
			PoolSize:       DefaultStorePoolSize,
			AcquireTimeout: DefaultStoreAcquireTimeout,
		},
		Uploads: UploadConfig{
			CoverMaxBytes:        DefaultCoverMaxBytes,
			AvatarMaxBytes:       DefaultAvatarMaxBytes,
			ProfileCoverMaxBytes: DefaultProfileCoverMaxBytes,
			MultipartMaxMemory:   DefaultMultipartMaxMemory,
			Concurrency:          DefaultUploadConcurrency,
		},
		Migration: MigrationConfig{
			MaxBytes: DefaultMigrationMaxBytes,
		},
	}
}

func loadFile(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

var allowedKeys = []string{
	"database_url",
	"api_url",
	"log_level",
	"store.pool_size",
	"store.acquire_timeout",
	"uploads.cover_max_bytes",
	"uploads.avatar_max_bytes",
	"uploads.profile_cover_max_bytes",
	"uploads.multipart_max_memory",
	"uploads.allowed_media_types",
	"uploads.concurrency",
	"uploads.token_hash",
	"migration.root",
	"migration.max_bytes",
	"migration.extensions",
	"migration.preserve_dirs",
	"migration.references",
	"migration.report_path",
	"telemetry.traces_endpoint",
	"telemetry.metrics_endpoint",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "database_url":
		return c.DatabaseURL, nil
	case "api_url":
		return c.APIURL, nil
	case "log_level":
		return c.LogLevel, nil
	case "store.pool_size":
		return strconv.Itoa(c.Store.PoolSize), nil
	case "store.acquire_timeout":
		return c.Store.AcquireTimeout, nil
	case "uploads.cover_max_bytes":
		return strconv.FormatInt(c.Uploads.CoverMaxBytes, 10), nil
	case "uploads.avatar_max_bytes":
		return strconv.FormatInt(c.Uploads.AvatarMaxBytes, 10), nil
	case "uploads.profile_cover_max_bytes":
		return strconv.FormatInt(c.Uploads.ProfileCoverMaxBytes, 10), nil
	case "uploads.multipart_max_memory":
		return strconv.FormatInt(c.Uploads.MultipartMaxMemory, 10), nil
	case "uploads.allowed_media_types":
		return strings.Join(c.Uploads.AllowedMediaTypes, ","), nil
	case "uploads.concurrency":
		return strconv.Itoa(c.Uploads.Concurrency), nil
	case "uploads.token_hash":
		return c.Uploads.TokenHash, nil
	case "migration.root":
		return c.Migration.Root, nil
	case "migration.max_bytes":
		return strconv.FormatInt(c.Migration.MaxBytes, 10), nil
	case "migration.extensions":
		return strings.Join(c.Migration.Extensions, ","), nil
	case "migration.preserve_dirs":
		return strings.Join(c.Migration.PreserveDirs, ","), nil
	case "migration.references":
		rules := make([]string, 0, len(c.Migration.References))
		for _, rule := range c.Migration.References {
			rules = append(rules, rule.Table+"."+rule.Column)
		}
		return strings.Join(rules, ","), nil
	case "migration.report_path":
		return c.Migration.ReportPath, nil
	case "telemetry.traces_endpoint":
		return c.Telemetry.TracesEndpoint, nil
	case "telemetry.metrics_endpoint":
		return c.Telemetry.MetricsEndpoint, nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the config file.
func GlobalPath() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(configDirEnvKey)); dir != "" {
		return filepath.Join(dir, ConfigFileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads the config file and applies env overrides. Env wins over file.
func Load() (*Config, error) {
	cfg := Default()

	path, err := GlobalPath()
	if err == nil {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if v := strings.TrimSpace(os.Getenv(databaseURLEnvKey)); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(apiURLEnvKey)); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv(logLevelEnvKey)); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(uploadTokenHashEnvKey)); v != "" {
		cfg.Uploads.TokenHash = v
	}
	if v := strings.TrimSpace(os.Getenv(otlpEndpointEnvKey)); v != "" {
		base := strings.TrimRight(v, "/")
		if cfg.Telemetry.TracesEndpoint == "" {
			cfg.Telemetry.TracesEndpoint = base + "/v1/traces"
		}
		if cfg.Telemetry.MetricsEndpoint == "" {
			cfg.Telemetry.MetricsEndpoint = base + "/v1/metrics"
		}
	}

	cfg.normalize()
	return &cfg, nil
}

// AcquireTimeout parses store.acquire_timeout. Invalid values fall back to
// the default.
func (c *Config) AcquireTimeout() time.Duration {
	def, _ := time.ParseDuration(DefaultStoreAcquireTimeout)
	parsed, err := time.ParseDuration(strings.TrimSpace(c.Store.AcquireTimeout))
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// UploadLimits returns per-kind upload ceilings keyed by upload kind.
func (c *Config) UploadLimits() map[string]int64 {
	return map[string]int64{
		"cover":         c.Uploads.CoverMaxBytes,
		"avatar":        c.Uploads.AvatarMaxBytes,
		"profile-cover": c.Uploads.ProfileCoverMaxBytes,
	}
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "uploads.cover_max_bytes", "uploads.avatar_max_bytes", "uploads.profile_cover_max_bytes",
		"uploads.multipart_max_memory", "migration.max_bytes":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "store.pool_size", "uploads.concurrency":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "store.acquire_timeout":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration", key)
		}
		return value, nil
	case "log_level":
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "warning", "error":
			return strings.ToLower(value), nil
		}
		return nil, fmt.Errorf("%s must be one of debug, info, warn, error", key)
	case "uploads.allowed_media_types", "migration.extensions", "migration.preserve_dirs":
		return splitCSV(value), nil
	case "migration.references":
		rules, err := ParseReferenceRules(value)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(rules))
		for _, rule := range rules {
			out = append(out, map[string]any{"table": rule.Table, "column": rule.Column})
		}
		return out, nil
	default:
		return value, nil
	}
}

// ParseReferenceRules parses "table.column[,table.column...]".
func ParseReferenceRules(value string) ([]ReferenceRule, error) {
	var rules []ReferenceRule
	for _, part := range splitCSV(value) {
		table, column, ok := strings.Cut(part, ".")
		table, column = strings.TrimSpace(table), strings.TrimSpace(column)
		if !ok || table == "" || column == "" {
			return nil, fmt.Errorf("invalid reference rule %q: expected table.column", part)
		}
		rules = append(rules, ReferenceRule{Table: table, Column: column})
	}
	return rules, nil
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func splitCSV(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		c.DatabaseURL = DefaultDatabaseURL
	}
	if c.Store.PoolSize <= 0 {
		c.Store.PoolSize = DefaultStorePoolSize
	}
	if c.Uploads.CoverMaxBytes <= 0 {
		c.Uploads.CoverMaxBytes = DefaultCoverMaxBytes
	}
	if c.Uploads.AvatarMaxBytes <= 0 {
		c.Uploads.AvatarMaxBytes = DefaultAvatarMaxBytes
	}
	if c.Uploads.ProfileCoverMaxBytes <= 0 {
		c.Uploads.ProfileCoverMaxBytes = DefaultProfileCoverMaxBytes
	}
	if c.Uploads.MultipartMaxMemory <= 0 {
		c.Uploads.MultipartMaxMemory = DefaultMultipartMaxMemory
	}
	if c.Uploads.Concurrency <= 0 {
		c.Uploads.Concurrency = DefaultUploadConcurrency
	}
	if c.Migration.MaxBytes <= 0 {
		c.Migration.MaxBytes = DefaultMigrationMaxBytes
	}
	c.Uploads.AllowedMediaTypes = normalizeConfiguredMediaTypes(c.Uploads.AllowedMediaTypes)
}

func normalizeConfiguredMediaTypes(rawValues []string) []string {
	if len(rawValues) == 0 {
		return nil
	}
	out := make([]string, 0, len(rawValues))
	seen := map[string]struct{}{}
	for _, raw := range rawValues {
		parsed, _, err := mime.ParseMediaType(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		normalized := strings.ToLower(parsed)
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
