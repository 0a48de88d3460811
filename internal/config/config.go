// Package config loads settings for mnemo from an optional YAML overlay file
// and bare (unprefixed) environment variables, matching the original
// project's own variable names so an existing .env carries over unchanged,
// with sensible defaults for every option.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every setting used across the coordinator, store, embedding
// provider, HTTP surface, and discovery components.
type Config struct {
	Storage   StorageConfig
	Embedding EmbeddingConfig
	HTTP      HTTPConfig
	Events    EventsConfig
	Discovery DiscoveryConfig
	Security  SecurityConfig
	User      UserConfig
}

// StorageConfig points the embedded store at its backing files.
type StorageConfig struct {
	Backend        string // STORAGE_BACKEND (default: sqlite)
	DatabasePath   string // DATABASE_PATH (default: ./data/mnemo.db)
	BackupsPath    string // BACKUPS_PATH (default: ./data/backups)
	SQLitePragmas  string // SQLITE_PRAGMAS, semicolon-separated "name=value" overrides
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	ModelName          string // EMBEDDING_MODEL_NAME (default: all-MiniLM-L6-v2)
	UsePortableRuntime bool   // USE_PORTABLE_RUNTIME (default: false)
	OllamaURL          string // OLLAMA_URL (default: http://localhost:11434)
	CacheSize          int    // EMBEDDING_CACHE_SIZE (default: 1000)
}

// HTTPConfig controls the coordinator's mode detection and the HTTP/SSE
// surface.
type HTTPConfig struct {
	Host           string // HTTP_HOST (default: 0.0.0.0)
	Port           int    // HTTP_PORT (default: 8000)
	AutoStart      bool   // HTTP_AUTO_START (default: true)
	ClientHostname string // HTTP_CLIENT_HOSTNAME, hostname tagged when a request has no X-Client-Hostname header
	CORSOrigins    string // CORS_ORIGINS, comma-separated (default: *)
	IncludeHostname bool  // INCLUDE_HOSTNAME (default: false)
}

// EventsConfig tunes the SSE event bus.
type EventsConfig struct {
	HeartbeatIntervalSeconds int // SSE_HEARTBEAT_INTERVAL (default: 30)
}

// DiscoveryConfig enables optional mDNS advertisement.
type DiscoveryConfig struct {
	MDNSEnabled bool   // MDNS_ENABLED (default: false)
	ServiceName string // MDNS_SERVICE_NAME (default: mnemo)
}

// SecurityConfig gates the optional bearer-token auth middleware.
type SecurityConfig struct {
	Mode     string // SECURITY_MODE: development|production (default: development)
	APIToken string // API_TOKEN
}

// UserConfig holds settings persisted to the database settings table rather
// than the environment.
type UserConfig struct {
	UserName string // USER_NAME
}

// Load reads the optional YAML overlay (if overlayPath is non-empty and the
// file exists) and then environment variables, with env vars taking
// precedence over the file, matching the layered-default pattern used
// throughout the rest of this stack.
func Load(overlayPath string) (*Config, error) {
	cfg := buildBaseConfig()

	if overlayPath != "" {
		if data, err := os.ReadFile(overlayPath); err == nil {
			var overlay Config
			if err := yaml.Unmarshal(data, &overlay); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", overlayPath, err)
			}
			applyOverlay(cfg, &overlay)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: failed to read %s: %w", overlayPath, err)
		}
		// Environment variables are re-applied after the overlay so they
		// always win, even when the overlay sets a zero-like value.
		applyEnv(cfg)
	}

	return cfg, nil
}

// applyOverlay copies non-zero fields from the YAML overlay onto the base,
// field by field, so an overlay may set only the options it cares about.
func applyOverlay(base, overlay *Config) {
	if overlay.Storage.Backend != "" {
		base.Storage.Backend = overlay.Storage.Backend
	}
	if overlay.Storage.DatabasePath != "" {
		base.Storage.DatabasePath = overlay.Storage.DatabasePath
	}
	if overlay.Storage.BackupsPath != "" {
		base.Storage.BackupsPath = overlay.Storage.BackupsPath
	}
	if overlay.Storage.SQLitePragmas != "" {
		base.Storage.SQLitePragmas = overlay.Storage.SQLitePragmas
	}
	if overlay.Embedding.ModelName != "" {
		base.Embedding.ModelName = overlay.Embedding.ModelName
	}
	if overlay.Embedding.OllamaURL != "" {
		base.Embedding.OllamaURL = overlay.Embedding.OllamaURL
	}
	if overlay.Embedding.CacheSize != 0 {
		base.Embedding.CacheSize = overlay.Embedding.CacheSize
	}
	base.Embedding.UsePortableRuntime = base.Embedding.UsePortableRuntime || overlay.Embedding.UsePortableRuntime
	if overlay.HTTP.Host != "" {
		base.HTTP.Host = overlay.HTTP.Host
	}
	if overlay.HTTP.Port != 0 {
		base.HTTP.Port = overlay.HTTP.Port
	}
	if overlay.HTTP.ClientHostname != "" {
		base.HTTP.ClientHostname = overlay.HTTP.ClientHostname
	}
	if overlay.HTTP.CORSOrigins != "" {
		base.HTTP.CORSOrigins = overlay.HTTP.CORSOrigins
	}
	if overlay.Events.HeartbeatIntervalSeconds != 0 {
		base.Events.HeartbeatIntervalSeconds = overlay.Events.HeartbeatIntervalSeconds
	}
	if overlay.Discovery.ServiceName != "" {
		base.Discovery.ServiceName = overlay.Discovery.ServiceName
	}
	base.Discovery.MDNSEnabled = base.Discovery.MDNSEnabled || overlay.Discovery.MDNSEnabled
	if overlay.Security.Mode != "" {
		base.Security.Mode = overlay.Security.Mode
	}
	if overlay.Security.APIToken != "" {
		base.Security.APIToken = overlay.Security.APIToken
	}
}

// LoadFromDB behaves like Load but additionally reads persisted user
// settings from the settings table, which take precedence over both the
// overlay and the environment.
func LoadFromDB(overlayPath string, db *sql.DB) (*Config, error) {
	if db == nil {
		return nil, errors.New("config: database connection is required")
	}

	cfg, err := Load(overlayPath)
	if err != nil {
		return nil, err
	}

	userName, err := getSetting(db, "user_name")
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("config: failed to load user_name from database: %w", err)
	}
	if userName != "" {
		cfg.User.UserName = userName
	}

	return cfg, nil
}

// SaveConfig persists user configuration to the settings table using upsert
// semantics so it survives restarts.
func (c *Config) SaveConfig(db *sql.DB) error {
	if db == nil {
		return errors.New("config: database connection is required")
	}
	if err := setSetting(db, "user_name", c.User.UserName); err != nil {
		return fmt.Errorf("config: failed to save user_name: %w", err)
	}
	return nil
}

func getSetting(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

func setSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

func buildBaseConfig() *Config {
	cfg := &Config{}
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Storage = StorageConfig{
		Backend:       getEnv("STORAGE_BACKEND", "sqlite"),
		DatabasePath:  getEnv("DATABASE_PATH", "./data/mnemo.db"),
		BackupsPath:   getEnv("BACKUPS_PATH", "./data/backups"),
		SQLitePragmas: getEnv("SQLITE_PRAGMAS", ""),
	}
	cfg.Embedding = EmbeddingConfig{
		ModelName:          getEnv("EMBEDDING_MODEL_NAME", "all-MiniLM-L6-v2"),
		UsePortableRuntime: getEnvBool("USE_PORTABLE_RUNTIME", false),
		OllamaURL:          getEnv("OLLAMA_URL", "http://localhost:11434"),
		CacheSize:          getEnvInt("EMBEDDING_CACHE_SIZE", 1000),
	}
	cfg.HTTP = HTTPConfig{
		Host:            getEnv("HTTP_HOST", "0.0.0.0"),
		Port:            getEnvInt("HTTP_PORT", 8000),
		AutoStart:       getEnvBool("HTTP_AUTO_START", true),
		ClientHostname:  getEnv("HTTP_CLIENT_HOSTNAME", ""),
		CORSOrigins:     getEnv("CORS_ORIGINS", "*"),
		IncludeHostname: getEnvBool("INCLUDE_HOSTNAME", false),
	}
	cfg.Events = EventsConfig{
		HeartbeatIntervalSeconds: getEnvInt("SSE_HEARTBEAT_INTERVAL", 30),
	}
	cfg.Discovery = DiscoveryConfig{
		MDNSEnabled: getEnvBool("MDNS_ENABLED", false),
		ServiceName: getEnv("MDNS_SERVICE_NAME", "mnemo"),
	}
	cfg.Security = SecurityConfig{
		Mode:     getEnv("SECURITY_MODE", "development"),
		APIToken: getEnv("API_TOKEN", ""),
	}
	cfg.User = UserConfig{
		UserName: getEnv("USER_NAME", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
