package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for visadesk.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	API      APIConfig      `json:"api" yaml:"api"`
	Realtime RealtimeConfig `json:"realtime" yaml:"realtime"`
	Chat     ChatConfig     `json:"chat" yaml:"chat"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

// APIConfig points at the CRM REST backend.
type APIConfig struct {
	BaseURL        string `json:"baseUrl" yaml:"baseUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// RealtimeConfig configures the notification socket.
type RealtimeConfig struct {
	URL                 string `json:"url" yaml:"url"`
	OpenAckTimeoutMs    int    `json:"openAckTimeoutMs" yaml:"openAckTimeoutMs"`
	ReconnectDelayMs    int    `json:"reconnectDelayMs" yaml:"reconnectDelayMs"`
	PingIntervalSeconds int    `json:"pingIntervalSeconds" yaml:"pingIntervalSeconds"` // 0 = no client heartbeat
}

func (r RealtimeConfig) OpenAckTimeout() time.Duration {
	return time.Duration(r.OpenAckTimeoutMs) * time.Millisecond
}

func (r RealtimeConfig) ReconnectDelay() time.Duration {
	return time.Duration(r.ReconnectDelayMs) * time.Millisecond
}

func (r RealtimeConfig) PingInterval() time.Duration {
	return time.Duration(r.PingIntervalSeconds) * time.Second
}

type ChatConfig struct {
	PageSize      int `json:"pageSize" yaml:"pageSize"`
	PreviewLength int `json:"previewLength" yaml:"previewLength"`
}

// StoreConfig selects where the credential pair is persisted.
type StoreConfig struct {
	Backend  string `json:"backend" yaml:"backend"` // "sqlite" | "redis" | "memory"
	DBPath   string `json:"dbPath" yaml:"dbPath"`
	RedisURL string `json:"redisUrl,omitempty" yaml:"redisUrl,omitempty"`
	RedisKey string `json:"redisKey,omitempty" yaml:"redisKey,omitempty"`
}

// ServerConfig configures the local status API.
type ServerConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.visadesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".visadesk"
	}
	return filepath.Join(home, ".visadesk")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	// A .env next to the working directory feeds ${VAR} expansion below.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if u, err := url.Parse(cfg.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, "api.baseUrl must be an http(s) URL")
	}
	if cfg.API.TimeoutSeconds < 1 {
		errs = append(errs, "api.timeoutSeconds must be >= 1")
	}

	if u, err := url.Parse(cfg.Realtime.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, "realtime.url must be a ws(s) URL")
	}
	if cfg.Realtime.OpenAckTimeoutMs < 100 {
		errs = append(errs, "realtime.openAckTimeoutMs must be >= 100")
	}
	if cfg.Realtime.ReconnectDelayMs < 100 {
		errs = append(errs, "realtime.reconnectDelayMs must be >= 100")
	}
	if cfg.Realtime.PingIntervalSeconds < 0 {
		errs = append(errs, "realtime.pingIntervalSeconds must be >= 0")
	}

	if cfg.Chat.PageSize < 1 || cfg.Chat.PageSize > 500 {
		errs = append(errs, "chat.pageSize must be between 1 and 500")
	}
	if cfg.Chat.PreviewLength < 1 {
		errs = append(errs, "chat.previewLength must be >= 1")
	}

	switch cfg.Store.Backend {
	case "sqlite":
		if cfg.Store.DBPath == "" {
			errs = append(errs, "store.dbPath is required for the sqlite backend")
		}
	case "redis":
		if cfg.Store.RedisURL == "" {
			errs = append(errs, "store.redisUrl is required for the redis backend")
		}
	case "memory":
	default:
		errs = append(errs, "store.backend must be one of: sqlite, redis, memory")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
