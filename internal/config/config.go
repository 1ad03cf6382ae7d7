// Package config handles loading and validating healthcheck configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for its configuration file.
const DefaultPath = "/etc/healthcheck/healthcheck.yml"

// LogTargetEnv forces the log sink regardless of the configuration file.
const LogTargetEnv = "HEALTHCHECK_LOG_TARGET"

// envVarPattern matches ${VAR_NAME} placeholders in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ErrConfigFileNotFound is returned by Load when the specified config file does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// Config is the top-level healthcheck configuration.
type Config struct {
	LogLevel        string         `yaml:"log_level"`
	LogFormat       string         `yaml:"log_format"`
	LogTarget       string         `yaml:"log_target"` // console, file or redis
	LogFile         string         `yaml:"log_file"`
	Redis           RedisConfig    `yaml:"redis"`
	Node            NodeConfig     `yaml:"node"`
	Registry        RegistryConfig `yaml:"registry"`
	Platform        PlatformConfig `yaml:"platform"`
	RabbitMQ        RabbitMQConfig `yaml:"rabbitmq"`
	SSH             SSHConfig      `yaml:"ssh"`
	CachePath       string         `yaml:"cache_path"`
	LockDir         string         `yaml:"lock_dir"`
	BootstrapConfig string         `yaml:"bootstrap_config"`
	Tools           ToolsConfig    `yaml:"tools"`
	Thresholds      Thresholds     `yaml:"thresholds"`
	Addons          []string       `yaml:"addons"`
	Probes          ProbesConfig   `yaml:"probes"`
}

// RedisConfig describes the redis log sink.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Key      string `yaml:"key"`
}

// NodeConfig identifies the node the tool runs on.
type NodeConfig struct {
	ID       string `yaml:"id"`
	IP       string `yaml:"ip"`
	Hostname string `yaml:"hostname"`
}

// RegistryConfig describes the configuration registry and its key layout.
type RegistryConfig struct {
	Address   string   `yaml:"address"`
	Token     string   `yaml:"token"`
	Root      string   `yaml:"root"`
	Consensus string   `yaml:"consensus"`
	Storage   string   `yaml:"storage"`
	Framework string   `yaml:"framework"`
	LockWait  Duration `yaml:"lock_wait"`
}

// PlatformConfig describes the platform data-model API.
type PlatformConfig struct {
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	Insecure bool   `yaml:"insecure"`
}

// RabbitMQConfig describes the message-bus management API.
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// SSHConfig describes SSH access to the other cluster nodes.
type SSHConfig struct {
	User           string   `yaml:"user"`
	KeyPath        string   `yaml:"key_path"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// ToolsConfig names the external command-line clients.
type ToolsConfig struct {
	Arakoon string `yaml:"arakoon"`
	Alba    string `yaml:"alba"`
}

// Thresholds holds the tunables of the individual checks.
type Thresholds struct {
	MaxTransactionsBehind int      `yaml:"max_transactions_behind"`
	MinTlxAmount          int      `yaml:"min_tlx_amount"`
	MaxCollapseAge        Duration `yaml:"max_collapse_age"`
	FDLimit               int      `yaml:"fd_limit"`
	FDWarningPct          int      `yaml:"fd_warning_pct"`
	FDCriticalPct         int      `yaml:"fd_critical_pct"`
	WorkerCount           int      `yaml:"worker_count"`
	IntegrityTimeout      Duration `yaml:"integrity_timeout"`
	NamespaceTimeout      Duration `yaml:"namespace_timeout"`
	InfoVolumeTimeout     Duration `yaml:"info_volume_timeout"`
	CriticalVolNumber     int      `yaml:"critical_vol_number"`
	CeleryTimeout         Duration `yaml:"celery_timeout"`
	MaxLogSizeMB          int64    `yaml:"max_log_size_mb"`
}

// ProbesConfig lists what the single-host probes inspect.
type ProbesConfig struct {
	Packages    []string          `yaml:"packages"`
	Services    []string          `yaml:"services"`
	LogDirs     []string          `yaml:"log_dirs"`
	Directories []DirectoryConfig `yaml:"directories"`
	DNSNames    []string          `yaml:"dns_names"`
}

// DirectoryConfig is an expected directory and its permission bits.
type DirectoryConfig struct {
	Path string `yaml:"path"`
	Mode string `yaml:"mode"` // octal, e.g. "0755"
}

// Duration wraps time.Duration with YAML string parsing support.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads configuration from a YAML file. An empty path skips the file and
// relies on defaults plus environment variables. If a path is given and the
// file does not exist, ErrConfigFileNotFound is returned.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	fillNode(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of: text, json")
	}
	switch c.LogTarget {
	case "console":
	case "file":
		if c.LogFile == "" {
			return fmt.Errorf("log_file is required for log_target file")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for log_target redis")
		}
	default:
		return fmt.Errorf("log_target must be one of: console, file, redis")
	}

	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.Node.IP == "" {
		return fmt.Errorf("node.ip is required")
	}
	if c.Registry.Address == "" {
		return fmt.Errorf("registry.address is required")
	}
	if c.Registry.Root == "" || c.Registry.Consensus == "" || c.Registry.Storage == "" || c.Registry.Framework == "" {
		return fmt.Errorf("registry: root, consensus, storage and framework must be set")
	}
	if c.Platform.URL == "" {
		return fmt.Errorf("platform.url is required")
	}
	if _, err := url.Parse(c.Platform.URL); err != nil {
		return fmt.Errorf("platform: invalid url: %w", err)
	}
	if c.RabbitMQ.URL != "" {
		if _, err := url.Parse(c.RabbitMQ.URL); err != nil {
			return fmt.Errorf("rabbitmq: invalid url: %w", err)
		}
	}
	if c.CachePath == "" {
		return fmt.Errorf("cache_path is required")
	}
	if c.LockDir == "" {
		return fmt.Errorf("lock_dir is required")
	}

	t := c.Thresholds
	if t.WorkerCount < 1 {
		return fmt.Errorf("thresholds.worker_count must be >= 1")
	}
	if t.MaxTransactionsBehind < 0 {
		return fmt.Errorf("thresholds.max_transactions_behind must be >= 0")
	}
	if t.MinTlxAmount < 0 {
		return fmt.Errorf("thresholds.min_tlx_amount must be >= 0")
	}
	if t.FDLimit < 1 {
		return fmt.Errorf("thresholds.fd_limit must be >= 1")
	}
	if t.FDWarningPct <= 0 || t.FDWarningPct >= t.FDCriticalPct || t.FDCriticalPct > 100 {
		return fmt.Errorf("thresholds: need 0 < fd_warning_pct < fd_critical_pct <= 100")
	}
	for name, d := range map[string]Duration{
		"max_collapse_age":    t.MaxCollapseAge,
		"integrity_timeout":   t.IntegrityTimeout,
		"namespace_timeout":   t.NamespaceTimeout,
		"info_volume_timeout": t.InfoVolumeTimeout,
		"celery_timeout":      t.CeleryTimeout,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("thresholds.%s must be > 0", name)
		}
	}
	if t.CriticalVolNumber < 1 {
		return fmt.Errorf("thresholds.critical_vol_number must be >= 1")
	}
	for i, d := range c.Probes.Directories {
		if d.Path == "" {
			return fmt.Errorf("probes.directories[%d]: path is required", i)
		}
		if _, err := strconv.ParseUint(d.Mode, 8, 32); err != nil {
			return fmt.Errorf("probes.directories[%d]: invalid mode %q", i, d.Mode)
		}
	}
	return nil
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config { return defaults() }

func defaults() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		LogTarget: "console",
		Redis:     RedisConfig{Key: "healthcheck:log"},
		Registry: RegistryConfig{
			Address:   "127.0.0.1:8500",
			Root:      "ovs",
			Consensus: "arakoon",
			Storage:   "alba",
			Framework: "framework",
			LockWait:  Duration{5 * time.Second},
		},
		Platform:        PlatformConfig{URL: "https://127.0.0.1/api"},
		RabbitMQ:        RabbitMQConfig{URL: "http://127.0.0.1:15672", User: "guest", Password: "guest"},
		SSH:             SSHConfig{User: "root", KeyPath: "/root/.ssh/id_rsa", ConnectTimeout: Duration{5 * time.Second}},
		CachePath:       "/var/cache/healthcheck/cache.db",
		LockDir:         "/var/lock/healthcheck",
		BootstrapConfig: "/opt/OpenvStorage/config/arakoon_cacc.ini",
		Tools:           ToolsConfig{Arakoon: "arakoon", Alba: "alba"},
		Thresholds: Thresholds{
			MaxTransactionsBehind: 10,
			MinTlxAmount:          10,
			MaxCollapseAge:        Duration{72 * time.Hour},
			FDLimit:               30,
			FDWarningPct:          80,
			FDCriticalPct:         95,
			WorkerCount:           10,
			IntegrityTimeout:      Duration{10 * time.Second},
			NamespaceTimeout:      Duration{30 * time.Second},
			InfoVolumeTimeout:     Duration{5 * time.Second},
			CriticalVolNumber:     25,
			CeleryTimeout:         Duration{7 * time.Second},
			MaxLogSizeMB:          500,
		},
		Probes: ProbesConfig{
			Packages: []string{"openvstorage", "alba", "arakoon", "volumedriver-no-dedup-server"},
			Services: []string{"ovs-workers", "ovs-watcher-framework", "memcached", "rabbitmq-server"},
			LogDirs:  []string{"/var/log/ovs", "/var/log/arakoon"},
			Directories: []DirectoryConfig{
				{Path: "/opt/OpenvStorage", Mode: "0755"},
				{Path: "/var/log/ovs", Mode: "0755"},
			},
			DNSNames: []string{"google.com"},
		},
	}
}

// fillNode auto-detects the hostname when it is not configured.
func fillNode(cfg *Config) {
	if cfg.Node.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Node.Hostname = h
		}
	}
}

// expandEnvVars replaces ${VAR_NAME} placeholders in raw YAML with the
// corresponding environment variable values. Unset variables are replaced
// with an empty string, which will then fail validation with a clear error.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		key := string(match[2 : len(match)-1]) // strip ${ and }
		return []byte(os.Getenv(key))
	})
}

func applyEnvOverrides(cfg *Config) {
	str := map[string]*string{
		"HEALTHCHECK_LOG_LEVEL":        &cfg.LogLevel,
		"HEALTHCHECK_LOG_FORMAT":       &cfg.LogFormat,
		LogTargetEnv:                   &cfg.LogTarget,
		"HEALTHCHECK_LOG_FILE":         &cfg.LogFile,
		"HEALTHCHECK_REDIS_ADDR":       &cfg.Redis.Addr,
		"HEALTHCHECK_NODE_ID":          &cfg.Node.ID,
		"HEALTHCHECK_NODE_IP":          &cfg.Node.IP,
		"HEALTHCHECK_REGISTRY_ADDRESS": &cfg.Registry.Address,
		"HEALTHCHECK_REGISTRY_TOKEN":   &cfg.Registry.Token,
		"HEALTHCHECK_PLATFORM_URL":     &cfg.Platform.URL,
		"HEALTHCHECK_PLATFORM_TOKEN":   &cfg.Platform.Token,
		"HEALTHCHECK_CACHE_PATH":       &cfg.CachePath,
		"HEALTHCHECK_LOCK_DIR":         &cfg.LockDir,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("HEALTHCHECK_PLATFORM_INSECURE"); v != "" {
		cfg.Platform.Insecure = v == "true" || v == "1"
	}
	if v := os.Getenv("HEALTHCHECK_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Thresholds.WorkerCount = n
		}
	}
	if v := os.Getenv("HEALTHCHECK_ADDONS"); v != "" {
		cfg.Addons = strings.Split(v, ",")
	}
}
