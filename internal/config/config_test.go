package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "healthcheck.yml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HEALTHCHECK_LOG_LEVEL", "HEALTHCHECK_LOG_FORMAT", LogTargetEnv,
		"HEALTHCHECK_LOG_FILE", "HEALTHCHECK_REDIS_ADDR",
		"HEALTHCHECK_NODE_ID", "HEALTHCHECK_NODE_IP",
		"HEALTHCHECK_REGISTRY_ADDRESS", "HEALTHCHECK_REGISTRY_TOKEN",
		"HEALTHCHECK_PLATFORM_URL", "HEALTHCHECK_PLATFORM_TOKEN", "HEALTHCHECK_PLATFORM_INSECURE",
		"HEALTHCHECK_CACHE_PATH", "HEALTHCHECK_LOCK_DIR",
		"HEALTHCHECK_WORKER_COUNT", "HEALTHCHECK_ADDONS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

const minimalYAML = `
node:
  id: "a1b2c3"
  ip: "10.100.1.11"
`

const fullYAML = `
log_level: "debug"
log_format: "json"
log_target: "file"
log_file: "/var/log/ovs/healthcheck.log"

node:
  id: "a1b2c3"
  ip: "10.100.1.11"
  hostname: "ovs-node-1"

registry:
  address: "10.100.1.11:8500"
  token: "consul-token"
  root: "ovs"
  consensus: "arakoon"
  storage: "alba"
  framework: "framework"
  lock_wait: "2s"

platform:
  url: "https://10.100.1.11/api"
  token: "platform-token"
  insecure: true

rabbitmq:
  url: "http://10.100.1.11:15672"
  user: "ovs"
  password: "secret"

ssh:
  user: "ovs"
  key_path: "/home/ovs/.ssh/id_ed25519"
  connect_timeout: "3s"

cache_path: "/tmp/hc/cache.db"
lock_dir: "/tmp/hc/locks"
bootstrap_config: "/tmp/cacc.ini"

tools:
  arakoon: "/usr/bin/arakoon"
  alba: "/usr/bin/alba"

thresholds:
  max_transactions_behind: 20
  min_tlx_amount: 5
  max_collapse_age: "48h"
  fd_limit: 40
  fd_warning_pct: 70
  fd_critical_pct: 90
  worker_count: 4
  integrity_timeout: "15s"
  namespace_timeout: "45s"
  info_volume_timeout: "3s"
  critical_vol_number: 10
  celery_timeout: "9s"
  max_log_size_mb: 100

addons: ["alba"]

probes:
  packages: ["alba"]
  services: ["ovs-workers"]
  dns_names: ["example.com"]
  directories:
    - path: "/opt/OpenvStorage"
      mode: "0750"
`

func TestLoad_FromYAML(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, fullYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "file", cfg.LogTarget)
	assert.Equal(t, "/var/log/ovs/healthcheck.log", cfg.LogFile)

	assert.Equal(t, "a1b2c3", cfg.Node.ID)
	assert.Equal(t, "10.100.1.11", cfg.Node.IP)
	assert.Equal(t, "ovs-node-1", cfg.Node.Hostname)

	assert.Equal(t, "10.100.1.11:8500", cfg.Registry.Address)
	assert.Equal(t, "consul-token", cfg.Registry.Token)
	assert.Equal(t, 2*time.Second, cfg.Registry.LockWait.Duration)

	assert.Equal(t, "https://10.100.1.11/api", cfg.Platform.URL)
	assert.True(t, cfg.Platform.Insecure)
	assert.Equal(t, "ovs", cfg.RabbitMQ.User)

	assert.Equal(t, "ovs", cfg.SSH.User)
	assert.Equal(t, 3*time.Second, cfg.SSH.ConnectTimeout.Duration)

	assert.Equal(t, "/tmp/hc/cache.db", cfg.CachePath)
	assert.Equal(t, "/tmp/hc/locks", cfg.LockDir)
	assert.Equal(t, "/tmp/cacc.ini", cfg.BootstrapConfig)
	assert.Equal(t, "/usr/bin/arakoon", cfg.Tools.Arakoon)

	th := cfg.Thresholds
	assert.Equal(t, 20, th.MaxTransactionsBehind)
	assert.Equal(t, 5, th.MinTlxAmount)
	assert.Equal(t, 48*time.Hour, th.MaxCollapseAge.Duration)
	assert.Equal(t, 40, th.FDLimit)
	assert.Equal(t, 70, th.FDWarningPct)
	assert.Equal(t, 90, th.FDCriticalPct)
	assert.Equal(t, 4, th.WorkerCount)
	assert.Equal(t, 15*time.Second, th.IntegrityTimeout.Duration)
	assert.Equal(t, 45*time.Second, th.NamespaceTimeout.Duration)
	assert.Equal(t, 3*time.Second, th.InfoVolumeTimeout.Duration)
	assert.Equal(t, 10, th.CriticalVolNumber)
	assert.Equal(t, 9*time.Second, th.CeleryTimeout.Duration)
	assert.Equal(t, int64(100), th.MaxLogSizeMB)

	assert.Equal(t, []string{"alba"}, cfg.Addons)
	require.Len(t, cfg.Probes.Directories, 1)
	assert.Equal(t, "0750", cfg.Probes.Directories[0].Mode)
}

func TestLoad_FileNotFound(t *testing.T) {
	clearEnv(t)
	_, err := Load("/nonexistent/path/healthcheck.yml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigFileNotFound)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, minimalYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogTarget)
	assert.Equal(t, "ovs", cfg.Registry.Root)
	assert.Equal(t, "arakoon", cfg.Registry.Consensus)
	assert.Equal(t, "alba", cfg.Registry.Storage)
	assert.Equal(t, "framework", cfg.Registry.Framework)
	assert.NotEmpty(t, cfg.Node.Hostname)

	th := cfg.Thresholds
	assert.Equal(t, 10, th.MaxTransactionsBehind)
	assert.Equal(t, 10, th.MinTlxAmount)
	assert.Equal(t, 72*time.Hour, th.MaxCollapseAge.Duration)
	assert.Equal(t, 30, th.FDLimit)
	assert.Equal(t, 80, th.FDWarningPct)
	assert.Equal(t, 95, th.FDCriticalPct)
	assert.Equal(t, 10, th.WorkerCount)
	assert.Equal(t, 10*time.Second, th.IntegrityTimeout.Duration)
	assert.Equal(t, 30*time.Second, th.NamespaceTimeout.Duration)
	assert.Equal(t, 5*time.Second, th.InfoVolumeTimeout.Duration)
	assert.Equal(t, 25, th.CriticalVolNumber)
	assert.Equal(t, 7*time.Second, th.CeleryTimeout.Duration)
	assert.Equal(t, int64(500), th.MaxLogSizeMB)
	assert.Equal(t, 5*time.Second, cfg.SSH.ConnectTimeout.Duration)
}

func TestLoad_EnvVarSubstitution(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONSUL_TOKEN", "from-env")

	path := writeYAML(t, minimalYAML+`
registry:
  address: "127.0.0.1:8500"
  token: "${CONSUL_TOKEN}"
  root: "ovs"
  consensus: "arakoon"
  storage: "alba"
  framework: "framework"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Registry.Token)
}

func TestLoad_EnvVarSubstitution_Unset(t *testing.T) {
	clearEnv(t)

	path := writeYAML(t, `
node:
  id: "${NODE_ID_NOT_SET}"
  ip: "10.0.0.1"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node.id is required")
}

func TestLoad_FromEnvVars(t *testing.T) {
	clearEnv(t)

	t.Setenv("HEALTHCHECK_NODE_ID", "envnode")
	t.Setenv("HEALTHCHECK_NODE_IP", "10.0.0.9")
	t.Setenv("HEALTHCHECK_LOG_LEVEL", "warn")
	t.Setenv("HEALTHCHECK_PLATFORM_URL", "https://10.0.0.9/api")
	t.Setenv("HEALTHCHECK_PLATFORM_INSECURE", "1")
	t.Setenv("HEALTHCHECK_WORKER_COUNT", "3")
	t.Setenv("HEALTHCHECK_ADDONS", "alba,iscsi")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "envnode", cfg.Node.ID)
	assert.Equal(t, "10.0.0.9", cfg.Node.IP)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "https://10.0.0.9/api", cfg.Platform.URL)
	assert.True(t, cfg.Platform.Insecure)
	assert.Equal(t, 3, cfg.Thresholds.WorkerCount)
	assert.Equal(t, []string{"alba", "iscsi"}, cfg.Addons)
}

func TestLoad_LogTargetEnvWins(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, fullYAML)
	t.Setenv(LogTargetEnv, "console")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.LogTarget)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "log_level must be one of",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.LogFormat = "yaml" },
			wantErr: "log_format must be one of",
		},
		{
			name:    "invalid log target",
			mutate:  func(c *Config) { c.LogTarget = "syslog" },
			wantErr: "log_target must be one of",
		},
		{
			name:    "file target without file",
			mutate:  func(c *Config) { c.LogTarget = "file" },
			wantErr: "log_file is required",
		},
		{
			name:    "redis target without addr",
			mutate:  func(c *Config) { c.LogTarget = "redis" },
			wantErr: "redis.addr is required",
		},
		{
			name:    "missing node id",
			mutate:  func(c *Config) { c.Node.ID = "" },
			wantErr: "node.id is required",
		},
		{
			name:    "missing node ip",
			mutate:  func(c *Config) { c.Node.IP = "" },
			wantErr: "node.ip is required",
		},
		{
			name:    "missing registry address",
			mutate:  func(c *Config) { c.Registry.Address = "" },
			wantErr: "registry.address is required",
		},
		{
			name:    "missing registry root",
			mutate:  func(c *Config) { c.Registry.Root = "" },
			wantErr: "registry: root",
		},
		{
			name:    "missing platform url",
			mutate:  func(c *Config) { c.Platform.URL = "" },
			wantErr: "platform.url is required",
		},
		{
			name:    "worker count zero",
			mutate:  func(c *Config) { c.Thresholds.WorkerCount = 0 },
			wantErr: "worker_count must be >= 1",
		},
		{
			name:    "fd percentages inverted",
			mutate:  func(c *Config) { c.Thresholds.FDWarningPct = 96 },
			wantErr: "fd_warning_pct < fd_critical_pct",
		},
		{
			name:    "zero integrity timeout",
			mutate:  func(c *Config) { c.Thresholds.IntegrityTimeout = Duration{} },
			wantErr: "integrity_timeout must be > 0",
		},
		{
			name: "bad directory mode",
			mutate: func(c *Config) {
				c.Probes.Directories = []DirectoryConfig{{Path: "/x", Mode: "rwx"}}
			},
			wantErr: "invalid mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, "{{invalid yaml")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, minimalYAML+`
thresholds:
  max_collapse_age: "three days"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestDuration_MarshalYAML(t *testing.T) {
	d := Duration{Duration: 5 * time.Minute}
	v, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "5m0s", v)
}

func TestLoad_ValidationFails(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, `log_level: "info"`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation")
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("HEALTHCHECK_NODE_ID", "n")
	t.Setenv("HEALTHCHECK_NODE_IP", "10.0.0.1")

	path := writeYAML(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "n", cfg.Node.ID)
}

func FuzzExpandEnvVars(f *testing.F) {
	f.Add([]byte(`log_level: "info"`))
	f.Add([]byte(`token: "${MY_SECRET}"`))
	f.Add([]byte(`${} ${VAR} $VAR`))
	f.Add([]byte(`token: "${A}${B}"`))
	f.Fuzz(func(t *testing.T, data []byte) {
		// Must not panic
		_ = expandEnvVars(data)
	})
}

// validConfig returns a minimal valid Config for mutation in tests.
func validConfig() *Config {
	cfg := defaults()
	cfg.Node = NodeConfig{ID: "a1b2c3", IP: "10.100.1.11", Hostname: "ovs-node-1"}
	return cfg
}
