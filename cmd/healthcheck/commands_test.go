package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/healthcheck/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(args)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func missingConfig(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.yml")
}

func TestConfigFlag(t *testing.T) {
	assert.Equal(t, "/tmp/a.yml", configFlag([]string{"--config", "/tmp/a.yml", "list"}))
	assert.Equal(t, "/tmp/b.yml", configFlag([]string{"arakoon", "--config=/tmp/b.yml"}))
	assert.Equal(t, config.DefaultPath, configFlag([]string{"list"}))
	assert.Equal(t, config.DefaultPath, configFlag([]string{"--", "--config", "x"}))
}

func TestNewApp_RegistersEveryModule(t *testing.T) {
	a := newApp(nil, nil)
	assert.Equal(t, []string{"alba", "arakoon", "ovs", "volumedriver"}, a.reg.Modules())
	for _, name := range []string{"nodes-test", "integrity-test", "collapse-test"} {
		_, err := a.reg.Lookup("arakoon", name)
		assert.NoError(t, err, name)
	}
	_, err := a.reg.Lookup("volumedriver", "halted-volumes-test")
	assert.NoError(t, err)
	_, err = a.reg.Lookup("ovs", "node-ports-test")
	assert.NoError(t, err)
}

func TestNewApp_ThresholdsBecomeDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Thresholds.MaxTransactionsBehind = 42
	a := newApp(cfg, nil)
	c, err := a.reg.Lookup("arakoon", "nodes-test")
	require.NoError(t, err)
	require.Len(t, c.Options, 1)
	assert.Equal(t, "42", c.Options[0].Default)
}

func TestListWithoutConfig(t *testing.T) {
	out, err := execute(t, "--config", missingConfig(t), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "nodes-test")
	assert.Contains(t, out, "halted-volumes-test")
	assert.Contains(t, out, "--max-transactions-behind=10")
}

func TestCodes(t *testing.T) {
	out, err := execute(t, "codes")
	require.NoError(t, err)
	assert.Contains(t, out, "VOL0203")
	assert.Contains(t, out, "volume_fenced_halted")
}

func TestUnknownModuleOrTestFails(t *testing.T) {
	_, err := execute(t, "--config", missingConfig(t), "nope")
	assert.Error(t, err)

	_, err = execute(t, "--config", missingConfig(t), "arakoon", "nope-test")
	assert.Error(t, err)
}

func TestUnknownOptionFails(t *testing.T) {
	_, err := execute(t, "--config", missingConfig(t), "arakoon", "nodes-test", "--bogus", "1")
	assert.Error(t, err)
}

func TestRunWithBadConfigFails(t *testing.T) {
	out, err := execute(t, "--config", missingConfig(t), "arakoon", "nodes-test")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfigFileNotFound)
	assert.Contains(t, out, "config file not found")
}
