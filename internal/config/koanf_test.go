// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVParserUnmarshal(t *testing.T) {
	p := KVParser{}
	out, err := p.Unmarshal([]byte("STENTOR_REMOTE_HOST=worker.example.internal\n# comment\n\nharvesting_root=/data/harvest\n"))
	require.NoError(t, err)
	assert.Equal(t, "worker.example.internal", out["STENTOR_REMOTE_HOST"])
	assert.Equal(t, "/data/harvest", out["harvesting_root"])
}

func TestKVParserUnmarshalMalformed(t *testing.T) {
	p := KVParser{}
	_, err := p.Unmarshal([]byte("nonsense-line-without-equals\n"))
	assert.Error(t, err)
}

func TestNewKoanfConfigFileOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stentor.conf")
	require.NoError(t, os.WriteFile(path, []byte("STENTOR_REMOTE_HOST=worker.example.internal\nharvesting_root=/data/harvest\n"), 0644))

	kc, err := NewKoanfConfig(WithConfigFile(path), WithEnvPrefix("STENTOR_TEST_KOANF"))
	require.NoError(t, err)

	cfg, err := kc.Load()
	require.NoError(t, err)
	assert.Equal(t, "worker.example.internal", cfg.RemoteHost)
	assert.Equal(t, "/data/harvest", cfg.HarvestingRoot)
}

func TestKoanfConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stentor.conf")
	require.NoError(t, os.WriteFile(path, []byte("STENTOR_REMOTE_HOST=from-file\n"), 0644))

	t.Setenv("STENTOR_TEST_ENV_REMOTE_HOST", "from-env")

	kc, err := NewKoanfConfig(WithConfigFile(path), WithEnvPrefix("STENTOR_TEST_ENV"))
	require.NoError(t, err)

	cfg, err := kc.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.RemoteHost)
}

func TestKoanfConfigReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stentor.conf")
	require.NoError(t, os.WriteFile(path, []byte("harvesting_root=/first\n"), 0644))

	kc, err := NewKoanfConfig(WithConfigFile(path), WithEnvPrefix("STENTOR_TEST_RELOAD"))
	require.NoError(t, err)

	cfg, err := kc.Load()
	require.NoError(t, err)
	assert.Equal(t, "/first", cfg.HarvestingRoot)

	require.NoError(t, os.WriteFile(path, []byte("harvesting_root=/second\n"), 0644))
	require.NoError(t, kc.Reload())

	cfg, err = kc.Load()
	require.NoError(t, err)
	assert.Equal(t, "/second", cfg.HarvestingRoot)
}

func TestWatchRequiresConfigFile(t *testing.T) {
	kc, err := NewKoanfConfig(WithEnvPrefix("STENTOR_TEST_WATCH"))
	require.NoError(t, err)
	err = kc.Watch(context.Background(), func(string, error) {})
	assert.Error(t, err)
}
