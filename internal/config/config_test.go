// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stentor.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadConfigRecognizedKeys(t *testing.T) {
	path := writeConfigFile(t, `
# client config
STENTOR_REMOTE_USER=worker
STENTOR_REMOTE_HOST=worker.example.internal
STENTOR_REMOTE_AUDIO_INBOX_DIR=/mnt/worker/inbox
LOCAL_MOUNT_POINT=/mnt/worker
STENTOR_VOLUME_NAME=WorkerShare
source_list_path=/home/op/content_sources.txt
downloader_path=/usr/local/bin/yt-dlp
rsync_path=/usr/bin/rsync
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "worker", cfg.RemoteUser)
	assert.Equal(t, "worker.example.internal", cfg.RemoteHost)
	assert.Equal(t, "/mnt/worker/inbox", cfg.RemoteAudioInboxDir)
	assert.Equal(t, "/mnt/worker", cfg.LocalMountPoint)
	assert.Equal(t, "WorkerShare", cfg.VolumeName)
	assert.Equal(t, "/home/op/content_sources.txt", cfg.SourceListPath)
	assert.Equal(t, "/usr/local/bin/yt-dlp", cfg.DownloaderPath)
	assert.Equal(t, "/usr/bin/rsync", cfg.RsyncPath)
}

func TestLoadConfigBlankAndCommentLinesIgnored(t *testing.T) {
	path := writeConfigFile(t, `
# a comment

   # indented comment
STENTOR_REMOTE_HOST=worker.example.internal

`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "worker.example.internal", cfg.RemoteHost)
}

func TestLoadConfigMalformedLine(t *testing.T) {
	path := writeConfigFile(t, "not_a_key_value_pair\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigListFields(t *testing.T) {
	path := writeConfigFile(t, `
models=whisper-large,whisper-base, whisper-tiny
inbox_extensions=.mp3,.wav
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"whisper-large", "whisper-base", "whisper-tiny"}, cfg.Models)
	assert.Equal(t, []string{".mp3", ".wav"}, cfg.InboxExtensions)
}

func TestLoadConfigDurationAndIntFields(t *testing.T) {
	path := writeConfigFile(t, `
timeout_multiplier=8
job_lock_timeout=3600
child_grace_timeout=30s
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.TimeoutMultiplier)
	assert.Equal(t, 3600*time.Second, cfg.JobLockTimeout)
	assert.Equal(t, 30*time.Second, cfg.ChildGraceTimeout)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.conf"))
	assert.Error(t, err)
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "download_archive.txt", cfg.ArchiveFileName)
	assert.Equal(t, 5, cfg.TimeoutMultiplier)
	assert.Equal(t, 7200*time.Second, cfg.JobLockTimeout)
	assert.Equal(t, 300*time.Second, cfg.QueueEngineLockTimeout)
}

func TestValidateRejectsNegativeTimeoutMultiplier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeoutMultiplier = -1
	assert.Error(t, cfg.Validate())
}

func TestRequireHarvestFields(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.RequireHarvestFields()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STENTOR_REMOTE_AUDIO_INBOX_DIR")

	cfg.RemoteAudioInboxDir = "/mnt/worker/inbox"
	cfg.SourceListPath = "/home/op/sources.txt"
	cfg.DownloaderPath = "/usr/bin/yt-dlp"
	cfg.RsyncPath = "/usr/bin/rsync"
	assert.NoError(t, cfg.RequireHarvestFields())
}

func TestRequireWorkerFields(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.RequireWorkerFields()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "harvesting_root")

	cfg.HarvestingRoot = "/var/lib/stentor/harvest"
	cfg.AudioToolPath = "/usr/bin/ffmpeg"
	cfg.STTBinaryPath = "/usr/local/bin/stt"
	assert.NoError(t, cfg.RequireWorkerFields())
}
