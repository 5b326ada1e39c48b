package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_transportLostTakesPriority(t *testing.T) {
	a := &Adapter{}
	outcome := a.classify(nil, "ERROR: [generic] device not configured")
	assert.Equal(t, TransportLost, outcome)
}

func TestClassify_alreadyArchivedRegardlessOfExitCode(t *testing.T) {
	a := &Adapter{}
	outcome := a.classify(assertErr(), "video.mp4 has already been recorded in the archive")
	assert.Equal(t, AlreadyArchived, outcome)
}

func TestClassify_softFailOnNonZeroExit(t *testing.T) {
	a := &Adapter{}
	outcome := a.classify(assertErr(), "ERROR: Unsupported URL")
	assert.Equal(t, SoftFailed, outcome)
}

func TestClassify_successOnCleanExit(t *testing.T) {
	a := &Adapter{}
	outcome := a.classify(nil, "[download] 100% of 12.00MiB")
	assert.Equal(t, Downloaded, outcome)
}

func TestFetch_noNewFilesIsAlreadyArchived(t *testing.T) {
	scratchRoot := t.TempDir()
	inbox := t.TempDir()

	a := &Adapter{
		DownloaderPath: "true", // succeeds, produces nothing
		RsyncPath:      "true",
		ScratchRoot:    scratchRoot,
	}

	outcome, err := a.Fetch(context.Background(), Request{
		URL:             "https://example.invalid/video",
		RemoteInbox:     inbox,
		ArchiveFilePath: filepath.Join(inbox, "download_archive.txt"),
	})
	require.NoError(t, err)
	assert.Equal(t, AlreadyArchived, outcome)

	entries, err := os.ReadDir(scratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory must be cleaned up")
}

func TestFetch_downloaderFailureIsSoftFailed(t *testing.T) {
	scratchRoot := t.TempDir()
	inbox := t.TempDir()

	a := &Adapter{
		DownloaderPath: "false",
		RsyncPath:      "true",
		ScratchRoot:    scratchRoot,
	}

	outcome, err := a.Fetch(context.Background(), Request{
		URL:         "https://example.invalid/video",
		RemoteInbox: inbox,
	})
	require.Error(t, err)
	assert.Equal(t, SoftFailed, outcome)
}

func assertErr() error {
	return &exitStub{}
}

type exitStub struct{}

func (e *exitStub) Error() string { return "exit status 1" }
