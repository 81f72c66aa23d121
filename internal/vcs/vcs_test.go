package vcs

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodu-ai/kodu/internal/store"
)

func newTestIO(t *testing.T) *store.IOManager {
	t.Helper()
	queue := store.NewWriteQueue(5 * time.Millisecond)
	t.Cleanup(queue.Close)
	return store.NewIOManager(t.TempDir(), "task-1", queue)
}

func gitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

func TestGitInitAndMilestoneCommit(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	g := NewGit(dir)

	assert.False(t, g.IsRepo())
	require.NoError(t, g.Init())
	assert.True(t, g.IsRepo())
	// Init on an existing repo is a no-op.
	require.NoError(t, g.Init())

	configCmd := exec.Command("git", "config", "user.email", "test@example.com")
	configCmd.Dir = dir
	require.NoError(t, configCmd.Run())
	configCmd = exec.Command("git", "config", "user.name", "Test")
	configCmd.Dir = dir
	require.NoError(t, configCmd.Run())

	// Clean tree commits nothing and does not error.
	require.NoError(t, g.CommitOnMilestone("empty milestone"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, g.CommitOnMilestone("added main"))

	logCmd := exec.Command("git", "log", "--oneline")
	logCmd.Dir = dir
	out, err := logCmd.Output()
	require.NoError(t, err)
	assert.Contains(t, string(out), "added main")
}

func TestWatcherRecordsVersionsOnChange(t *testing.T) {
	workDir := t.TempDir()
	ioman := newTestIO(t)

	target := filepath.Join(workDir, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	w, err := NewWatcher(workDir, ioman, nil, func() int64 { return 1000 })
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	w.Start()

	require.NoError(t, w.Track("notes.txt"))
	assert.Equal(t, 1, w.Versions("notes.txt"))

	require.NoError(t, os.WriteFile(target, []byte("v2 content"), 0o644))

	require.Eventually(t, func() bool {
		return w.Versions("notes.txt") == 2
	}, 2*time.Second, 10*time.Millisecond)

	versions, err := ioman.GetFileVersions("notes.txt")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v1", versions[0].Content)
	assert.Equal(t, "v2 content", versions[1].Content)
}

func TestWatcherIgnoresUntrackedFiles(t *testing.T) {
	workDir := t.TempDir()
	ioman := newTestIO(t)

	w, err := NewWatcher(workDir, ioman, nil, func() int64 { return 1 })
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	w.Start()

	require.NoError(t, os.WriteFile(filepath.Join(workDir, "stray.txt"), []byte("x"), 0o644))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, w.Versions("stray.txt"))
	files, err := ioman.GetFilesInTaskDirectory()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDiffSummary(t *testing.T) {
	assert.Equal(t, "+0/-0", DiffSummary("same", "same"))
	assert.Equal(t, "+3/-0", DiffSummary("ab", "abxyz"))

	summary := DiffSummary("hello world", "hello brave world")
	assert.Equal(t, "+6/-0", summary)
}
