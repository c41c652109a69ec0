package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinindex/twinindex/pkg/types"
)

func setupWatcher(t *testing.T) (string, *Watcher) {
	t.Helper()
	dir := t.TempDir()
	w, err := New(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return dir, w
}

func nextChange(t *testing.T, w *Watcher) types.FileChange {
	t.Helper()
	select {
	case change := <-w.Events():
		return change
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
		return types.FileChange{}
	}
}

func TestWatcherReportsCreation(t *testing.T) {
	dir, w := setupWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))

	change := nextChange(t, w)
	assert.Equal(t, "main.go", change.Path)
	assert.Equal(t, types.ChangeCreated, change.Kind)
}

func TestWatcherReportsModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))

	w, err := New(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o644))

	change := nextChange(t, w)
	assert.Equal(t, "main.go", change.Path)
	assert.Equal(t, types.ChangeModified, change.Kind)
}

func TestWatcherReportsDeletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.go")
	require.NoError(t, os.WriteFile(path, []byte("package gone\n"), 0o644))

	w, err := New(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.Remove(path))

	change := nextChange(t, w)
	assert.Equal(t, "gone.go", change.Path)
	assert.Equal(t, types.ChangeDeleted, change.Kind)
}

func TestWatcherIgnoresContentPreservingWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "same.go")
	content := []byte("package same\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	w, err := New(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	// Rewrite identical bytes. The hash filter should swallow the event.
	require.NoError(t, os.WriteFile(path, content, 0o644))

	select {
	case change := <-w.Events():
		t.Fatalf("unexpected change event: %+v", change)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	dir, w := setupWatcher(t)

	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// Directory registration races with the file write, so retry briefly.
	require.Eventually(t, func() bool {
		path := filepath.Join(sub, "util.go")
		if err := os.WriteFile(path, []byte("package pkg\n"), 0o644); err != nil {
			return false
		}
		select {
		case change := <-w.Events():
			return change.Path == "pkg/util.go" && change.Kind == types.ChangeCreated
		case <-time.After(200 * time.Millisecond):
			_ = os.Remove(path)
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
}

func TestWatcherSkipsHiddenDirectories(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".git")
	require.NoError(t, os.Mkdir(hidden, 0o755))

	w, err := New(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(filepath.Join(hidden, "index"), []byte("x"), 0o644))

	select {
	case change := <-w.Events():
		t.Fatalf("unexpected change event from hidden directory: %+v", change)
	case <-time.After(500 * time.Millisecond):
	}
}
