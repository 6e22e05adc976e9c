package darklib

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReportsNewDarkFrame(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	w, err := New(dir, log)
	require.NoError(t, err)
	defer w.Stop()

	target := filepath.Join(dir, "master_dark_300s.fits")
	require.NoError(t, os.WriteFile(target, []byte("fake fits"), 0o644))

	select {
	case ev := <-w.Events:
		require.Equal(t, target, ev.Path)
		require.Contains(t, []string{"added", "modified"}, ev.Operation)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dark-frame event")
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	w, err := New(dir, log)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))

	select {
	case ev := <-w.Events:
		t.Fatalf("unexpected event for non-dark file: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestIsDarkFrame(t *testing.T) {
	require.True(t, isDarkFrame("/darks/master_dark.fits"))
	require.True(t, isDarkFrame("/darks/bias.TIFF"))
	require.False(t, isDarkFrame("/darks/readme.txt"))
}
