package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobboard-crawler/internal/storage/local"
)

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "exports", "csv")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		require.DirExists(t, dir)
	})

	t.Run("requires base dir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: "  "})
		require.ErrorContains(t, err, "base_dir is required")
	})

	t.Run("rejects a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "not-a-dir")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	csv := "role_page_url,founder_name\nhttps://jobs.example.com/r/1,Ada\n"
	uri, err := store.PutObject(ctx, "jobs/job-1/dataset.csv", "text/csv", strings.NewReader(csv))
	require.NoError(t, err)
	want := filepath.Join(dir, "jobs", "job-1", "dataset.csv")
	require.Equal(t, "file://"+want, uri)

	// #nosec G304 -- test reads from its own temp directory.
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	require.Equal(t, csv, string(got))

	// Overwrites replace the previous export.
	_, err = store.PutObject(ctx, "jobs/job-1/dataset.csv", "text/csv", strings.NewReader("v2"))
	require.NoError(t, err)
	// #nosec G304 -- test reads from its own temp directory.
	got, err = os.ReadFile(want)
	require.NoError(t, err)
	require.Equal(t, "v2", string(got))

	entries, err := os.ReadDir(filepath.Dir(want))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, path := range []string{"", "../escape.csv", "a/../../escape.csv", "/etc/passwd"} {
		_, err := store.PutObject(context.Background(), path, "text/csv", strings.NewReader("x"))
		require.Error(t, err, path)
	}
}

func TestPutObjectFailedWriteLeavesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "jobs/x.json", "application/json", brokenReader{})
	require.ErrorContains(t, err, "disk gone")

	entries, err := os.ReadDir(filepath.Join(dir, "jobs"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPutObjectHonoursCancel(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.PutObject(ctx, "jobs/x.csv", "text/csv", strings.NewReader("x"))
	require.ErrorIs(t, err, context.Canceled)
}
