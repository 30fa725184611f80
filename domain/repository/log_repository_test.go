package repository_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/repository"
)

func TestFileLogRepositoryLines(t *testing.T) {
	dir := t.TempDir()
	content := `2026-01-01T00:00:00Z info boot
2026-01-01T00:05:00Z error timeout
  at stack frame
2026-01-01T00:09:59Z warn slow
2026-01-01T00:10:00Z error late
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte(content), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("2026-01-01T00:05:00Z ignored\n"), 0o600))

	r := repository.NewFileLogRepository()
	since := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	lines, err := r.Lines(context.Background(), entity.MonitoredSource{Name: "app", Path: filepath.Join(dir, "*.log")}, since, since.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2026-01-01T00:05:00Z error timeout",
		"  at stack frame",
		"2026-01-01T00:09:59Z warn slow",
	}, lines)
}

func TestFileLogRepositoryCustomLayout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("2026/01/01 00:01:00 error x\n"), 0o600))

	r := repository.NewFileLogRepository()
	src := entity.MonitoredSource{Name: "app", Path: filepath.Join(dir, "app.log"), TimestampLayout: "2006/01/02 15:04:05"}
	lines, err := r.Lines(context.Background(), src, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, lines, 1)

	_, err = r.Lines(context.Background(), entity.MonitoredSource{Name: "none"}, time.Now(), time.Now())
	assert.Error(t, err)
}
