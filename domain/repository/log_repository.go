package repository

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pyama86/autoheal/domain/entity"
)

const maxLogLineBytes = 1024 * 1024

// ファイルに出力されたログを時刻で切り出す
type FileLogRepository struct{}

func NewFileLogRepository() *FileLogRepository {
	return &FileLogRepository{}
}

func leadingTimestamp(line, layout string) (time.Time, bool) {
	n := strings.Count(layout, " ") + 1
	fields := strings.SplitN(line, " ", n+1)
	if len(fields) < n {
		return time.Time{}, false
	}
	t, err := time.Parse(layout, strings.Join(fields[:n], " "))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Lines は since <= t < until の行を返す。
// 時刻を持たない行は直前の行の時刻として扱う
func (r *FileLogRepository) Lines(ctx context.Context, src entity.MonitoredSource, since, until time.Time) ([]string, error) {
	if src.Path == "" {
		return nil, fmt.Errorf("log path for %s is not configured", src.Name)
	}
	layout := src.TimestampLayout
	if layout == "" {
		layout = time.RFC3339
	}

	paths, err := filepath.Glob(src.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid log path %s: %w", src.Path, err)
	}
	sort.Strings(paths)

	var lines []string
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ls, err := readWindow(p, layout, since, until)
		if err != nil {
			return nil, err
		}
		lines = append(lines, ls...)
	}
	return lines, nil
}

func readWindow(path, layout string, since, until time.Time) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	var current time.Time
	var seen bool
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLogLineBytes)
	for sc.Scan() {
		line := sc.Text()
		if t, ok := leadingTimestamp(line, layout); ok {
			current, seen = t, true
		}
		if !seen || current.Before(since) || !current.Before(until) {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}
