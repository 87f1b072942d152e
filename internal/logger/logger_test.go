package logger

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	return lines
}

func TestStructuredLoggerWritesJSONFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log := NewLogger(Config{Level: LevelDebug, Format: FormatJSON, Output: "file", Filename: path, MaxSize: 1})

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	log.WithContext(ctx).WithField("venue", "upbit").Info("route computed", "strategy", "cheapest", "dangling")

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "route computed", lines[0]["msg"])
	assert.Equal(t, "req-1", lines[0]["request_id"])
	assert.Equal(t, "upbit", lines[0]["venue"])
	assert.Equal(t, "cheapest", lines[0]["strategy"])
}

func TestSetLevelFiltersBelowThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "level.log")
	log := NewLogger(Config{Level: LevelInfo, Format: FormatJSON, Output: "file", Filename: path, MaxSize: 1})

	log.Debug("hidden")
	log.SetLevel(LevelWarn)
	log.Info("hidden too")
	log.Warn("shown")

	assert.Equal(t, LevelWarn, log.GetLevel())
	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
}

func TestPerformanceLoggerEscalatesSlowOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.log")
	log := NewLogger(Config{Level: LevelDebug, Format: FormatJSON, Output: "file", Filename: path, MaxSize: 1})
	pl := NewPerformanceLogger(log, 100*time.Millisecond)

	pl.LogPerformance("find_route", 10*time.Millisecond, nil)
	pl.LogPerformance("find_route", 2*time.Second, map[string]interface{}{"candidates": 4})

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "debug", lines[0]["level"])
	assert.Equal(t, "warning", lines[1]["level"])
	assert.EqualValues(t, 4, lines[1]["candidates"])
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	log := NewNop()
	log.Info("nothing")
	log.WithFields(map[string]interface{}{"a": 1}).Error("still nothing")
}
