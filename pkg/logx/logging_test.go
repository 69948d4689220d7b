package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(errors.New("boom")), Err(nil))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "hello", got["message"])
	assert.Equal(t, "test", got["comp"])
	assert.Equal(t, float64(3), got["n"])
	// The error key is "err" once a Service or console logger has been built.
	errVal, ok := got["err"]
	if !ok {
		errVal = got["error"]
	}
	assert.Equal(t, "boom", errVal)
	assert.Contains(t, got["caller"], "logging_test.go")
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("skipped")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelDebug))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Error("nothing happens")

	nop := Nop()
	assert.False(t, nop.IsZero())
	assert.False(t, nop.Enabled(LevelError))
	nop.With(String("k", "v")).Warn("still nothing")
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dayong.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path, MaxSizeMB: 1}})

	log.Debug("below level")
	log.Info("to file", String("task", "t1"))

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("after apply")
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, `"task":"t1"`)
	assert.Contains(t, out, "after apply")
	assert.False(t, strings.Contains(out, "below level"))
}
