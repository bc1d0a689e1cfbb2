package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(WarnLevel, &buf)
	logger.Info("dropped")
	logger.WithField("job_id", "abc").Warn("kept", map[string]interface{}{"attempt": 2})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["message"])
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "abc", entries[0]["job_id"])
	assert.Equal(t, float64(2), entries[0]["attempt"])
	assert.Contains(t, entries[0]["caller"], "logging_test.go")
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithFormat(InfoLevel, TextFormat, &buf)
	logger.WithFields(map[string]interface{}{"b": 2, "a": 1}).Info("solve finished")

	line := buf.String()
	assert.Contains(t, line, "INFO  solve finished")
	assert.Less(t, strings.Index(line, " a=1"), strings.Index(line, " b=2"))
}

func TestFatalExits(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf)
	code := -1
	logger.exit = func(c int) { code = c }
	logger.Fatal("boom")
	assert.Equal(t, 1, code)
}

func TestZapLogger(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZapLogger(New(DebugLevel, &buf)).Named("lbfgs").With(zap.String("job_id", "j1"))
	zl.Debug("iteration", zap.Int("iteration", 3), zap.Float64("f", 0.25))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "DEBUG", e["level"])
	assert.Equal(t, "lbfgs", e["logger"])
	assert.Equal(t, "j1", e["job_id"])
	assert.Equal(t, float64(3), e["iteration"])
	assert.Equal(t, 0.25, e["f"])

	buf.Reset()
	quiet := NewZapLogger(New(InfoLevel, &buf))
	quiet.Debug("iteration")
	assert.Zero(t, buf.Len())
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf)
	h := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotNil(t, FromContext(r.Context()).Logger)
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(http.StatusTeapot), entries[0]["status"])
	assert.Equal(t, "/healthz", entries[0]["path"])
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(&Config{Level: "debug", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, logger.Level())

	logger, err = NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, logger.Level())

	logger, err = NewLogger(&Config{Level: "warn"})
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, logger.Level())
}

func TestNewLoggerRejectsUnknownSettings(t *testing.T) {
	_, err := NewLogger(&Config{Level: "verbose"})
	assert.ErrorContains(t, err, `unknown level "verbose"`)

	_, err = NewLogger(&Config{Format: "xml"})
	assert.ErrorContains(t, err, `unknown format "xml"`)

	_, err = NewLogger(&Config{Output: filepath.Join(t.TempDir(), "missing", "descent.log")})
	assert.ErrorContains(t, err, "logging: open")
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "descent.log")
	logger, err := NewLogger(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("Optimization queued", map[string]interface{}{"method": "lbfgs"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "Optimization queued", entry["message"])
	assert.Equal(t, "lbfgs", entry["method"])
}
