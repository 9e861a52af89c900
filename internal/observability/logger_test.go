// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/karavolt/deskpilot-cli/internal/config"
)

// setupTestLogger initializes the global logger against a buffer.
func setupTestLogger(cfg config.LoggerConfig) *bytes.Buffer {
	buf := new(bytes.Buffer)
	Initialize(cfg, zapcore.AddSync(buf))
	return buf
}

func TestInitialize_ConsoleWithColors(t *testing.T) {
	ResetForTest()

	buf := setupTestLogger(config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "deskpilot-test",
		Colors:      config.ColorConfig{Info: "green"},
	})

	GetLogger().Info("arranging windows")
	Sync()

	output := buf.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "arranging windows")
	assert.Contains(t, output, colorGreen)
	assert.Contains(t, output, colorReset)
}

func TestInitialize_JSON(t *testing.T) {
	ResetForTest()

	buf := setupTestLogger(config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "deskpilot-test",
	})

	GetLogger().Warn("probe failed", zap.String("adapter", "fsops"))
	Sync()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "JSON format must emit parseable lines")
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "deskpilot-test", entry["logger"])
	assert.Equal(t, "probe failed", entry["msg"])
	assert.Equal(t, "fsops", entry["adapter"])
}

func TestInitialize_FileCore(t *testing.T) {
	ResetForTest()
	logPath := filepath.Join(t.TempDir(), "deskpilot.log")

	Initialize(config.LoggerConfig{
		Level:   "debug",
		Format:  "console",
		LogFile: logPath,
		MaxSize: 1,
	}, zapcore.AddSync(io.Discard))

	GetLogger().Error("editor bridge unreachable")
	Sync()

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	// The file core is always JSON regardless of the console format.
	assert.Contains(t, string(content), `"editor bridge unreachable"`)
}

func TestInitialize_OnlyOnce(t *testing.T) {
	ResetForTest()

	buf1 := setupTestLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "first"})
	first := GetLogger()

	buf2 := setupTestLogger(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "second"})
	second := GetLogger()

	assert.Equal(t, first, second)
	second.Info("still the first config")
	Sync()

	assert.Contains(t, buf1.String(), "first")
	assert.Contains(t, buf1.String(), "still the first config")
	assert.Empty(t, buf2.String())
}

func TestGetLogger_FallbackBeforeInit(t *testing.T) {
	ResetForTest()

	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	logger := GetLogger()
	require.NotNil(t, logger)

	w.Close()
	os.Stderr = oldStderr

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	assert.Contains(t, buf.String(), "Global logger requested before initialization")
}
