package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nixxel-company-limited/escpos-raster-printer/config"
)

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "printer.log")

	log, err := New(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     path,
		MaxSize:    1,
		MaxBackups: 1,
	})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("Printer connected", zap.String("device", "0416:5011"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "Printer connected", entry["message"])
	assert.Equal(t, "0416:5011", entry["device"])
	assert.Contains(t, entry, "timestamp")
	assert.NotContains(t, string(data), "hidden")
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "fatal"} {
		t.Run(level, func(t *testing.T) {
			log, err := New(config.LoggingConfig{Level: level, Format: "console", Output: "stderr"})
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Output: "stdout"})
	assert.Error(t, err)
}
