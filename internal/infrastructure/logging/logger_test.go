package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{" WARN ", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestJSONOutputAndRuntimeLevel(t *testing.T) {
	out := filepath.Join(t.TempDir(), "log.json")
	logger, err := New(Config{Level: "warn", OutputPaths: []string{out}})
	require.NoError(t, err)

	logger.Component("reconcile").Info("dropped")
	logger.Component("reconcile").Warn("kept", zap.String("app_id", "app-1"))

	require.NoError(t, logger.SetLevel("info"))
	assert.Equal(t, "info", logger.Level())
	logger.Info("now visible")
	_ = logger.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var lines []map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var line map[string]interface{}
		require.NoError(t, dec.Decode(&line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "kept", lines[0]["message"])
	assert.Equal(t, "reconcile", lines[0]["logger"])
	assert.Equal(t, "app-1", lines[0]["app_id"])
	assert.Equal(t, "now visible", lines[1]["message"])

	assert.Error(t, logger.SetLevel("nope"))
}

func TestNopAndDefaults(t *testing.T) {
	assert.NotNil(t, NewNop().Logger)
	assert.NotNil(t, NewDefault().Logger)
	assert.Equal(t, "debug", DevelopmentConfig().Level)
	assert.False(t, DefaultConfig().Development)
}
