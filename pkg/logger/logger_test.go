package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesComponentLogsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "spotmm.log")
	require.NoError(t, Init(Config{Level: "debug", OutputFile: path, MaxSize: 1, NoConsole: true}))
	t.Cleanup(func() {
		_ = Close()
		logrus.SetOutput(os.Stderr)
	})

	logrus.WithField("component", "core").Info("[TEST] hello")
	WithField("k", "v").Debug("debug line")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "component=core"))
	assert.True(t, strings.Contains(string(raw), "debug line"))
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(Config{Level: "loud", NoConsole: true}))
	t.Cleanup(func() { logrus.SetOutput(os.Stderr) })
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
	assert.NoError(t, Rotate())
}
