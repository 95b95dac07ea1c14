package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs"), ExpandPath("~/logs"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/var/log", ExpandPath("/var/log"))
}

func TestExpandPathEnvVars(t *testing.T) {
	t.Setenv("COLLECTOR_TEST_DIR", "/opt/data")

	assert.Equal(t, "/opt/data/logs", ExpandPath("$COLLECTOR_TEST_DIR/logs"))
	assert.Equal(t, "/opt/data\\logs", ExpandPath("%COLLECTOR_TEST_DIR%\\logs"))
}

func TestDiscoverPathsFindsExistingLocations(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	logDir := filepath.Join(home, ".claude", "logs")
	require.NoError(t, os.MkdirAll(logDir, 0o755))

	paths := discoverPathsFor("claude", "linux")
	assert.Contains(t, paths, logDir)
}

func TestDiscoverPathsGlob(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	sessions := filepath.Join(home, ".config", "Code", "User", "workspaceStorage", "ws-1", "chatSessions")
	require.NoError(t, os.MkdirAll(sessions, 0o755))

	paths := discoverPathsFor("github-copilot", "linux")
	assert.Contains(t, paths, sessions)
}

func TestDiscoverPathsUnknownAgent(t *testing.T) {
	assert.Empty(t, discoverPathsFor("vim", "linux"))
	assert.Empty(t, discoverPathsFor("claude", "plan9"))
}

func TestDiscoverPathsNothingInstalled(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	assert.Empty(t, discoverPathsFor("cursor", "linux"))
}
