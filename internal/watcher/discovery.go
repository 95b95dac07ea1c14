package watcher

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// agentLogLocations lists candidate log path patterns per agent per
// operating system. Patterns support ~, $VAR / %VAR% expansion, and
// globbing.
var agentLogLocations = map[string]map[string][]string{
	"github-copilot": {
		"darwin": {
			"~/Library/Application Support/Code/User/workspaceStorage/*/chatSessions",
			"~/Library/Application Support/Code - Insiders/User/workspaceStorage/*/chatSessions",
		},
		"linux": {
			"~/.config/Code/User/workspaceStorage/*/chatSessions",
			"~/.config/Code - Insiders/User/workspaceStorage/*/chatSessions",
		},
		"windows": {
			"%APPDATA%\\Code\\User\\workspaceStorage\\*\\chatSessions",
			"%APPDATA%\\Code - Insiders\\User\\workspaceStorage\\*\\chatSessions",
		},
	},
	"claude": {
		"darwin": {
			"~/.claude/logs",
			"~/Library/Application Support/Claude/logs",
			"~/Library/Logs/Claude",
		},
		"linux": {
			"~/.claude/logs",
			"~/.config/claude/logs",
			"~/.local/share/claude/logs",
		},
		"windows": {
			"%APPDATA%\\Claude\\logs",
			"%LOCALAPPDATA%\\Claude\\logs",
		},
	},
	"cursor": {
		"darwin": {
			"~/Library/Application Support/Cursor/logs",
			"~/Library/Logs/Cursor",
		},
		"linux": {
			"~/.config/Cursor/logs",
			"~/.local/share/Cursor/logs",
		},
		"windows": {
			"%APPDATA%\\Cursor\\logs",
			"%LOCALAPPDATA%\\Cursor\\logs",
		},
	},
}

var windowsEnvPattern = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// DiscoverPaths returns the log file and directory candidates that
// exist on this machine for the given agent.
func DiscoverPaths(agentName string) []string {
	return discoverPathsFor(agentName, runtime.GOOS)
}

func discoverPathsFor(agentName, goos string) []string {
	patterns, ok := agentLogLocations[agentName][goos]
	if !ok {
		return nil
	}

	var paths []string
	for _, pattern := range patterns {
		expanded := ExpandPath(pattern)

		matches, err := filepath.Glob(expanded)
		if err != nil || len(matches) == 0 {
			// Not a glob or nothing matched; keep the literal path if
			// it exists.
			if _, statErr := os.Stat(expanded); statErr == nil {
				paths = append(paths, expanded)
			}
			continue
		}

		for _, match := range matches {
			if _, err := os.Stat(match); err == nil {
				paths = append(paths, match)
			}
		}
	}

	return paths
}

// ExpandPath expands a leading ~ and both $VAR and %VAR% environment
// references.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~\\") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + path[1:]
		}
	}

	path = windowsEnvPattern.ReplaceAllString(path, "${$1}")
	return os.ExpandEnv(path)
}
