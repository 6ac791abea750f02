// Package defaults holds the default filesystem locations used by deployd.
package defaults

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	EnvSocket = "DEPLOYD_SOCKET"

	// RemoteSocketPath is where a daemon on a Linux host listens. SSH clients
	// use it rather than their own platform default.
	RemoteSocketPath = "/var/run/deployd.sock"

	defaultLinuxDataRoot  = "/var/lib/deployd"
	defaultDarwinDataRoot = "Library/Application Support/deployd"
	stateDBName           = "state.db"
)

func DataRoot() string {
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return defaultLinuxDataRoot
		}
		return filepath.Join(home, defaultDarwinDataRoot)
	}
	return defaultLinuxDataRoot
}

// StatePath is the attempt history database under dataRoot.
func StatePath(dataRoot string) string {
	if strings.TrimSpace(dataRoot) == "" {
		dataRoot = DataRoot()
	}
	return filepath.Join(dataRoot, stateDBName)
}

func SocketPath() string {
	if fromEnv := strings.TrimSpace(os.Getenv(EnvSocket)); fromEnv != "" {
		return fromEnv
	}
	if runtime.GOOS == "darwin" {
		return "/tmp/deployd.sock"
	}
	return RemoteSocketPath
}

// ConfigDir follows XDG_CONFIG_HOME and falls back to ~/.config.
func ConfigDir() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "deployd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "deployd")
	}
	return filepath.Join(home, ".config", "deployd")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
