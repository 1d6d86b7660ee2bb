// Package platform resolves where gossiptrace keeps its config, replay database
// and dev logs on each operating system.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultAppName names the per-user directories when no app name is given.
const DefaultAppName = "gossiptrace"

var (
	// ErrNoBaseDir is returned when the user config or data root is unknown.
	ErrNoBaseDir = errors.New("platform: missing base directory")
	// ErrNoAppName is returned when the app name is blank.
	ErrNoAppName = errors.New("platform: missing app name")
)

// Paths locates one app's replay state on disk.
type Paths struct {
	ConfigPath string
	DataDir    string
	// DBPath is the sqlite file holding runs and propagation records.
	DBPath string
	// LogDir receives dev-mode log files when no workspace log dir is configured.
	LogDir string
}

// Options selects which app directory tree to resolve.
type Options struct {
	AppName string
	// DevMode resolves a separate "<app>-dev" tree so experiments never touch real runs.
	DevMode bool
}

func (o Options) dirName() string {
	name := strings.TrimSpace(o.AppName)
	if name == "" {
		name = DefaultAppName
	}
	if o.DevMode {
		name += "-dev"
	}
	return name
}

// BaseDirs are the per-user roots the app directories are nested under.
type BaseDirs struct {
	Config string
	Data   string
}

// envRoots lists, per GOOS, the variables that override the config and data roots.
var envRoots = map[string]struct{ config, data string }{
	"linux":   {config: "XDG_CONFIG_HOME", data: "XDG_DATA_HOME"},
	"windows": {config: "APPDATA", data: "LOCALAPPDATA"},
}

// Resolve returns the paths for the current user and OS.
func Resolve(opts Options) (Paths, error) {
	base, err := userBaseDirs(runtime.GOOS)
	if err != nil {
		return Paths{}, err
	}
	return Layout(runtime.GOOS, os.Getenv, base, opts.dirName())
}

func userBaseDirs(goos string) (BaseDirs, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return BaseDirs{}, fmt.Errorf("user config dir: %w", err)
	}
	base := BaseDirs{Config: configDir, Data: configDir}
	switch goos {
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return BaseDirs{}, fmt.Errorf("user home dir: %w", err)
		}
		base.Data = filepath.Join(home, ".local", "share")
	case "windows":
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			base.Data = v
		}
	}
	return base, nil
}

// Layout places the config file, replay database and log dir for appName.
// lookup reads environment overrides; a nil lookup ignores them.
func Layout(goos string, lookup func(string) string, base BaseDirs, appName string) (Paths, error) {
	if base.Config == "" || base.Data == "" {
		return Paths{}, ErrNoBaseDir
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, ErrNoAppName
	}
	if roots, ok := envRoots[goos]; ok && lookup != nil {
		if v := strings.TrimSpace(lookup(roots.config)); v != "" {
			base.Config = v
		}
		if v := strings.TrimSpace(lookup(roots.data)); v != "" {
			base.Data = v
		}
	}

	dataDir := filepath.Join(base.Data, appName)
	return Paths{
		ConfigPath: filepath.Join(base.Config, appName, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, appName+".db"),
		LogDir:     filepath.Join(dataDir, "log"),
	}, nil
}
