package xdg

import (
	"os"
	"path/filepath"
	"strconv"
)

const appName = "composerd"

// base resolves an XDG base directory: the env variable when set to an
// absolute path, else the fallback below the home dir.
func base(env string, fallback ...string) string {
	if dir := os.Getenv(env); filepath.IsAbs(dir) {
		return dir
	}
	return ExpandHome(append([]string{"~"}, fallback...)...)
}

// join places relative paths below dir/composerd, absolute paths are
// returned unchanged.
func join(dir string, paths []string) string {
	res := filepath.Join(paths...)
	if filepath.IsAbs(res) {
		return res
	}
	return filepath.Join(dir, appName, res)
}

// ConfigPath returns a path in the composerd config dir.
func ConfigPath(paths ...string) string {
	return join(base("XDG_CONFIG_HOME", ".config"), paths)
}

// CachePath returns a path in the composerd cache dir.
func CachePath(paths ...string) string {
	return join(base("XDG_CACHE_HOME", ".cache"), paths)
}

// DataPath returns a path in the composerd data dir.
func DataPath(paths ...string) string {
	return join(base("XDG_DATA_HOME", ".local", "share"), paths)
}

// StatePath returns a path in the composerd state dir. The list of open
// composers is kept there.
func StatePath(paths ...string) string {
	return join(base("XDG_STATE_HOME", ".local", "state"), paths)
}

var userRuntimeDir = func() string {
	uid := strconv.Itoa(os.Getuid())
	dir := filepath.Join("/run/user", uid)
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		return dir
	}
	// no /run/user (OpenRC), use a private dir in /tmp
	dir = filepath.Join(os.TempDir(), appName+"-"+uid)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return os.TempDir()
	}
	return dir
}

// RuntimePath returns a path in the user runtime dir. Unlike the other
// helpers, files are not placed in a composerd sub directory.
func RuntimePath(paths ...string) string {
	res := filepath.Join(paths...)
	if filepath.IsAbs(res) {
		return res
	}
	run := os.Getenv("XDG_RUNTIME_DIR")
	if !filepath.IsAbs(run) {
		run = userRuntimeDir()
	}
	return filepath.Join(run, res)
}
