// Package config loads the media-type loader registry from the system and
// user conf.d directories, the same data the teacher's core.DefaultRegistry
// used to hold in-process.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/Skryldev/glycin/core"
)

// APIVersion selects the conf.d subdirectory loaders are read from.
// Bumped only on wire-incompatible changes to the host/worker protocol.
const APIVersion = 0

var (
	cacheMu  sync.Mutex
	cached   *core.LoaderRegistry
	cacheErr error
	cacheSet bool
)

// Cached returns the process-wide registry loaded from the standard data
// directories, loading it once and memoizing the result. Skip diagnostics
// go nowhere; use CachedWithLogger to have them logged.
func Cached(apiVersion int) (*core.LoaderRegistry, error) {
	return CachedWithLogger(apiVersion, nil)
}

// CachedWithLogger is Cached, logging every skipped file or malformed
// section through logger (nil is a silent no-op, matching Cached).
// Directories that cannot be read are skipped without logging.
func CachedWithLogger(apiVersion int, logger core.Logger) (*core.LoaderRegistry, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cacheSet {
		return cached, cacheErr
	}
	cached, cacheErr = LoadWithLogger(apiVersion, logger)
	cacheSet = true
	return cached, cacheErr
}

// Load walks the standard system and user data directories for apiVersion
// and returns a freshly populated registry. Unlike Cached, every call
// re-reads the filesystem.
func Load(apiVersion int) (*core.LoaderRegistry, error) {
	return LoadWithLogger(apiVersion, nil)
}

// LoadWithLogger is Load, logging skips through logger.
func LoadWithLogger(apiVersion int, logger core.Logger) (*core.LoaderRegistry, error) {
	return NewFromDirsWithLogger(dataDirs(apiVersion), logger)
}

// NewFromDirs builds a registry from an explicit, ordered list of conf.d
// directories, skipping XDG resolution entirely. Directories later in dirs
// override entries registered by earlier ones for the same media type.
// Exposed primarily so tests can supply scratch directories directly.
func NewFromDirs(dirs []string) (*core.LoaderRegistry, error) {
	return NewFromDirsWithLogger(dirs, nil)
}

// NewFromDirsWithLogger is NewFromDirs, logging every unparsable file and
// malformed section it skips through logger; a directory that cannot be
// read is skipped without logging (nil
// disables logging, matching spec.md §4.1's "malformed files are logged and
// skipped" without forcing every caller to supply a logger).
func NewFromDirsWithLogger(dirs []string, logger core.Logger) (*core.LoaderRegistry, error) {
	reg := core.NewLoaderRegistry()
	for _, dir := range dirs {
		loadDir(reg, dir, logger)
	}
	return reg, nil
}

// dataDirs returns the glycin-loaders conf.d directories to scan, in
// increasing priority order: system dirs from XDG_DATA_DIRS first, then the
// user's XDG_DATA_HOME last so user-installed loaders win.
func dataDirs(apiVersion int) []string {
	suffix := filepath.Join("glycin-loaders", itoa(apiVersion)+"+", "conf.d")

	var dirs []string
	for _, base := range splitOrDefault(os.Getenv("XDG_DATA_DIRS"), "/usr/local/share:/usr/share") {
		dirs = append(dirs, filepath.Join(base, suffix))
	}

	home := os.Getenv("XDG_DATA_HOME")
	if home == "" {
		if hd, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(hd, ".local", "share")
		}
	}
	if home != "" {
		dirs = append(dirs, filepath.Join(home, suffix))
	}
	return dirs
}

func splitOrDefault(value, def string) []string {
	if value == "" {
		value = def
	}
	var out []string
	for _, p := range strings.Split(value, ":") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// loadDir parses every *.conf file in dir, in sorted order, registering one
// LoaderEntry per "loader:<media-type>" section that carries an Exec key.
// An unreadable file or a malformed section is logged and skipped; a
// missing or unreadable directory is skipped silently. None of these ever
// aborts the overall load.
func loadDir(reg *core.LoaderRegistry, dir string, logger core.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		// A missing conf.d directory is the common case (not every prefix
		// in XDG_DATA_DIRS ships glycin loaders) and not worth logging.
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".conf") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		loadFile(reg, filepath.Join(dir, name), logger)
	}
}

func loadFile(reg *core.LoaderRegistry, path string, logger core.Logger) {
	file, err := ini.Load(path)
	if err != nil {
		if logger != nil {
			logger.Warn("config: skipping malformed loader file", "path", path, "err", err)
		}
		return
	}

	for _, section := range file.Sections() {
		mediaType, ok := strings.CutPrefix(section.Name(), "loader:")
		if !ok {
			continue
		}
		exec := section.Key("Exec").String()
		if exec == "" {
			if logger != nil {
				logger.Warn("config: skipping loader section without Exec", "path", path, "section", section.Name())
			}
			continue
		}
		reg.Register(core.LoaderEntry{
			MediaType:      mediaType,
			ExecutablePath: exec,
			ExposeBaseDir:  section.Key("ExposeBaseDir").MustBool(false),
		})
	}
}
