// Package registry discovers loader manifests: keyfiles that map a
// media type to the loader binary decoding it.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-ini/ini"
)

const (
	// manifestExt is the extension of loader manifest files.
	manifestExt = ".conf"
	// baseName is the manifest subtree under each data directory.
	baseName = "glycin-loaders"
	// CompatVersion is embedded in the search path; bumped on
	// incompatible manifest schema changes.
	CompatVersion = 1
	// EnvDataDir replaces the whole search path with one directory.
	EnvDataDir = "GLYCIN_DATA_DIR"
)

// Loader describes one registered loader binary.
type Loader struct {
	// Exec is the absolute path of the loader binary.
	Exec string
	// ExposeBaseDir makes the input file's directory readable inside
	// the sandbox, for formats that resolve sibling files.
	ExposeBaseDir bool
}

// Registry maps media types to loaders.
type Registry struct {
	loaders map[string]Loader
}

var (
	cacheOnce sync.Once
	cache     *Registry
)

// Cached returns the process-lifetime registry, scanning the data
// directories on first use.
func Cached() *Registry {
	cacheOnce.Do(func() {
		cache = Load(dataDirs())
	})
	return cache
}

// Load scans the given base directories in order. Later directories
// override earlier ones for the same media type.
func Load(dirs []string) *Registry {
	r := &Registry{loaders: map[string]Loader{}}
	for _, dir := range dirs {
		confDir := filepath.Join(dir, baseName, fmt.Sprintf("%d+", CompatVersion), "conf.d")
		entries, err := os.ReadDir(confDir)
		if err != nil {
			continue
		}
		// os.ReadDir sorts by name; keep it deterministic anyway.
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == manifestExt {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			path := filepath.Join(confDir, name)
			if err := r.loadFile(path); err != nil {
				slog.Warn("failed to load loader manifest", "path", path, "error", err)
			}
		}
	}
	return r
}

// loadFile merges one manifest into the registry.
func (r *Registry) loadFile(path string) error {
	f, err := ini.LoadSources(ini.LoadOptions{KeyValueDelimiters: "="}, path)
	if err != nil {
		return err
	}
	for _, section := range f.Sections() {
		kind, mimeType, ok := strings.Cut(section.Name(), ":")
		if !ok || kind != "loader" || mimeType == "" {
			continue
		}
		// Keys are matched exactly; historical lowercase spellings
		// are a miss.
		execKey, err := section.GetKey("Exec")
		if err != nil {
			continue
		}
		cfg := Loader{Exec: execKey.String()}
		if k, err := section.GetKey("ExposeBaseDir"); err == nil {
			cfg.ExposeBaseDir, _ = k.Bool()
		}
		r.loaders[mimeType] = cfg
	}
	return nil
}

// Get resolves the loader for a media type.
func (r *Registry) Get(mimeType string) (Loader, bool) {
	l, ok := r.loaders[mimeType]
	return l, ok
}

// MimeTypes returns the media types with a registered loader, sorted.
func (r *Registry) MimeTypes() []string {
	types := make([]string, 0, len(r.loaders))
	for t := range r.loaders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// dataDirs returns the manifest search path: system data directories
// first, then the per-user data directory, so user manifests win.
func dataDirs() []string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return []string{dir}
	}

	var dirs []string
	system := os.Getenv("XDG_DATA_DIRS")
	if system == "" {
		system = "/usr/local/share:/usr/share"
	}
	for _, d := range strings.Split(system, ":") {
		if d != "" {
			dirs = append(dirs, d)
		}
	}

	user := os.Getenv("XDG_DATA_HOME")
	if user == "" {
		if home, err := os.UserHomeDir(); err == nil {
			user = filepath.Join(home, ".local", "share")
		}
	}
	if user != "" {
		dirs = append(dirs, user)
	}
	return dirs
}
