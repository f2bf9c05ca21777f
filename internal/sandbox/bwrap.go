package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// bwrapArgs builds the namespace-sandbox command line: all namespaces
// unshared, a minimal read-only view of /usr plus library directories,
// tmpfs home and runtime directories so child libraries stay quiet,
// and the seccomp program on seccompFD.
func bwrapArgs(command string, roBindExtra []string, seccompFD int) []string {
	args := []string{
		"--unshare-all",
		"--die-with-parent",
		// change working directory to something that exists
		"--chdir", "/",
		"--clearenv",
		"--ro-bind", "/usr", "/usr",
		"--dev", "/dev",
	}

	// Best effort; not present on every distribution.
	for _, p := range []string{"/etc/ld.so.cache", "/etc/fonts"} {
		args = append(args, "--ro-bind-try", p, p)
	}
	args = append(args, "--ro-bind-try", "/var/cache/fontconfig", "/var/cache/fontconfig")

	// Tmpfs home and runtime dir silence well-known warnings from
	// libraries the loaders link.
	args = append(args,
		"--tmpfs", "/tmp-home",
		"--setenv", "HOME", "/tmp-home",
		"--tmpfs", "/tmp-run",
		"--setenv", "XDG_RUNTIME_DIR", "/tmp-run",
	)

	system := systemSetup()

	// Symlink paths like /lib64 into /usr on merged-usr systems.
	for _, ls := range system.libSymlinks {
		args = append(args, "--symlink", ls[1], ls[0])
	}
	// Mount real /lib* directories on non-merged systems.
	for _, dir := range system.libDirs {
		args = append(args, "--ro-bind", dir, dir)
	}

	for _, dir := range roBindExtra {
		args = append(args, "--ro-bind", dir, dir)
	}

	// Loaders outside /usr would not resolve otherwise. Useful for
	// testing and user-space loaders.
	if !strings.HasPrefix(command, "/usr/") {
		args = append(args, "--ro-bind", command, command)
	}

	if seccompFD >= 0 {
		args = append(args, "--seccomp", fmt.Sprint(seccompFD))
	}

	return args
}

type system struct {
	// Dirs that need to be symlinked (merged usr).
	libSymlinks [][2]string
	// Dirs that need mounting (not merged).
	libDirs []string
}

var (
	systemOnce   sync.Once
	systemCached system
)

// systemSetup inspects root-level lib* entries once per process.
func systemSetup() *system {
	systemOnce.Do(func() {
		entries, err := os.ReadDir("/")
		if err != nil {
			slog.Warn("unable to list root directory entries", "error", err)
			return
		}
		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasPrefix(name, "lib") {
				continue
			}
			path := "/" + name
			info, err := os.Lstat(path)
			if err != nil {
				slog.Warn("unable to access entry in root directory", "path", path, "error", err)
				continue
			}
			if info.IsDir() {
				systemCached.libDirs = append(systemCached.libDirs, path)
			} else if info.Mode()&os.ModeSymlink != 0 {
				target, err := filepath.EvalSymlinks(path)
				if err != nil {
					continue
				}
				if target == filepath.Join("/usr", name) {
					systemCached.libSymlinks = append(systemCached.libSymlinks, [2]string{path, target})
				}
			}
		}
	})
	return &systemCached
}
