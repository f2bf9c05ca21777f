package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	confDir := filepath.Join(dir, "glycin-loaders", "1+", "conf.d")
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(confDir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "image-png.conf", `
[loader:image/png]
Exec=/usr/libexec/image-loaders/png
ExposeBaseDir=false

[loader:image/svg+xml]
Exec=/usr/libexec/image-loaders/svg
ExposeBaseDir=true
`)

	r := Load([]string{dir})

	png, ok := r.Get("image/png")
	if !ok {
		t.Fatal("image/png not registered")
	}
	if png.Exec != "/usr/libexec/image-loaders/png" {
		t.Errorf("Exec = %q", png.Exec)
	}
	if png.ExposeBaseDir {
		t.Error("ExposeBaseDir should default to false")
	}

	svg, ok := r.Get("image/svg+xml")
	if !ok {
		t.Fatal("image/svg+xml not registered")
	}
	if !svg.ExposeBaseDir {
		t.Error("ExposeBaseDir not parsed")
	}

	if _, ok := r.Get("image/webp"); ok {
		t.Error("unregistered type resolved")
	}
}

func TestLaterDirectoryWins(t *testing.T) {
	system := t.TempDir()
	user := t.TempDir()

	writeManifest(t, system, "png.conf", `
[loader:image/png]
Exec=/usr/libexec/png
`)
	writeManifest(t, user, "png.conf", `
[loader:image/png]
Exec=/home/user/.local/libexec/png
`)

	r := Load([]string{system, user})
	cfg, ok := r.Get("image/png")
	if !ok {
		t.Fatal("image/png not registered")
	}
	if cfg.Exec != "/home/user/.local/libexec/png" {
		t.Errorf("Exec = %q, later directory should win", cfg.Exec)
	}
}

func TestKeyCasingIsExact(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "png.conf", `
[loader:image/png]
exec=/usr/libexec/png
exposebasedir=true
`)

	r := Load([]string{dir})
	if _, ok := r.Get("image/png"); ok {
		t.Error("lowercase keys must be a miss")
	}
}

func TestIgnoresOtherGroupsAndExtensions(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "png.conf", `
[something:image/png]
Exec=/usr/libexec/png

[loader]
Exec=/usr/libexec/unkeyed
`)
	writeManifest(t, dir, "notes.txt", `
[loader:image/png]
Exec=/usr/libexec/png
`)

	r := Load([]string{dir})
	if types := r.MimeTypes(); len(types) != 0 {
		t.Errorf("expected empty registry, got %v", types)
	}
}

func TestMimeTypesSorted(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "all.conf", `
[loader:image/png]
Exec=/usr/libexec/png

[loader:image/jpeg]
Exec=/usr/libexec/jpeg
`)

	r := Load([]string{dir})
	types := r.MimeTypes()
	if len(types) != 2 || types[0] != "image/jpeg" || types[1] != "image/png" {
		t.Errorf("MimeTypes() = %v", types)
	}
}
