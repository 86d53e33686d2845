package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Skryldev/glycin/config"
)

func writeConf(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestNewFromDirsRegistersLoaders(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "png.conf", `
[loader:image/png]
Exec=/usr/libexec/glycin-loaders/glypng
ExposeBaseDir=false
`)
	writeConf(t, dir, "svg.conf", `
[loader:image/svg+xml]
Exec=/usr/libexec/glycin-loaders/glysvg
ExposeBaseDir=true
`)

	reg, err := config.NewFromDirs([]string{dir})
	if err != nil {
		t.Fatalf("NewFromDirs: %v", err)
	}

	png, ok := reg.Lookup("image/png")
	if !ok {
		t.Fatal("image/png not registered")
	}
	if png.ExecutablePath != "/usr/libexec/glycin-loaders/glypng" || png.ExposeBaseDir {
		t.Errorf("image/png entry = %+v", png)
	}

	svg, ok := reg.Lookup("image/svg+xml")
	if !ok {
		t.Fatal("image/svg+xml not registered")
	}
	if !svg.ExposeBaseDir {
		t.Errorf("image/svg+xml ExposeBaseDir = false, want true")
	}
}

func TestLaterDirOverridesEarlier(t *testing.T) {
	systemDir := t.TempDir()
	userDir := t.TempDir()
	writeConf(t, systemDir, "png.conf", `
[loader:image/png]
Exec=/usr/libexec/glycin-loaders/glypng
`)
	writeConf(t, userDir, "png.conf", `
[loader:image/png]
Exec=/home/me/.local/libexec/glypng-custom
`)

	reg, err := config.NewFromDirs([]string{systemDir, userDir})
	if err != nil {
		t.Fatalf("NewFromDirs: %v", err)
	}

	entry, ok := reg.Lookup("image/png")
	if !ok {
		t.Fatal("image/png not registered")
	}
	if entry.ExecutablePath != "/home/me/.local/libexec/glypng-custom" {
		t.Errorf("ExecutablePath = %q, want user override", entry.ExecutablePath)
	}
}

func TestMalformedFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "broken.conf", "this is not [valid ini")
	writeConf(t, dir, "png.conf", `
[loader:image/png]
Exec=/usr/libexec/glycin-loaders/glypng
`)

	reg, err := config.NewFromDirs([]string{dir})
	if err != nil {
		t.Fatalf("NewFromDirs: %v", err)
	}
	if _, ok := reg.Lookup("image/png"); !ok {
		t.Error("image/png should still be registered despite a sibling malformed file")
	}
}

func TestMissingDirectoryYieldsEmptyRegistry(t *testing.T) {
	reg, err := config.NewFromDirs([]string{filepath.Join(t.TempDir(), "does-not-exist")})
	if err != nil {
		t.Fatalf("NewFromDirs: %v", err)
	}
	if got := reg.KnownMediaTypes(); len(got) != 0 {
		t.Errorf("KnownMediaTypes = %v, want empty", got)
	}
}

func TestSectionWithoutExecIsIgnored(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "incomplete.conf", `
[loader:image/tiff]
ExposeBaseDir=true
`)

	reg, err := config.NewFromDirs([]string{dir})
	if err != nil {
		t.Fatalf("NewFromDirs: %v", err)
	}
	if _, ok := reg.Lookup("image/tiff"); ok {
		t.Error("loader section without Exec should not register an entry")
	}
}
