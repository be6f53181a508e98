package importer

import (
	"os"
	"path/filepath"
	"testing"
)

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverFiltersSystemAndUnsupportedFiles(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.jpg"))
	mustWrite(t, filepath.Join(dir, "nested", "b.mp4"))
	mustWrite(t, filepath.Join(dir, "nested", "notes.pdf"))
	mustWrite(t, filepath.Join(dir, ".DS_Store"))
	mustWrite(t, filepath.Join(dir, "Thumbs.db"))
	mustWrite(t, filepath.Join(dir, ".hidden.jpg"))
	mustWrite(t, filepath.Join(dir, "installer.exe"))
	mustWrite(t, filepath.Join(dir, ".git", "blob.jpg"))

	got, err := discover([]string{dir})
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{
		filepath.Join(dir, "a.jpg"):               true,
		filepath.Join(dir, "nested", "b.mp4"):     true,
		filepath.Join(dir, "nested", "notes.pdf"): true,
	}
	if len(got) != len(want) {
		t.Fatalf("discover returned %d files, want %d: %v", len(got), len(want), got)
	}
	for _, p := range got {
		if !want[p] {
			t.Errorf("unexpected candidate %s", p)
		}
	}
}

func TestDiscoverAcceptsExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	jpg := filepath.Join(dir, "one.jpg")
	exe := filepath.Join(dir, "one.exe")
	mustWrite(t, jpg)
	mustWrite(t, exe)

	got, err := discover([]string{jpg, exe})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != jpg {
		t.Errorf("discover = %v, want just %s", got, jpg)
	}
}

func TestDiscoverKeepsUnreadablePathsForErrorReporting(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.jpg")
	got, err := discover([]string{missing})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != missing {
		t.Errorf("discover = %v, want the missing path kept", got)
	}
}

func TestIgnored(t *testing.T) {
	for _, name := range []string{".DS_Store", "Thumbs.db", "desktop.ini", ".anything"} {
		if !ignored(name) {
			t.Errorf("ignored(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"IMG_0001.jpg", "movie.mp4"} {
		if ignored(name) {
			t.Errorf("ignored(%q) = true, want false", name)
		}
	}
}
