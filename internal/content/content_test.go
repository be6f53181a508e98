package content_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkaverti/fieldvault/internal/content"
	"github.com/mkaverti/fieldvault/internal/model"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIdentifyKnownDigest(t *testing.T) {
	// sha256("hello world\n")
	const want = "a948904f2f0f479b8f8197694b30184b0d2ed1c1cd2a1ec0fb85d299a192a447"

	path := writeFile(t, t.TempDir(), "a.txt", []byte("hello world\n"))
	got, err := content.Identify(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Identify = %s, want %s", got, want)
	}
}

func TestIdentifyIgnoresNameAndMtime(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "first.jpg", []byte{0xff, 0xd8, 0x01, 0x02})
	b := writeFile(t, dir, "second.jpg", []byte{0xff, 0xd8, 0x01, 0x02})
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(b, past, past); err != nil {
		t.Fatal(err)
	}

	ha, err := content.Identify(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := content.Identify(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Errorf("identical bytes hashed differently: %s vs %s", ha, hb)
	}
}

func TestIdentifyDistinguishesContent(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.bin", []byte{1, 2, 3})
	b := writeFile(t, dir, "b.bin", []byte{1, 2, 4})

	ha, _ := content.Identify(a)
	hb, _ := content.Identify(b)
	if ha == hb {
		t.Error("different bytes produced the same digest")
	}
}

func TestShortID(t *testing.T) {
	full := "a948904f2f0f479b8f8197694b30184b0d2ed1c1cd2a1ec0fb85d299a192a447"
	if got := content.ShortID(full); got != "a948904f2f0f479b" {
		t.Errorf("ShortID = %s", got)
	}
	if got := content.ShortID("abc"); got != "abc" {
		t.Errorf("ShortID of short input = %s, want unchanged", got)
	}
}

func TestTypeForExt(t *testing.T) {
	cases := []struct {
		ext  string
		want model.MediaType
	}{
		{".jpg", model.MediaImage},
		{".JPG", model.MediaImage},
		{".dng", model.MediaImage},
		{".mp4", model.MediaVideo},
		{".MOV", model.MediaVideo},
		{".pdf", model.MediaDocument},
		{".gpx", model.MediaMap},
		{".exe", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := content.TypeForExt(c.ext); got != c.want {
			t.Errorf("TypeForExt(%q) = %q, want %q", c.ext, got, c.want)
		}
	}
}

func TestArchivePath(t *testing.T) {
	hash := "a948904f2f0f479b8f8197694b30184b0d2ed1c1cd2a1ec0fb85d299a192a447"
	cases := []struct {
		mt   model.MediaType
		name string
		want string
	}{
		{model.MediaImage, "IMG_0042.JPG", "data/images/a948904f2f0f479b.jpg"},
		{model.MediaVideo, "clip.mov", "data/videos/a948904f2f0f479b.mov"},
		{model.MediaDocument, "notes.pdf", "data/documents/a948904f2f0f479b.pdf"},
		{model.MediaMap, "track.gpx", "data/maps/a948904f2f0f479b.gpx"},
	}
	for _, c := range cases {
		if got := content.ArchivePath(c.mt, hash, c.name); got != c.want {
			t.Errorf("ArchivePath(%s, %s) = %s, want %s", c.mt, c.name, got, c.want)
		}
	}
}
