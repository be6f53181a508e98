package phash_test

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/mkaverti/fieldvault/internal/phash"
)

// gradient draws a deterministic test pattern with enough structure
// that recompression survives hashing.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	cx, cy := float64(w)/2, float64(h)/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy)
			v := uint8(255 * math.Abs(math.Sin(d/14)))
			img.Set(x, y, color.RGBA{v, uint8(x * 255 / w), uint8(y * 255 / h), 255})
		}
	}
	return img
}

func TestHashIsDeterministic(t *testing.T) {
	img := gradient(320, 240)
	if phash.Image(img) != phash.Image(img) {
		t.Error("same image produced different hashes")
	}
}

func TestRecompressedImageStaysClose(t *testing.T) {
	img := gradient(320, 240)
	orig := phash.Image(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 40}); err != nil {
		t.Fatal(err)
	}
	lossy, _, err := image.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if d := phash.Distance(orig, phash.Image(lossy)); d > 10 {
		t.Errorf("recompression moved hash by %d bits, want <= 10", d)
	}
}

func TestResizedImageStaysClose(t *testing.T) {
	big := gradient(640, 480)
	small := gradient(160, 120)
	if d := phash.Distance(phash.Image(big), phash.Image(small)); d > 12 {
		t.Errorf("resize moved hash by %d bits, want <= 12", d)
	}
}

func TestDistinctImagesAreFar(t *testing.T) {
	a := phash.Image(gradient(320, 240))

	flat := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			v := uint8((x / 40 % 2) * 255)
			flat.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	b := phash.Image(flat)

	if d := phash.Distance(a, b); d < 16 {
		t.Errorf("unrelated images only %d bits apart", d)
	}
}

func TestFileMatchesImage(t *testing.T) {
	img := gradient(128, 128)
	path := filepath.Join(t.TempDir(), "g.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	fromFile, err := phash.File(path)
	if err != nil {
		t.Fatal(err)
	}
	if fromFile != phash.Image(img) {
		t.Error("File and Image disagree for lossless round trip")
	}
}

func TestFormat(t *testing.T) {
	if got := phash.Format(0xdeadbeef); got != "00000000deadbeef" {
		t.Errorf("Format = %s", got)
	}
}

func TestDistance(t *testing.T) {
	if d := phash.Distance(0, 0); d != 0 {
		t.Errorf("Distance(0,0) = %d", d)
	}
	if d := phash.Distance(0, ^uint64(0)); d != 64 {
		t.Errorf("Distance(0, ~0) = %d", d)
	}
	if d := phash.Distance(0b1010, 0b0110); d != 2 {
		t.Errorf("Distance = %d, want 2", d)
	}
}
