// Package phash computes 64-bit perceptual hashes for images so
// near-duplicate holdings (re-exports, recompressions, minor crops) can
// be surfaced for review. Exact byte duplicates are handled by content
// hashing at import; this catches the rest.
//
// The hash is the classic DCT approach: downsample to 32x32 grayscale,
// take the 2-D DCT, threshold the low-frequency 8x8 block against its
// median.
package phash

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/bits"
	"os"
	"sort"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"
)

const (
	sampleSize = 32
	blockSize  = 8
)

// dctMatrix is the N x N orthonormal DCT-II basis; the 2-D transform is
// D * A * D^T.
func dctMatrix(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for k := 0; k < n; k++ {
		scale := math.Sqrt(2.0 / float64(n))
		if k == 0 {
			scale = math.Sqrt(1.0 / float64(n))
		}
		for i := 0; i < n; i++ {
			d.Set(k, i, scale*math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(n))))
		}
	}
	return d
}

var basis = dctMatrix(sampleSize)

// File hashes the image at path.
func File(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return Image(img), nil
}

// Image hashes a decoded image.
func Image(img image.Image) uint64 {
	small := image.NewGray(image.Rect(0, 0, sampleSize, sampleSize))
	draw.CatmullRom.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	data := make([]float64, sampleSize*sampleSize)
	for y := 0; y < sampleSize; y++ {
		for x := 0; x < sampleSize; x++ {
			data[y*sampleSize+x] = float64(small.GrayAt(x, y).Y)
		}
	}
	a := mat.NewDense(sampleSize, sampleSize, data)

	var tmp, freq mat.Dense
	tmp.Mul(basis, a)
	freq.Mul(&tmp, basis.T())

	// low-frequency block, skipping the DC term for the median
	coeffs := make([]float64, 0, blockSize*blockSize)
	for y := 0; y < blockSize; y++ {
		for x := 0; x < blockSize; x++ {
			coeffs = append(coeffs, freq.At(y, x))
		}
	}
	sorted := append([]float64(nil), coeffs[1:]...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]

	var h uint64
	for i, c := range coeffs {
		if c > median {
			h |= 1 << uint(63-i)
		}
	}
	return h
}

// Distance is the Hamming distance between two hashes; values below ~10
// usually indicate the same picture.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Format renders a hash in the fixed-width hex form stored on media
// rows.
func Format(h uint64) string {
	return fmt.Sprintf("%016x", h)
}
