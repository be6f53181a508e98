// Package content computes content identities for archive files and
// answers dedup queries. Identity is a SHA-256 digest of the file
// bytes: two files with identical bytes hash identically regardless of
// name, path, or timestamps. The full digest is the authoritative
// dedup key; ShortID is a display and filename convenience only.
package content

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mkaverti/fieldvault/internal/db"
	"github.com/mkaverti/fieldvault/internal/model"
)

// ShortIDLen is the truncated hash length used in filenames and UI
// references.
const ShortIDLen = 16

// Identify streams the file through SHA-256 and returns the full hex
// digest.
func Identify(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ShortID truncates a full digest for use in filenames and display.
func ShortID(hash string) string {
	if len(hash) <= ShortIDLen {
		return hash
	}
	return hash[:ShortIDLen]
}

// FindDuplicate returns the existing media row in the location with the
// same content hash, or nil when the bytes are new to that location.
func FindDuplicate(database *sql.DB, locid, hash string) (*model.MediaFile, error) {
	return db.FindMediaByHash(database, locid, hash)
}

// TypeForExt classifies a file extension into a media type, or "" for
// unsupported files.
func TypeForExt(ext string) model.MediaType {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".tif", ".tiff", ".bmp", ".heic", ".dng", ".cr2", ".nef", ".arw":
		return model.MediaImage
	case ".mp4", ".mov", ".mkv", ".avi", ".webm", ".m4v", ".mts":
		return model.MediaVideo
	case ".pdf", ".txt", ".doc", ".docx", ".rtf", ".md":
		return model.MediaDocument
	case ".kml", ".kmz", ".gpx", ".geojson":
		return model.MediaMap
	}
	return ""
}

// ArchivePath builds the deterministic bag-relative path for a placed
// file: data/<kind>/<short-hash><ext>.
func ArchivePath(mediaType model.MediaType, hash, originalName string) string {
	kind := "documents"
	switch mediaType {
	case model.MediaImage:
		kind = "images"
	case model.MediaVideo:
		kind = "videos"
	case model.MediaMap:
		kind = "maps"
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	return filepath.ToSlash(filepath.Join("data", kind, ShortID(hash)+ext))
}
