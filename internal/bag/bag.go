// Package bag maintains the per-location BagIt bags (RFC 8493) that
// make the archive independently verifiable: a payload manifest of
// SHA-256 checksums plus descriptive tag files, regenerated after every
// mutation of a location's holdings. Any third-party BagIt tool can
// verify a location directory without this application.
package bag

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mkaverti/fieldvault/internal/content"
	"github.com/mkaverti/fieldvault/internal/model"
)

const (
	bagDeclaration = "BagIt-Version: 1.0\nTag-File-Character-Encoding: UTF-8\n"

	manifestName    = "manifest-sha256.txt"
	tagManifestName = "tagmanifest-sha256.txt"
	bagInfoName     = "bag-info.txt"
	bagItName       = "bagit.txt"
)

// Entry is one payload file as recorded in the manifest.
type Entry struct {
	Path string // bag-relative, forward slashes, under data/
	Hash string // full sha256 hex
	Size int64
}

// Synchronizer writes bag state under the archive root. All writes are
// deterministic for a given file set and location metadata: entries
// sorted by path, fixed tag order.
type Synchronizer struct {
	Archive string // archive root; bags live at locations/<locid>/
}

// BagDir returns the bag directory for a location.
func (s *Synchronizer) BagDir(locid string) string {
	return filepath.Join(s.Archive, "locations", locid)
}

// Regenerate rebuilds the full bag for a location from its current live
// file list, overwriting prior manifest state.
func (s *Synchronizer) Regenerate(loc *model.Location, files []model.MediaFile) error {
	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		entries = append(entries, Entry{Path: f.ArchivePath, Hash: f.Hash, Size: f.SizeBytes})
	}
	return s.writeBag(loc, entries)
}

// UpdateInfo rewrites the descriptive tag files after metadata-only
// edits without re-enumerating the payload. The payload manifest is
// left untouched; extra holds additional bag-info fields.
func (s *Synchronizer) UpdateInfo(loc *model.Location, extra map[string]string) error {
	dir := s.BagDir(loc.ID)
	entries, err := ReadManifest(filepath.Join(dir, manifestName))
	if err != nil {
		return fmt.Errorf("read manifest for %s: %w", loc.ID, err)
	}
	// Sizes are not recorded in the payload manifest; recover them from
	// disk so Payload-Oxum stays accurate.
	for i := range entries {
		if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(entries[i].Path))); err == nil {
			entries[i].Size = info.Size()
		}
	}
	if err := s.writeInfo(loc, entries, extra); err != nil {
		return err
	}
	return s.writeTagManifest(dir)
}

func (s *Synchronizer) writeBag(loc *model.Location, entries []Entry) error {
	dir := s.BagDir(loc.ID)
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0755); err != nil {
		return fmt.Errorf("create bag dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, bagItName), []byte(bagDeclaration), 0644); err != nil {
		return fmt.Errorf("write bagit.txt: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %s\n", e.Hash, e.Path)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if err := s.writeInfo(loc, entries, nil); err != nil {
		return err
	}
	return s.writeTagManifest(dir)
}

func (s *Synchronizer) writeInfo(loc *model.Location, entries []Entry, extra map[string]string) error {
	var totalBytes int64
	for _, e := range entries {
		totalBytes += e.Size
	}

	var b strings.Builder
	writeTag := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	writeTag("Bag-Software-Agent", "fieldvault")
	writeTag("External-Identifier", loc.ID)
	writeTag("Location-Name", loc.Name)
	writeTag("Location-Category", loc.Category)
	writeTag("Location-Address", loc.Address)
	writeTag("Payload-Oxum", fmt.Sprintf("%d.%d", totalBytes, len(entries)))
	writeTag("Bag-Size", formatSize(totalBytes))

	if len(extra) > 0 {
		keys := make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeTag(k, extra[k])
		}
	}

	path := filepath.Join(s.BagDir(loc.ID), bagInfoName)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write bag-info: %w", err)
	}
	return nil
}

// writeTagManifest checksums the tag files themselves so tampering with
// bag-info or the payload manifest is detectable.
func (s *Synchronizer) writeTagManifest(dir string) error {
	var b strings.Builder
	for _, name := range []string{bagItName, bagInfoName, manifestName} {
		sum, err := content.Identify(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("hash tag file %s: %w", name, err)
		}
		fmt.Fprintf(&b, "%s  %s\n", sum, name)
	}
	if err := os.WriteFile(filepath.Join(dir, tagManifestName), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write tagmanifest: %w", err)
	}
	return nil
}

// ReadManifest parses a payload manifest into entries. Sizes are zero;
// the manifest records only checksum and path.
func ReadManifest(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		if line == "" {
			continue
		}
		hash, rest, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("malformed manifest line %q", line)
		}
		entries = append(entries, Entry{Hash: hash, Path: strings.TrimLeft(rest, " ")})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func formatSize(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
