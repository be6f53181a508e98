package importer

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mkaverti/fieldvault/internal/content"
)

// system droppings that never belong in an archive
var ignoredNames = map[string]bool{
	".DS_Store":   true,
	"Thumbs.db":   true,
	"desktop.ini": true,
}

func ignored(name string) bool {
	if ignoredNames[name] {
		return true
	}
	return strings.HasPrefix(name, ".")
}

// discover expands the input paths (files or directories) into a flat,
// ordered candidate list, filtering unsupported and system files. It is
// side-effect free; unreadable inputs are returned as candidates with
// an error so the hash stage records them instead of dropping them.
func discover(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			// keep it; hash stage will record the per-file error
			out = append(out, p)
			continue
		}
		if !info.IsDir() {
			if supported(p) {
				out = append(out, p)
			}
			continue
		}
		err = filepath.Walk(p, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if fi.IsDir() {
				if ignored(fi.Name()) && path != p {
					return filepath.SkipDir
				}
				return nil
			}
			if ignored(fi.Name()) || !supported(path) {
				return nil
			}
			out = append(out, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func supported(path string) bool {
	return content.TypeForExt(filepath.Ext(path)) != ""
}
