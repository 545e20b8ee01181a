package file

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FindByExt lists regular files (or symlinks to them) under dir whose lowercased extension is in
// exts. Without recursive only the top level is scanned. Paths are sorted.
func FindByExt(dir string, recursive bool, exts map[string]bool) ([]string, error) {
	var found []string

	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !isRegular(filepath.Join(dir, entry.Name()), entry) {
				continue
			}
			if exts[strings.ToLower(filepath.Ext(entry.Name()))] {
				found = append(found, filepath.Join(dir, entry.Name()))
			}
		}
		sort.Strings(found)
		return found, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !isRegular(path, d) {
			return nil
		}
		if exts[strings.ToLower(filepath.Ext(path))] {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}

// isRegular follows a symlink entry to its target. Dangling links are skipped.
func isRegular(path string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
