// Package janitor prunes empty directories left behind after files are deleted.
package janitor

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// RemoveEmptyDirs removes every empty directory below root, deepest first, so
// that a parent emptied by its children's removal goes in the same pass. The
// root itself and any excluded subtree are never touched. Removal errors are
// ignored. It returns the number of directories removed.
func RemoveEmptyDirs(root string, exclude ...string) int {
	root = filepath.Clean(root)
	skip := make([]string, 0, len(exclude))
	for _, ex := range exclude {
		skip = append(skip, filepath.Clean(ex))
	}

	var dirs []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if excluded(p, skip) {
			return fs.SkipDir
		}
		if p != root {
			dirs = append(dirs, p)
		}
		return nil
	})

	removed := 0
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil || len(entries) > 0 {
			continue
		}
		if os.Remove(dirs[i]) == nil {
			removed++
		}
	}
	return removed
}

func excluded(p string, skip []string) bool {
	for _, ex := range skip {
		if p == ex || strings.HasPrefix(p, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
