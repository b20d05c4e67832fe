package file

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Ext returns the lower-cased extension of name including the dot.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// IsBaseName reports whether name is a plain file name with no directory part.
func IsBaseName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return filepath.Base(name) == name
}

// PrefixBase prepends prefix to the base name of path, keeping its directory.
func PrefixBase(path, prefix string) string {
	if path == "" {
		return path
	}
	return filepath.Join(filepath.Dir(path), prefix+filepath.Base(path))
}

// ListNames returns the names of regular files directly under dir, sorted.
func ListNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
