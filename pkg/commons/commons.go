// Package commons holds small, dependency-free helpers shared across the
// auth, backup and registry packages: path resolution, hashing,
// case-insensitive comparison and directory retention.
package commons

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExpandHome resolves a leading "~" in path to the current user's home
// directory, the way a CLI tool accepting filesystem paths on the command
// line is expected to.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	if len(path) > 1 && path[1] != '/' && path[1] != '\\' {
		// "~otheruser/..." is not supported; pass through untouched.
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// Sha256Hex returns the hex-encoded SHA-256 digest of s.
func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// EqualCaseInsensitive reports whether a and b are equal ignoring case.
func EqualCaseInsensitive(a, b string) bool {
	return strings.EqualFold(a, b)
}

// FileExists reports whether path exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists reports whether path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Retain keeps the `keep` most-recently-modified regular files in dir and
// removes the rest. Only direct entries are considered; subdirectories are
// ignored. keep <= 0 is treated as "keep nothing".
func Retain(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read backup directory %s: %w", dir, err)
	}

	type fileInfo struct {
		path    string
		modTime int64
	}

	var files []fileInfo
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime().UnixNano(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime < files[j].modTime
	})

	if keep < 0 {
		keep = 0
	}
	toRemove := len(files) - keep
	for i := 0; i < toRemove; i++ {
		if err := os.Remove(files[i].path); err != nil {
			return fmt.Errorf("failed to remove old file %s: %w", files[i].path, err)
		}
	}

	return nil
}
