package testkit

import (
	"encoding/hex"
	"os"
	"path/filepath"
)

// CountObjects returns the number of regular files in dir whose names are
// 64 character hex digests. Symlinks and staging files are not counted.
func CountObjects(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !isHexName(e.Name()) {
			continue
		}
		n++
	}
	return n, nil
}

// CountStaging returns the number of leftover dot-prefixed files in dir.
func CountStaging(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, ".staging-*"))
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

// CorruptFile flips the first byte of the file at path, working around the
// read-only mode objects are stored with.
func CorruptFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		data[0] ^= 0xFF
	}
	if err := os.Chmod(path, 0o644); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func isHexName(name string) bool {
	if len(name) != 64 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}
