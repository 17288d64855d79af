// Package hash fingerprints experiment inputs so that a report can be tied
// to the exact data it was computed from.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
)

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256Short returns the first n characters of a SHA256 hash.
func SHA256Short(data []byte, n int) string {
	h := SHA256(data)
	if n > len(h) {
		return h
	}
	return h[:n]
}

// File streams a file through SHA256.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Synthetic derives a short id for a generated collection from its seed and
// the generator settings, formatted with %v.
func Synthetic(seed uint64, settings any) string {
	data := []byte(strconv.FormatUint(seed, 10) + ":" + fmt.Sprintf("%+v", settings))
	return "synthetic:" + SHA256Short(data, 16)
}
