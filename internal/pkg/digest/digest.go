// Package digest provides the content hashes used in manifests and
// cross-rank comparisons.
package digest

import (
	"encoding/hex"
	"io"
	"os"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// File returns the hex BLAKE2b-256 digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Set returns an order-independent digest of items.
func Set(items []string) string {
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	return Sequence(sorted)
}

// Sequence returns an order-sensitive digest of items.
func Sequence(items []string) string {
	h, _ := blake2b.New256(nil)
	for _, s := range items {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
