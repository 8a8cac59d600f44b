// Package crypto provides content hashing and signature verification for
// extension artifacts and the signed manifest that declares them.
package crypto

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// HashPrefix is prepended to every hash string produced by this package, matching
// the manifest's "blake3:<hex>" encoding.
const HashPrefix = "blake3:"

// HashBytes computes the prefixed BLAKE3 hash of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// HashFile computes the prefixed BLAKE3 hash of a file's contents without
// loading the whole file into memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return HashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyHash reports whether data's BLAKE3 hash equals expected. expected may
// be given with or without the "blake3:" prefix.
func VerifyHash(data []byte, expected string) bool {
	want := trimHashPrefix(expected)
	got := trimHashPrefix(HashBytes(data))
	return want != "" && want == got
}

// VerifyFileHash reports whether the file at path's BLAKE3 hash equals expected.
func VerifyFileHash(path string, expected string) (bool, error) {
	got, err := HashFile(path)
	if err != nil {
		return false, err
	}
	return trimHashPrefix(got) == trimHashPrefix(expected), nil
}

func trimHashPrefix(s string) string {
	if len(s) > len(HashPrefix) && s[:len(HashPrefix)] == HashPrefix {
		return s[len(HashPrefix):]
	}
	return s
}
