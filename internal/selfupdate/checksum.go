// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrChecksumMismatch is returned when a downloaded archive does not
// match the hash published in the release manifest.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// parseChecksums reads a sha256sum-style manifest: one "<hex>  <name>"
// line per file, with an optional "*" binary marker before the name.
// Malformed lines are skipped.
func parseChecksums(r io.Reader) (map[string]string, error) {
	sums := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		sum, name := fields[0], strings.TrimPrefix(fields[1], "*")
		if !validHexDigest(sum) || name == "" {
			continue
		}
		sums[name] = strings.ToLower(sum)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checksum manifest: %w", err)
	}
	if len(sums) == 0 {
		return nil, errors.New("checksum manifest has no entries")
	}
	return sums, nil
}

func validHexDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// fileChecksum returns the lowercase hex SHA-256 of the file at path.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }() // read-only file handle

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyChecksum compares the file at path against the expected hex
// digest and wraps ErrChecksumMismatch on disagreement.
func verifyChecksum(path, want string) error {
	got, err := fileChecksum(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%s: %w: manifest has %s, file has %s", filepath.Base(path), ErrChecksumMismatch, want, got)
	}
	return nil
}
