// SPDX-License-Identifier: MPL-2.0

package install

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

var (
	// ErrChecksumMismatch is the sentinel error wrapped by ChecksumError.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrArchiveNotListed is returned when a checksum file has no line for
	// the archive being installed.
	ErrArchiveNotListed = errors.New("archive not listed in checksums")

	errNoValidEntries = errors.New("no valid checksum entries found")
)

type (
	// ChecksumEntry is one line of a sha256sum file. Hash is lowercase hex.
	ChecksumEntry struct {
		Hash     string
		Filename string
	}

	// ChecksumError reports an archive whose SHA256 differs from its
	// definition.
	ChecksumError struct {
		Filename string
		Expected string
		Got      string
	}
)

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("sha256 of %s is %s, definition expects %s", e.Filename, e.Got, e.Expected)
}

// Unwrap returns ErrChecksumMismatch.
func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// ParseChecksums reads sha256sum output, as published next to CPython
// tarballs and python-build-standalone releases:
//
//	<hex>  cpython-3.12.1+20240107-x86_64-unknown-linux-gnu-install_only.tar.gz
//	<hex> *dist/Python-3.11.4.tgz
//
// Comments, blank lines and malformed lines are skipped. A file with no
// usable line is an error.
func ParseChecksums(r io.Reader) ([]ChecksumEntry, error) {
	var entries []ChecksumEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if e, ok := parseChecksumLine(scanner.Text()); ok {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checksums: %w", err)
	}
	if len(entries) == 0 {
		return nil, errNoValidEntries
	}
	return entries, nil
}

func parseChecksumLine(line string) (ChecksumEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return ChecksumEntry{}, false
	}
	hash, name, ok := strings.Cut(line, " ")
	if !ok || len(hash) != sha256.Size*2 {
		return ChecksumEntry{}, false
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return ChecksumEntry{}, false
	}
	// "*" marks binary mode in sha256sum output.
	name = strings.TrimPrefix(strings.TrimSpace(name), "*")
	if name == "" {
		return ChecksumEntry{}, false
	}
	return ChecksumEntry{Hash: strings.ToLower(hash), Filename: name}, true
}

// FindChecksum returns the hash listed for filename. Entries carrying a
// directory ("dist/<file>") match on their base name.
func FindChecksum(entries []ChecksumEntry, filename string) (string, error) {
	for _, e := range entries {
		if e.Filename == filename || path.Base(e.Filename) == filename {
			return e.Hash, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrArchiveNotListed, filename)
}

// VerifyFile checks the file at path against expectedHash, ignoring case.
func VerifyFile(path, expectedHash string) error {
	got, err := ComputeFileHash(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, expectedHash) {
		return &ChecksumError{Filename: path, Expected: strings.ToLower(expectedHash), Got: got}
	}
	return nil
}

// ComputeFileHash returns the lowercase hex SHA256 of the file at path.
func ComputeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }() // read-only

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
