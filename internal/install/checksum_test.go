// SPDX-License-Identifier: MPL-2.0

package install

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	hashA = "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2"
	hashB = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	// sha256("hello world\n")
	helloHash = "a948904f2f0f479b8f8197694b30184b0d2ed1c1cd2a1ec0fb85d299a192a447"
)

func TestParseChecksums(t *testing.T) {
	t.Parallel()

	input := strings.NewReader(
		"# release 20240107\n" +
			hashA + "  cpython-3.12.1+20240107-x86_64-unknown-linux-gnu-install_only.tar.gz\n" +
			"\n" +
			"abcdef1234  short.tar.gz\n" +
			"zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz  bad_hex.tar.gz\n" +
			hashA + "  \n" +
			strings.ToUpper(hashB) + " *dist/Python-3.11.4.tgz\n",
	)

	entries, err := ParseChecksums(input)
	if err != nil {
		t.Fatalf("ParseChecksums() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[1].Hash != hashB || entries[1].Filename != "dist/Python-3.11.4.tgz" {
		t.Errorf("entries[1] = %+v, want lowercased hash and binary marker stripped", entries[1])
	}

	if _, err := ParseChecksums(strings.NewReader("not-a-valid-line\n")); err == nil {
		t.Error("ParseChecksums() with no valid entries should fail")
	}
}

func TestFindChecksum(t *testing.T) {
	t.Parallel()

	entries := []ChecksumEntry{
		{Hash: hashA, Filename: "cpython-3.12.1-install_only.tar.gz"},
		{Hash: hashB, Filename: "dist/Python-3.11.4.tgz"},
	}

	tests := []struct {
		name    string
		file    string
		want    string
		wantErr bool
	}{
		{"exact", "cpython-3.12.1-install_only.tar.gz", hashA, false},
		{"base name", "Python-3.11.4.tgz", hashB, false},
		{"missing", "Python-3.10.0.tgz", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := FindChecksum(entries, tt.file)
			if tt.wantErr {
				if !errors.Is(err, ErrArchiveNotListed) {
					t.Errorf("FindChecksum() = %v, want ErrArchiveNotListed", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("FindChecksum() = %q, %v, want %q", got, err, tt.want)
			}
		})
	}
}

func TestVerifyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "archive.tgz")
	if err := os.WriteFile(path, []byte("hello world\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := VerifyFile(path, strings.ToUpper(helloHash)); err != nil {
		t.Errorf("VerifyFile() with matching hash = %v", err)
	}

	err := VerifyFile(path, hashA)
	var ce *ChecksumError
	if !errors.As(err, &ce) || !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("VerifyFile() = %v, want ChecksumError", err)
	}
	if ce.Got != helloHash || ce.Expected != hashA {
		t.Errorf("ChecksumError = %+v", ce)
	}

	if err := VerifyFile(filepath.Join(t.TempDir(), "missing"), hashA); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("VerifyFile() on missing file = %v, want ErrNotExist", err)
	}
}
