// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFilesystemPath_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    FilesystemPath
		wantErr bool
	}{
		{"absolute path", FilesystemPath("/home/user/.pyvm"), false},
		{"relative path", FilesystemPath("versions"), false},
		{"dot path", FilesystemPath("."), false},
		{"empty is invalid", FilesystemPath(""), true},
		{"whitespace only is invalid", FilesystemPath("   "), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.path.Validate()
			if !tt.wantErr {
				if err != nil {
					t.Errorf("FilesystemPath(%q).Validate() returned unexpected error: %v", tt.path, err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidFilesystemPath) {
				t.Errorf("error should wrap ErrInvalidFilesystemPath, got: %v", err)
			}
			var fpErr *InvalidFilesystemPathError
			if !errors.As(err, &fpErr) {
				t.Errorf("error should be *InvalidFilesystemPathError, got: %T", err)
			}
		})
	}
}

func TestFilesystemPath_JoinAndStat(t *testing.T) {
	t.Parallel()

	root := FilesystemPath(t.TempDir())
	bin := root.Join("versions", "3.11.4", "bin")
	if want := filepath.Join(string(root), "versions", "3.11.4", "bin"); bin.String() != want {
		t.Fatalf("Join() = %q, want %q", bin, want)
	}
	if bin.IsDir() {
		t.Fatal("IsDir() = true before creation")
	}
	if err := os.MkdirAll(bin.String(), 0o755); err != nil {
		t.Fatal(err)
	}
	if !bin.IsDir() {
		t.Error("IsDir() = false after creation")
	}
	if bin.IsFile() {
		t.Error("IsFile() = true for a directory")
	}
}
