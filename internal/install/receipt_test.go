// SPDX-License-Identifier: MPL-2.0

package install

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pyvm/pyvm/internal/registry"
	"github.com/pyvm/pyvm/internal/testutil"
)

func TestReceipt_WriteRead(t *testing.T) {
	t.Parallel()

	prefix := t.TempDir()
	want := &Receipt{
		Name:        "3.12.1",
		ID:          "0b7c2f0e-6f7c-4a53-9a53-3a9d8f3b1c11",
		Kind:        registry.KindBinary,
		Source:      "github:astral-sh/python-build-standalone@20240107",
		URL:         "https://github.com/dl/cpython-3.12.1.tar.gz",
		SHA256:      hashA,
		InstalledAt: time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC),
	}
	if err := WriteReceipt(prefix, want); err != nil {
		t.Fatalf("WriteReceipt() error: %v", err)
	}

	raw := testutil.MustReadFile(t, filepath.Join(prefix, ReceiptFile))
	if !strings.Contains(raw, "3.12.1") || !strings.Contains(raw, "installed_at = 2026-10-14T09:30:00Z") {
		t.Errorf("receipt is not the expected TOML:\n%s", raw)
	}

	got, err := ReadReceipt(prefix)
	if err != nil {
		t.Fatalf("ReadReceipt() error: %v", err)
	}
	if !got.InstalledAt.Equal(want.InstalledAt) {
		t.Errorf("InstalledAt = %v, want %v", got.InstalledAt, want.InstalledAt)
	}
	gotCopy, wantCopy := *got, *want
	gotCopy.InstalledAt, wantCopy.InstalledAt = time.Time{}, time.Time{}
	if gotCopy != wantCopy {
		t.Errorf("ReadReceipt() = %+v, want %+v", gotCopy, wantCopy)
	}
}

func TestReadReceipt_Errors(t *testing.T) {
	t.Parallel()

	if _, err := ReadReceipt(t.TempDir()); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadReceipt() without a receipt = %v, want ErrNotExist", err)
	}

	prefix := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(prefix, ReceiptFile), []byte("name = "), 0o644)
	if _, err := ReadReceipt(prefix); err == nil {
		t.Error("ReadReceipt() of malformed TOML should fail")
	}
}
