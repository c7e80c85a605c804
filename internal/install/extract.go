// SPDX-License-Identifier: MPL-2.0

package install

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/pyvm/pyvm/internal/registry"
)

const (
	// DefaultMaxFileBytes caps a single extracted file (2 GiB).
	DefaultMaxFileBytes int64 = 2 << 30
	// DefaultMaxTotalBytes caps the whole extracted tree (8 GiB).
	DefaultMaxTotalBytes int64 = 8 << 30
)

var (
	// ErrUnsafePath is returned for archive entries that would land outside
	// the destination directory.
	ErrUnsafePath = errors.New("archive entry escapes destination")
	// ErrArchiveTooLarge is returned when an extraction size cap is exceeded.
	ErrArchiveTooLarge = errors.New("archive exceeds size limit")
)

// ExtractOptions controls Extract.
type ExtractOptions struct {
	// StripComponents drops this many leading path elements from each entry.
	// Entries with no remaining elements are skipped.
	StripComponents int
	MaxFileBytes    int64
	MaxTotalBytes   int64
}

// extractor writes entries below dest while enforcing the caps. Every
// create goes through root, so a symlink left by an earlier entry can never
// carry a later write outside dest.
type extractor struct {
	root *os.Root
	// realDest is dest with symlinks resolved.
	realDest string
	opts     ExtractOptions
	written  int64
}

// Extract unpacks the archive at archivePath into dest, which is created.
func Extract(archivePath string, format registry.ArchiveFormat, dest string, opts ExtractOptions) (err error) {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if opts.MaxTotalBytes <= 0 {
		opts.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	realDest, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dest, err)
	}
	root, err := os.OpenRoot(realDest)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dest, err)
	}
	defer func() { _ = root.Close() }()
	x := &extractor{root: root, realDest: realDest, opts: opts}

	if format == registry.FormatZip {
		return x.zip(archivePath)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		// Read-only file handle; close errors are exotic.
		_ = f.Close()
	}()

	var r io.Reader
	switch format {
	case registry.FormatTarGz:
		gz, gzErr := gzip.NewReader(f)
		if gzErr != nil {
			return fmt.Errorf("creating gzip reader: %w", gzErr)
		}
		defer func() { _ = gz.Close() }() // read-only
		r = gz
	case registry.FormatTarZst:
		zr, zErr := zstd.NewReader(f)
		if zErr != nil {
			return fmt.Errorf("creating zstd reader: %w", zErr)
		}
		defer zr.Close()
		r = zr
	default:
		return fmt.Errorf("%w: %q", registry.ErrUnknownArchiveFormat, format)
	}
	return x.tar(tar.NewReader(r))
}

func (x *extractor) tar(tr *tar.Reader) error {
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		rel, ok, err := x.target(hdr.Name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		mode := hdr.FileInfo().Mode()
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := x.root.MkdirAll(rel, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := x.writeFile(rel, tr, mode.Perm(), hdr.Size); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := x.symlink(rel, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			src, ok, err := x.target(hdr.Linkname)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: hard link %s -> %s", ErrUnsafePath, hdr.Name, hdr.Linkname)
			}
			if err := x.mkdirParent(rel); err != nil {
				return err
			}
			if err := x.root.Link(src, rel); err != nil {
				return fmt.Errorf("linking %s: %w", hdr.Name, err)
			}
		default:
			// Devices, fifos and pax metadata entries have no place in an
			// interpreter tree.
		}
	}
}

func (x *extractor) zip(archivePath string) (err error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = zr.Close() }() // read-only

	for _, f := range zr.File {
		rel, ok, err := x.target(f.Name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := x.root.MkdirAll(rel, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", f.Name, err)
			}
		case mode&fs.ModeSymlink != 0:
			linkname, err := readZipEntry(f, 4096)
			if err != nil {
				return err
			}
			if err := x.symlink(rel, linkname); err != nil {
				return err
			}
		default:
			if err := x.copyZipEntry(f, rel, mode.Perm()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *extractor) copyZipEntry(f *zip.File, rel string, perm fs.FileMode) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }() // read-only
	return x.writeFile(rel, rc, perm, int64(f.UncompressedSize64))
}

func readZipEntry(f *zip.File, limit int64) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }() // read-only
	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", f.Name, err)
	}
	return string(data), nil
}

// target maps an entry name onto a path relative to dest. ok is false when
// the entry is consumed entirely by StripComponents.
func (x *extractor) target(name string) (_ string, ok bool, _ error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if clean == "." {
		return "", false, nil
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false, fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	parts := strings.Split(clean, "/")
	if len(parts) <= x.opts.StripComponents {
		return "", false, nil
	}
	rel := filepath.FromSlash(strings.Join(parts[x.opts.StripComponents:], "/"))
	if !filepath.IsLocal(rel) {
		return "", false, fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return rel, true, nil
}

func (x *extractor) mkdirParent(rel string) error {
	parent := filepath.Dir(rel)
	if parent == "." {
		return nil
	}
	if err := x.root.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", parent, err)
	}
	return nil
}

// symlink creates rel -> linkname, refusing links that resolve outside dest.
// The link is resolved from the real location of its parent, which may sit
// behind links made by earlier entries.
func (x *extractor) symlink(rel, linkname string) error {
	slashed := strings.ReplaceAll(linkname, `\`, "/")
	if filepath.IsAbs(linkname) || path.IsAbs(slashed) {
		return fmt.Errorf("%w: absolute symlink %s -> %s", ErrUnsafePath, rel, linkname)
	}
	if climbsAfterDescending(slashed) {
		return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, rel, linkname)
	}
	if err := x.mkdirParent(rel); err != nil {
		return err
	}
	realParent, err := filepath.EvalSymlinks(filepath.Join(x.realDest, filepath.Dir(rel)))
	if err != nil {
		return fmt.Errorf("resolving parent of %s: %w", rel, err)
	}
	resolved, err := filepath.Rel(x.realDest, filepath.Join(realParent, filepath.FromSlash(slashed)))
	if err != nil || !filepath.IsLocal(resolved) {
		return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, rel, linkname)
	}
	_ = x.root.Remove(rel) // a later entry replaces an earlier one
	if err := x.root.Symlink(linkname, rel); err != nil {
		return fmt.Errorf("creating symlink %s: %w", rel, err)
	}
	return nil
}

// climbsAfterDescending reports whether a link target has a ".." after a
// named element, as in "bin/../..". Such a target would climb out of
// whatever the named element points at, which a lexical check cannot see.
func climbsAfterDescending(link string) bool {
	descended := false
	for elem := range strings.SplitSeq(link, "/") {
		switch elem {
		case "", ".":
		case "..":
			if descended {
				return true
			}
		default:
			descended = true
		}
	}
	return false
}

func (x *extractor) writeFile(rel string, r io.Reader, perm fs.FileMode, size int64) (err error) {
	if size > x.opts.MaxFileBytes {
		return fmt.Errorf("%w: %s is %d bytes", ErrArchiveTooLarge, rel, size)
	}
	if err := x.mkdirParent(rel); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	// Never write through a link left by an earlier entry.
	_ = x.root.Remove(rel)

	f, err := x.root.OpenFile(rel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", rel, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	// Headers can lie about sizes; the limit reader enforces the caps on the
	// bytes actually decompressed.
	limit := min(x.opts.MaxFileBytes, x.opts.MaxTotalBytes-x.written)
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	x.written += n
	if err != nil {
		return fmt.Errorf("extracting %s: %w", rel, err)
	}
	if n > limit {
		return fmt.Errorf("%w: %s", ErrArchiveTooLarge, rel)
	}
	return nil
}
