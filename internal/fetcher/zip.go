package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// MaxZIPEntryBytes caps the uncompressed size of any single archive entry.
const MaxZIPEntryBytes = 512 << 20

// ExtractZIP unpacks a reference bundle into destDir and returns the paths of
// the extracted files. Directories, macOS resource forks (__MACOSX/, ._*)
// and other dot-files are skipped so they never shadow the real data files.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	root := filepath.Clean(destDir)
	var extracted []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || skipEntry(f.Name) {
			continue
		}
		dest, err := entryPath(root, f.Name)
		if err != nil {
			return extracted, err
		}
		if err := writeEntry(f, dest); err != nil {
			return extracted, err
		}
		extracted = append(extracted, dest)
	}
	return extracted, nil
}

// FindByExt returns the first path with the given extension, compared
// case-insensitively.
func FindByExt(paths []string, ext string) (string, bool) {
	for _, p := range paths {
		if strings.EqualFold(filepath.Ext(p), ext) {
			return p, true
		}
	}
	return "", false
}

func skipEntry(name string) bool {
	name = strings.ReplaceAll(name, `\`, "/")
	for _, part := range strings.Split(name, "/") {
		if part == "__MACOSX" {
			return true
		}
	}
	return strings.HasPrefix(path.Base(name), ".")
}

// entryPath resolves an entry name under root, rejecting names that would
// escape it.
func entryPath(root, name string) (string, error) {
	dest := filepath.Join(root, filepath.FromSlash(name))
	if !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: entry %q escapes destination", name)
	}
	return dest, nil
}

func writeEntry(f *zip.File, dest string) error {
	if f.UncompressedSize64 > MaxZIPEntryBytes {
		return eris.Errorf("zip: entry %q is %d bytes, limit %d", f.Name, f.UncompressedSize64, MaxZIPEntryBytes)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrapf(err, "zip: create directory for %q", f.Name)
	}

	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "zip: open entry %q", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "zip: create %s", dest)
	}

	// Header sizes can lie; bound the copy as well.
	n, err := io.Copy(out, io.LimitReader(rc, MaxZIPEntryBytes+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return eris.Wrapf(err, "zip: write %s", dest)
	}
	if n > MaxZIPEntryBytes {
		return eris.Errorf("zip: entry %q exceeds %d bytes", f.Name, MaxZIPEntryBytes)
	}
	return nil
}
