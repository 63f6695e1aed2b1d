package filetransfer

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zip"
	"golang.org/x/xerrors"
)

// ErrArchiveTooLarge is returned when an archive unpacks to more than the
// configured limit.
var ErrArchiveTooLarge = xerrors.New("archive exceeds the extraction limit")

// DefaultExtractLimit bounds the total bytes unpacked from one archive.
const DefaultExtractLimit int64 = 256 << 20

// extract unpacks every file of the zip archive into dir, flattening any
// directory structure. It returns the extracted names in archive order.
// Entries whose flattened names collide, or more than limit bytes in total,
// fail the extraction.
func extract(archive, dir string, limit int64) (entries []string, err error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, xerrors.Errorf("opening archive %s: %w", filepath.Base(archive), err)
	}
	defer func() {
		if cerr := zr.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	seen := map[string]string{strings.ToLower(filepath.Base(archive)): filepath.Base(archive)}
	remaining := limit
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}

		clean := filepath.ToSlash(filepath.Clean(zf.Name))
		if filepath.IsAbs(zf.Name) || clean == ".." || strings.HasPrefix(clean, "../") {
			return nil, xerrors.Errorf("archive entry %q escapes the archive", zf.Name)
		}

		name := SafeName(zf.Name)
		if name == "" {
			return nil, xerrors.Errorf("archive entry %q has no usable name", zf.Name)
		}
		key := strings.ToLower(name)
		if prev, ok := seen[key]; ok {
			return nil, xerrors.Errorf("archive entries %q and %q both extract to %s", prev, zf.Name, name)
		}
		seen[key] = zf.Name

		n, err := extractFile(zf, filepath.Join(dir, name), remaining)
		if err != nil {
			return nil, xerrors.Errorf("extracting %s: %w", zf.Name, err)
		}
		remaining -= n
		entries = append(entries, name)
	}

	return entries, nil
}

// extractFile copies zf to dst, failing once more than limit bytes are read.
func extractFile(zf *zip.File, dst string, limit int64) (n int64, err error) {
	rc, err := zf.Open()
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err = io.Copy(out, io.LimitReader(rc, limit+1))
	if err != nil {
		return n, multierror.Append(err, out.Close())
	}
	if n > limit {
		return n, multierror.Append(ErrArchiveTooLarge, out.Close())
	}
	return n, out.Close()
}
