package artifact

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

// ErrUnsafePath is returned when an archive member would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("archive member escapes destination")

// ExtractFile extracts the tar archive at src into dest. See Extract.
func ExtractFile(ctx context.Context, src, dest string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	return Extract(ctx, f, dest)
}

// Extract unpacks a tar stream, optionally gzip-compressed, into dest and
// returns the relative paths of the regular files written. Directories are
// created as needed; links and device entries are skipped.
func Extract(ctx context.Context, r io.Reader, dest string) ([]string, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	root, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}

	var files []string
	tr := tar.NewReader(src)
	for {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("read archive: %w", err)
		}

		target, rel, err := memberPath(root, hdr.Name)
		if err != nil {
			return files, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := writeMember(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return files, err
			}
			files = append(files, rel)
		}
	}
}

func memberPath(root, name string) (string, string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	rel := filepath.Clean(filepath.FromSlash(name))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(root, rel), filepath.ToSlash(rel), nil
}

func writeMember(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return f.Close()
}
