package artifact

import (
	"archive/tar"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Member is one file placed into an archive under Name.
type Member struct {
	Path string // file on disk
	Name string // name inside the archive
}

// WriteTarGz archives members into a gzip-compressed tar at dest. The
// archive is written atomically: either every member reaches dest or dest
// is left as it was.
func WriteTarGz(dest string, members []Member) error {
	return WriteFileAtomic(dest, 0o644, func(w io.Writer) error {
		zw := gzip.NewWriter(w)
		tw := tar.NewWriter(zw)
		for _, m := range members {
			if err := addFile(tw, m); err != nil {
				return err
			}
		}
		if err := tw.Close(); err != nil {
			return fmt.Errorf("close tar: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("close gzip: %w", err)
		}
		return nil
	})
}

func addFile(tw *tar.Writer, m Member) error {
	f, err := os.Open(m.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", m.Path, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("header for %s: %w", m.Path, err)
	}
	hdr.Name = m.Name
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", m.Name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write %s: %w", m.Name, err)
	}
	return nil
}
