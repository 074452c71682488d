package rawimport

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// makeLocalCopy implements spec.md §4.3: materialize a writable, named
// copy of the just-downloaded image at <image_root>/<local>.raw.
func (d *download) makeLocalCopy() error {
	if d.local == "" {
		return nil
	}

	src := d.diskFile
	if src == nil {
		f, err := os.Open(d.finalPathValue)
		if err != nil {
			return fmt.Errorf("open cached image for local copy: %w", err)
		}
		defer f.Close()
		src = f
	} else {
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seek source image: %w", err)
		}
	}

	dest := filepath.Join(d.imageRoot, d.local+".raw")

	if d.forceLocal {
		if err := os.RemoveAll(dest); err != nil {
			d.log.Warn("failed to remove existing local copy", "path", dest, "error", err)
		}
	}

	tmp, err := tempSibling(dest)
	if err != nil {
		return fmt.Errorf("generate temp name: %w", err)
	}

	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o664)
	if err != nil {
		return fmt.Errorf("create writable copy: %w", err)
	}

	if err := setNoCOW(out); err != nil {
		d.log.Warn("failed to disable copy-on-write on local copy", "path", tmp, "error", err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy image content: %w", err)
	}

	copyBestEffortMetadata(d.log, src, out)

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close writable copy: %w", err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("move writable copy into place: %w", err)
	}

	d.log.Info("created local image copy", "path", dest)
	return nil
}

// copyBestEffortMetadata copies timestamps and xattrs from src to dst,
// logging but never failing on error (spec.md §4.3 step 6, §7
// propagation policy for filesystem-attribute operations).
func copyBestEffortMetadata(log *slog.Logger, src, dst *os.File) {
	if fi, err := src.Stat(); err == nil {
		if err := os.Chtimes(dst.Name(), fi.ModTime(), fi.ModTime()); err != nil {
			log.Warn("failed to copy timestamps to local copy", "error", err)
		}
	}
	if err := copyXattrs(src, dst); err != nil {
		log.Warn("failed to copy xattrs to local copy", "error", err)
	}
}
