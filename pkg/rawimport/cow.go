package rawimport

import (
	"fmt"
	"io"
	"os"

	"github.com/lima-vm/go-qcow2reader"
	"github.com/lima-vm/go-qcow2reader/image"
)

// cowConvertChunkSize is the read granularity used when copying a COW
// container's logical content into a flat raw file.
const cowConvertChunkSize = 1 << 20 // 1 MiB

// nonClosingFile passes an *os.File to qcow2reader.Open with a no-op
// Close: the returned image's Close also closes its underlying reader
// when that reader is an io.Closer, and probing must leave f open.
type nonClosingFile struct{ *os.File }

func (nonClosingFile) Close() error { return nil }

// probeCOW reports whether f holds a QCOW2 container (the "COW
// container" of spec.md's GLOSSARY), per spec.md §6.1's
// "probe(fd) -> {0=not-container, >0=container, <0=error}" contract.
// Any other recognized format (plain raw, vmdk, ...) is treated as
// "not a container" — this importer only converts QCOW2, matching
// spec.md §1's "a single container family" scope.
func probeCOW(f *os.File) (bool, error) {
	img, err := qcow2reader.Open(nonClosingFile{f})
	if err != nil {
		if err == image.ErrWrongType {
			return false, nil
		}
		return false, fmt.Errorf("probe container format: %w", err)
	}
	defer img.Close()

	return img.Type() == "qcow2", nil
}

// convertCOW reads the logical (decompressed, defragmented) content of
// the QCOW2 image backed by src and writes it as a flat raw file to dst,
// preserving holes reported by the container's extent map.
func convertCOW(src *os.File, dst *os.File) error {
	img, err := qcow2reader.Open(src)
	if err != nil {
		return fmt.Errorf("open container for conversion: %w", err)
	}
	defer img.Close()

	size := img.Size()
	if size < 0 {
		return fmt.Errorf("container has unknown size")
	}

	buf := make([]byte, cowConvertChunkSize)
	var offset int64
	for offset < size {
		chunkLen := int64(len(buf))
		if remaining := size - offset; remaining < chunkLen {
			chunkLen = remaining
		}

		ext, err := img.Extent(offset, chunkLen)
		if err != nil {
			return fmt.Errorf("read extent at %d: %w", offset, err)
		}

		if ext.Zero {
			if _, err := dst.Seek(ext.Length, io.SeekCurrent); err != nil {
				return fmt.Errorf("seek over hole: %w", err)
			}
			offset += ext.Length
			continue
		}

		n, err := img.ReadAt(buf[:ext.Length], offset)
		if err != nil && err != io.EOF {
			return fmt.Errorf("read container content at %d: %w", offset, err)
		}

		if _, err := sparseWrite(dst, buf[:n]); err != nil {
			return fmt.Errorf("write converted content: %w", err)
		}
		offset += int64(n)
	}

	return dst.Truncate(size)
}
