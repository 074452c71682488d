package rawimport

import "os"

// sparseHoleWindow is the minimum run length of zero bytes that gets
// turned into a hole instead of being written out. The reference
// implementation uses 64 bytes; nothing in spec.md ties this value to
// correctness (see DESIGN.md "Open question — sparse-writer alignment"),
// so the port keeps the same constant to preserve observable behavior.
const sparseHoleWindow = 64

// sparseWrite writes buf to f starting at the file's current offset,
// skipping runs of at least sparseHoleWindow zero bytes by seeking over
// them instead of writing, which leaves a hole on filesystems that
// support sparse files. It returns the number of bytes logically written
// (len(buf) on success), matching the semantics of a short write on
// failure.
func sparseWrite(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, isHole := nextRun(buf[total:])
		if isHole {
			if _, err := f.Seek(int64(n), os.SEEK_CUR); err != nil {
				return total, err
			}
		} else {
			written, err := f.Write(buf[total : total+n])
			total += written
			if err != nil {
				return total, err
			}
			continue
		}
		total += n
	}
	return total, nil
}

// nextRun scans from the start of buf and returns the length of the
// leading run of either all-zero or all-nonzero bytes, and whether that
// run qualifies as a hole (all zero and at least sparseHoleWindow long).
func nextRun(buf []byte) (n int, isHole bool) {
	if len(buf) == 0 {
		return 0, false
	}

	zero := buf[0] == 0
	i := 1
	for i < len(buf) && (buf[i] == 0) == zero {
		i++
	}

	if zero && i >= sparseHoleWindow {
		return i, true
	}
	if zero {
		// Zero run too short to bother punching a hole for; treat as data.
		return i, false
	}
	return i, false
}
