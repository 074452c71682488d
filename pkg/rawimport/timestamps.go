package rawimport

import (
	"os"
	"time"
)

// setTimes best-effort sets both atime and mtime on f to mtime, mirroring
// the reference implementation's futimens call in raw_import_curl_on_finished.
// Creation time is intentionally not set: unlike the btrfs-era source,
// there is no portable Go syscall for it. The provenance xattrs set in
// finalize hold only the source ETag and URL, not a timestamp.
func setTimes(f *os.File, mtime time.Time) error {
	if mtime.IsZero() {
		return nil
	}
	return os.Chtimes(f.Name(), mtime, mtime)
}
