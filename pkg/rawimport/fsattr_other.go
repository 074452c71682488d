//go:build !linux

package rawimport

import "os"

// setNoCOW is a no-op outside Linux: FS_NOCOW_FL is a Linux-specific
// inode attribute (btrfs/bcachefs). Best-effort by contract, so a no-op
// is a valid implementation on platforms that don't have the concept.
func setNoCOW(f *os.File) error {
	return nil
}

// setXattr is a no-op outside Linux in this build; darwin/BSD expose
// extended attributes through a different syscall surface that the
// importer core does not need to special-case for (best-effort only).
func setXattr(f *os.File, name, value string) error {
	return nil
}

func copyXattrs(src, dst *os.File) error {
	return nil
}
