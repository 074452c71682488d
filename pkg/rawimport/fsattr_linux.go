//go:build linux

package rawimport

import (
	"os"

	"golang.org/x/sys/unix"
)

// fsNocowFl is FS_NOCOW_FL from <linux/fs.h>; golang.org/x/sys/unix does
// not export it, so the stable kernel UAPI value is used directly.
const fsNocowFl = 0x00800000

// setNoCOW best-effort disables copy-on-write on f, the way the
// reference implementation's chattr_fd(FS_NOCOW_FL) does. Failures are
// never fatal; they only matter for fragmentation on filesystems like
// btrfs, so the caller just logs a warning and continues.
func setNoCOW(f *os.File) error {
	attr, err := unix.IoctlGetInt(int(f.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		return err
	}
	attr |= fsNocowFl
	return unix.IoctlSetInt(int(f.Fd()), unix.FS_IOC_SETFLAGS, attr)
}

// setXattr best-effort sets an extended attribute on f.
func setXattr(f *os.File, name, value string) error {
	if value == "" {
		return nil
	}
	return unix.Fsetxattr(int(f.Fd()), name, []byte(value), 0)
}

// copyXattrs best-effort copies every extended attribute listed on src
// to dst, mirroring the reference implementation's copy_xattr helper;
// attributes that cannot be read or set are skipped.
func copyXattrs(src, dst *os.File) error {
	size, err := unix.Flistxattr(int(src.Fd()), nil)
	if err != nil || size <= 0 {
		return err
	}
	buf := make([]byte, size)
	n, err := unix.Flistxattr(int(src.Fd()), buf)
	if err != nil {
		return err
	}
	for _, name := range splitXattrNames(buf[:n]) {
		valSize, err := unix.Fgetxattr(int(src.Fd()), name, nil)
		if err != nil || valSize <= 0 {
			continue
		}
		val := make([]byte, valSize)
		if _, err := unix.Fgetxattr(int(src.Fd()), name, val); err != nil {
			continue
		}
		_ = unix.Fsetxattr(int(dst.Fd()), name, val, 0)
	}
	return nil
}

func splitXattrNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}
