//go:build unix

package mount

import (
	"errors"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// IsMountpoint reports whether path is the root of a mounted filesystem. A
// FUSE mount whose server died answers ENOTCONN and still counts.
func IsMountpoint(path string) (bool, error) {
	var st, parent unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		switch {
		case errors.Is(err, unix.ENOENT):
			return false, nil
		case errors.Is(err, unix.ENOTCONN):
			return true, nil
		}
		return false, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return false, nil
	}
	if err := unix.Lstat(filepath.Dir(path), &parent); err != nil {
		return false, err
	}
	return st.Dev != parent.Dev || st.Ino == parent.Ino, nil
}
