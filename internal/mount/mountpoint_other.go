//go:build !unix

package mount

// IsMountpoint always reports false where device numbers are unavailable.
func IsMountpoint(string) (bool, error) {
	return false, nil
}
