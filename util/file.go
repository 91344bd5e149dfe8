package util

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temporary file in the same directory, syncs it, and
// renames it over path. Readers see either the old or the new content, never a partial
// write. The parent directory is created if missing.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		// no-op once the rename succeeded
		_ = os.Remove(tmp)
	}()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// QuarantineFile moves an unreadable file aside (suffix ".corrupt") so that it is not
// overwritten by the next write. Returns the new path.
func QuarantineFile(path string) (string, error) {
	dest := path + ".corrupt"
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}
