package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const (
	PrivateDirPerm  = 0o700
	PrivateFilePerm = 0o600
)

// ErrUnsafePath marks a persistence path that is a symlink or not a regular file.
var ErrUnsafePath = errors.New("unsafe persistence path")

// WriteFileAtomic writes data to path through a temp file in the same directory
// followed by a rename, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, PrivateDirPerm); err != nil {
		return err
	}

	if info, err := os.Lstat(path); err == nil {
		if err := ValidateRegularFile(path, info); err != nil {
			return err
		}
	} else if !IsMissingPathError(err) {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(PrivateFilePerm); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// ValidateRegularFile rejects symlinks and anything that is not a plain file.
func ValidateRegularFile(path string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: refusing symlink path %q", ErrUnsafePath, path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: non-regular path %q", ErrUnsafePath, path)
	}
	return nil
}

func IsMissingPathError(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
