/*
Package filelock hands out advisory locks on a shared lock file so separate
processes can serialize access to the files that live next to it. Locks are
advisory: everyone touching the guarded files has to go through the same
lock path.
*/
package filelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

type FileLock struct {
	path string
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// NewLock builds a lock on the configured path, creating the parent
// directory when it is missing. Nothing is held until TryLock succeeds.
func (f *FileLock) NewLock() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create %s: %s", filepath.Dir(f.path), err)
	}

	return flock.New(f.path), nil
}
