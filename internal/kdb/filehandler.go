package kdb

import (
	"os"
)

type FileHandler interface {
	IsFileExists(path string) bool
	MkdirAll(path string) error
	Remove(path string) error
}

type DefaultFileHandler struct {
}

func (fh *DefaultFileHandler) IsFileExists(path string) bool {
	_, err := os.Lstat(path)
	return !os.IsNotExist(err)
}

func (fh *DefaultFileHandler) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

// Remove deletes path; a missing file is not an error.
func (fh *DefaultFileHandler) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
