//go:build !windows

// Package fileutil creates the owner-only files and directories that hold
// mailroom state: the home directory, local databases and log files.
// On Windows the mode bits are backed by a DACL granting only the current
// user access.
package fileutil

import "os"

// MkdirPrivate creates dir and any missing parents with mode 0700.
func MkdirPrivate(dir string) error {
	return os.MkdirAll(dir, privateDirMode)
}

// OpenPrivate opens path with flag, creating it with mode 0600.
func OpenPrivate(path string, flag int) (*os.File, error) {
	return os.OpenFile(path, flag, privateFileMode)
}

// ChmodPrivate narrows an existing file to mode 0600.
func ChmodPrivate(path string) error {
	return os.Chmod(path, privateFileMode)
}
