//go:build windows

// Package fileutil creates the owner-only files and directories that hold
// mailroom state: the home directory, local databases and log files.
// On Windows the mode bits are backed by a DACL granting only the current
// user access.
package fileutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// restrictToCurrentUser replaces the DACL on path with a single entry for
// the current user. Directories pass the entry on to their children.
func restrictToCurrentUser(path string) error {
	user, err := windows.GetCurrentProcessToken().GetTokenUser()
	if err != nil {
		return fmt.Errorf("current user SID for %s: %w", path, err)
	}

	var inherit uint32 = windows.NO_INHERITANCE
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		inherit = windows.CONTAINER_INHERIT_ACE | windows.OBJECT_INHERIT_ACE
	}

	acl, err := windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{{
		AccessPermissions: windows.GENERIC_ALL,
		AccessMode:        windows.SET_ACCESS,
		Inheritance:       inherit,
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_USER,
			TrusteeValue: windows.TrusteeValueFromSID(user.User.Sid),
		},
	}}, nil)
	if err != nil {
		return fmt.Errorf("build ACL for %s: %w", path, err)
	}

	info := windows.SECURITY_INFORMATION(windows.DACL_SECURITY_INFORMATION | windows.PROTECTED_DACL_SECURITY_INFORMATION)
	if err := windows.SetNamedSecurityInfo(path, windows.SE_FILE_OBJECT, info, nil, nil, acl, nil); err != nil {
		return fmt.Errorf("set DACL on %s: %w", path, err)
	}
	return nil
}

// restrict applies the DACL, logging instead of failing.
func restrict(path string) {
	if err := restrictToCurrentUser(path); err != nil {
		slog.Warn("could not restrict file to current user", "path", path, "error", err)
	}
}

// MkdirPrivate creates dir and any missing parents with mode 0700. Every
// directory it creates is restricted to the current user.
func MkdirPrivate(dir string) error {
	var created []string
	for p := filepath.Clean(dir); p != "." && p != filepath.Dir(p); p = filepath.Dir(p) {
		if _, err := os.Stat(p); err == nil {
			break
		}
		created = append(created, p)
	}
	if err := os.MkdirAll(dir, privateDirMode); err != nil {
		return err
	}
	for _, p := range created {
		restrict(p)
	}
	return nil
}

// OpenPrivate opens path with flag, creating it with mode 0600. When flag
// includes O_CREATE the file is restricted to the current user.
func OpenPrivate(path string, flag int) (*os.File, error) {
	f, err := os.OpenFile(path, flag, privateFileMode)
	if err != nil {
		return nil, err
	}
	if flag&os.O_CREATE != 0 {
		restrict(path)
	}
	return f, nil
}

// ChmodPrivate narrows an existing file to mode 0600.
func ChmodPrivate(path string) error {
	if err := os.Chmod(path, privateFileMode); err != nil {
		return err
	}
	restrict(path)
	return nil
}
