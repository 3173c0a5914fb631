package fileutil

import "os"

const (
	privateDirMode  os.FileMode = 0o700
	privateFileMode os.FileMode = 0o600
)
