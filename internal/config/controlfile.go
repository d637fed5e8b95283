package config

import "github.com/smallblue2/mergerfs-go/internal/inode"

// The virtual control file at the mount root. Its xattrs form the
// runtime configuration API; reads return nothing, writes are refused.
const (
	ControlFileName = ".mergerfs"
	ControlFilePath = "/" + ControlFileName
	ControlFileIno  = inode.ControlFileIno
	// ControlFilePerm makes the file readable by everyone and writable
	// by nobody.
	ControlFilePerm = 0o444
)

// IsControlFile reports whether a logical path addresses the control
// file. Only the root-level name counts.
func IsControlFile(logical string) bool {
	return logical == ControlFilePath
}
