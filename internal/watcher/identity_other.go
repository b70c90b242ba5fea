//go:build !unix

package watcher

import "io/fs"

// Ownership is not observable here; UID and GID stay zero.
func identityOf(info fs.FileInfo) Identity {
	return Identity{
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Mode:    info.Mode(),
	}
}
