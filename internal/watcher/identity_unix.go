//go:build unix

package watcher

import (
	"io/fs"
	"syscall"
)

func identityOf(info fs.FileInfo) Identity {
	id := Identity{
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Mode:    info.Mode(),
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		id.UID = st.Uid
		id.GID = st.Gid
	}
	return id
}
