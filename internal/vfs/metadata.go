package vfs

import (
	"fmt"
	"io/fs"

	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// Placeholder columns of a listing line. Clients only display them.
const (
	longnameLinks = 1
	longnameOwner = "root"
	longnameGroup = "root"
	longnameDate  = "Jan  1 00:00"
)

// ToAttributes converts local file metadata into the protocol attribute set.
// Ownership is included only where the platform exposes it. A nil info
// yields the default regular-file attributes.
func ToAttributes(info fs.FileInfo) types.Attributes {
	if info == nil {
		return types.DefaultAttributes()
	}

	mtime := info.ModTime().Unix()
	attrs := types.Attributes{
		Flags:       types.AttrSize | types.AttrPermissions | types.AttrACModTime,
		Size:        uint64(max(info.Size(), 0)),
		Permissions: Mode(info.Mode()),
		Atime:       uint32(mtime),
		Mtime:       uint32(mtime),
	}
	if attrs.Permissions&types.ModeTypeMask == 0 {
		attrs.Permissions = types.DefaultFileMode
	}

	if uid, gid, ok := ownership(info); ok {
		attrs.Flags |= types.AttrUIDGID
		attrs.UID = uid
		attrs.GID = gid
	}
	return attrs
}

// Mode converts a Go file mode into unix mode bits (type, setuid/setgid/sticky
// and permissions).
func Mode(m fs.FileMode) uint32 {
	mode := uint32(m.Perm())

	switch {
	case m.IsDir():
		mode |= types.ModeDir
	case m&fs.ModeSymlink != 0:
		mode |= types.ModeSymlink
	case m&fs.ModeNamedPipe != 0:
		mode |= types.ModeNamedPipe
	case m&fs.ModeSocket != 0:
		mode |= types.ModeSocket
	case m&fs.ModeDevice != 0 && m&fs.ModeCharDevice != 0:
		mode |= types.ModeChar
	case m&fs.ModeDevice != 0:
		mode |= types.ModeBlock
	case m.IsRegular():
		mode |= types.ModeRegular
	}

	if m&fs.ModeSetuid != 0 {
		mode |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		mode |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		mode |= 0o1000
	}
	return mode
}

// FileMode converts unix mode bits back into a Go file mode.
func FileMode(mode uint32) fs.FileMode {
	m := fs.FileMode(mode & 0o777)

	switch mode & types.ModeTypeMask {
	case types.ModeDir:
		m |= fs.ModeDir
	case types.ModeSymlink:
		m |= fs.ModeSymlink
	case types.ModeNamedPipe:
		m |= fs.ModeNamedPipe
	case types.ModeSocket:
		m |= fs.ModeSocket
	case types.ModeChar:
		m |= fs.ModeDevice | fs.ModeCharDevice
	case types.ModeBlock:
		m |= fs.ModeDevice
	}

	if mode&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if mode&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	if mode&0o1000 != 0 {
		m |= fs.ModeSticky
	}
	return m
}

// ModeString renders unix mode bits the way ls does, e.g. "drwxr-xr-x".
func ModeString(mode uint32) string {
	buf := []byte("----------")

	switch mode & types.ModeTypeMask {
	case types.ModeDir:
		buf[0] = 'd'
	case types.ModeSymlink:
		buf[0] = 'l'
	case types.ModeNamedPipe:
		buf[0] = 'p'
	case types.ModeSocket:
		buf[0] = 's'
	case types.ModeChar:
		buf[0] = 'c'
	case types.ModeBlock:
		buf[0] = 'b'
	}

	const rwx = "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			buf[i+1] = rwx[i]
		}
	}

	setSpecial := func(pos int, set bool, exec, noExec byte) {
		if !set {
			return
		}
		if buf[pos] == '-' {
			buf[pos] = noExec
		} else {
			buf[pos] = exec
		}
	}
	setSpecial(3, mode&0o4000 != 0, 's', 'S')
	setSpecial(6, mode&0o2000 != 0, 's', 'S')
	setSpecial(9, mode&0o1000 != 0, 't', 'T')

	return string(buf)
}

// FormatLongname produces the ls-style line shown by clients in directory
// listings: mode, link count, owner, group, size, date and name.
func FormatLongname(name string, attrs types.Attributes) string {
	mode := attrs.Permissions
	if attrs.Flags&types.AttrPermissions == 0 {
		mode = types.DefaultFileMode
	}
	return fmt.Sprintf("%s %4d %-8s %-8s %12d %s %s",
		ModeString(mode), longnameLinks, longnameOwner, longnameGroup, attrs.Size, longnameDate, name)
}
