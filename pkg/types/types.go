// Package types defines the core domain types for the sandboxed SFTP service.
package types

import (
	"time"
)

// ProtocolVersion is the SFTP protocol version this server speaks.
const ProtocolVersion uint32 = 3

// OpenFlags is the pflags bitmask of an SFTP open request.
type OpenFlags uint32

const (
	FlagRead     OpenFlags = 0x00000001
	FlagWrite    OpenFlags = 0x00000002
	FlagAppend   OpenFlags = 0x00000004
	FlagCreate   OpenFlags = 0x00000008
	FlagTruncate OpenFlags = 0x00000010
	FlagExclude  OpenFlags = 0x00000020
)

// Has reports whether every bit of f is set.
func (o OpenFlags) Has(f OpenFlags) bool {
	return o&f == f
}

// WriteIntent reports whether the open may modify or create the target.
func (o OpenFlags) WriteIntent() bool {
	return o&(FlagWrite|FlagCreate|FlagTruncate|FlagAppend) != 0
}

// AttrFlags marks which fields of Attributes are valid.
type AttrFlags uint32

const (
	AttrSize        AttrFlags = 0x00000001
	AttrUIDGID      AttrFlags = 0x00000002
	AttrPermissions AttrFlags = 0x00000004
	AttrACModTime   AttrFlags = 0x00000008
)

// Unix file type bits carried in Attributes.Permissions.
const (
	ModeTypeMask  uint32 = 0o170000
	ModeSocket    uint32 = 0o140000
	ModeSymlink   uint32 = 0o120000
	ModeRegular   uint32 = 0o100000
	ModeBlock     uint32 = 0o060000
	ModeDir       uint32 = 0o040000
	ModeChar      uint32 = 0o020000
	ModeNamedPipe uint32 = 0o010000
)

// DefaultFileMode is used when metadata for an entry cannot be read (rw-r--r--).
const DefaultFileMode = ModeRegular | 0o644

// Attributes is the protocol attribute set of a file.
type Attributes struct {
	Flags       AttrFlags
	Size        uint64
	UID         uint32
	GID         uint32
	Permissions uint32
	Atime       uint32
	Mtime       uint32
}

// DefaultAttributes returns the attribute set reported for entries whose
// metadata could not be read.
func DefaultAttributes() Attributes {
	return Attributes{
		Flags:       AttrPermissions,
		Permissions: DefaultFileMode,
	}
}

// IsDir reports whether the attributes describe a directory.
func (a Attributes) IsDir() bool {
	return a.Flags&AttrPermissions != 0 && a.Permissions&ModeTypeMask == ModeDir
}

// IsRegular reports whether the attributes describe a regular file.
func (a Attributes) IsRegular() bool {
	return a.Flags&AttrPermissions != 0 && a.Permissions&ModeTypeMask == ModeRegular
}

// ModTime returns the modification time, or the zero time if it is not set.
func (a Attributes) ModTime() time.Time {
	if a.Flags&AttrACModTime == 0 {
		return time.Time{}
	}
	return time.Unix(int64(a.Mtime), 0)
}

// NameEntry is one element of a readdir or realpath reply.
type NameEntry struct {
	Filename string
	Longname string
	Attrs    Attributes
}

// Version is the reply to init.
type Version struct {
	Version    uint32
	Extensions map[string]string
}

// Handle is the reply to open and opendir.
type Handle struct {
	ID     uint32
	Handle string
}

// Data is the reply to read.
type Data struct {
	ID   uint32
	Data []byte
}

// Name is the reply to readdir and realpath.
type Name struct {
	ID    uint32
	Files []NameEntry
}

// Attrs is the reply to stat, lstat and fstat.
type Attrs struct {
	ID    uint32
	Attrs Attributes
}

// Status is the reply to operations that only acknowledge.
type Status struct {
	ID      uint32
	Code    StatusCode
	Message string
}

// FsStats is the reply to the statvfs extension.
type FsStats struct {
	ID          uint32
	BlockSize   uint64
	FragSize    uint64
	Blocks      uint64
	BlocksFree  uint64
	BlocksAvail uint64
	Files       uint64
	FilesFree   uint64
	FilesAvail  uint64
	FsID        uint64
	Flag        uint64
	NameMax     uint64
}

// AccessLevel is the access granted on a virtual path.
type AccessLevel string

const (
	AccessNone  AccessLevel = "none"  // Hidden: reported as non-existent, omitted from listings
	AccessList  AccessLevel = "list"  // Visible to stat and readdir, content unreadable
	AccessRead  AccessLevel = "read"  // Readable
	AccessWrite AccessLevel = "write" // Writable, creatable, removable
)

// Level returns the numeric level of an access level for comparison.
// Higher level means more permissive.
func (a AccessLevel) Level() int {
	switch a {
	case AccessNone:
		return 0
	case AccessList:
		return 1
	case AccessRead:
		return 2
	case AccessWrite:
		return 3
	default:
		return 0
	}
}

// PatternType indicates how an access rule pattern is matched.
type PatternType string

const (
	PatternGlob      PatternType = "glob"      // e.g., *.md, /src/**/*.go
	PatternDirectory PatternType = "directory" // e.g., /docs/
	PatternFile      PatternType = "file"      // e.g., /config.yaml (highest priority)
)

// AccessRule grants an access level to the virtual paths matching Pattern.
type AccessRule struct {
	Pattern  string      `yaml:"pattern" json:"pattern"`
	Type     PatternType `yaml:"type" json:"type"`
	Access   AccessLevel `yaml:"access" json:"access"`
	Priority int         `yaml:"priority" json:"priority"`
}

// SessionStats summarizes the I/O of one session.
type SessionStats struct {
	BytesRead     uint64
	BytesWritten  uint64
	OpenFiles     int
	OpenDirs      int
	HandlesIssued uint64
}

// ServerStatus describes the SFTP server managed by the lifecycle manager.
type ServerStatus struct {
	Running        bool      `json:"running"`
	Addr           string    `json:"addr,omitempty"`
	RootDir        string    `json:"root_dir,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	ActiveSessions int64     `json:"active_sessions"`
}
