package lakestore

import (
	"fmt"
	"strings"
	"time"
)

// EntryType indicates whether a directory entry is a file or a directory.
type EntryType int

const (
	EntryTypeFile EntryType = iota
	EntryTypeDirectory
)

func (t EntryType) String() string {
	if t == EntryTypeDirectory {
		return "DIRECTORY"
	}
	return "FILE"
}

// DirectoryEntry is the filesystem metadata of one file or directory.
// Entries are constructed by parsing server JSON and are immutable
// afterwards.
type DirectoryEntry struct {
	// Name is the filename, minus the path.
	Name string

	// FullName is the full path of the entry.
	FullName string

	// Length of a file in bytes; zero for directories.
	Length int64

	// User is the ID of the owning user.
	User string

	// Group is the ID of the owning group.
	Group string

	// LastAccessTime and LastModifiedTime are UTC; the server's
	// resolution is milliseconds.
	LastAccessTime   time.Time
	LastModifiedTime time.Time

	// Type indicates file or directory.
	Type EntryType

	// BlockSize as reported by the server. Informational, for WebHDFS
	// compatibility: always 256 MiB for files, 0 for directories.
	BlockSize int64

	// ReplicationFactor as reported by the server. Informational: the
	// store replicates server-side, so this is 1 for files, 0 for
	// directories.
	ReplicationFactor int

	// Permission is the unix-style permission string, three octal digits.
	Permission string

	// AclBit indicates whether the object has ACLs set on it.
	AclBit bool

	// ExpiryTime is when the file expires, UTC. Nil if the file has no
	// expiry; always nil for directories.
	ExpiryTime *time.Time
}

// ContentSummary holds the aggregate statistics of a directory tree.
// SpaceConsumed always equals Length for this store.
type ContentSummary struct {
	Length         int64
	DirectoryCount int64
	FileCount      int64
	SpaceConsumed  int64
}

// IfExists specifies what to do when creating a file that already exists.
type IfExists int

const (
	// IfExistsOverwrite replaces the existing file.
	IfExistsOverwrite IfExists = iota
	// IfExistsFail fails the request.
	IfExistsFail
)

// ExpiryOption specifies how to interpret the expiry time in SetExpiry.
type ExpiryOption int

const (
	// ExpiryNever clears any expiry; the time value is ignored.
	ExpiryNever ExpiryOption = iota
	// ExpiryRelativeToNow interprets the value as milliseconds from now.
	ExpiryRelativeToNow
	// ExpiryRelativeToCreationDate interprets the value as milliseconds
	// from the file's creation time.
	ExpiryRelativeToCreationDate
	// ExpiryAbsolute interprets the value as a Unix timestamp in
	// milliseconds.
	ExpiryAbsolute
)

func (o ExpiryOption) wireValue() string {
	switch o {
	case ExpiryRelativeToNow:
		return "RelativeToNow"
	case ExpiryRelativeToCreationDate:
		return "RelativeToCreationDate"
	case ExpiryAbsolute:
		return "Absolute"
	default:
		return "NeverExpire"
	}
}

// UserGroupRepresentation selects how user and group identities are
// represented in responses: as immutable object IDs or as human-friendly
// principal names (which cost the server an extra directory lookup).
type UserGroupRepresentation int

const (
	// OID requests the immutable object ID form.
	OID UserGroupRepresentation = iota
	// UPN requests the user-principal-name form.
	UPN
)

// syncFlag is the marker on an append declaring whether file metadata must
// be updated and whether the lease should be released.
type syncFlag string

const (
	// syncFlagData: data appended, metadata not synced, lease retained.
	syncFlagData syncFlag = "DATA"
	// syncFlagMetadata: data appended, metadata synced, lease retained.
	syncFlagMetadata syncFlag = "METADATA"
	// syncFlagClose: data appended, metadata synced, lease released.
	syncFlagClose syncFlag = "CLOSE"
)

// fileStatus is the wire form of one directory entry.
type fileStatus struct {
	Length           int64  `json:"length"`
	PathSuffix       string `json:"pathSuffix"`
	Type             string `json:"type"`
	BlockSize        int64  `json:"blockSize"`
	AccessTime       int64  `json:"accessTime"`
	ModificationTime int64  `json:"modificationTime"`
	Replication      int    `json:"replication"`
	Permission       string `json:"permission"`
	Owner            string `json:"owner"`
	Group            string `json:"group"`
	AclBit           bool   `json:"aclBit"`
	ExpirationTime   *int64 `json:"msExpirationTime"`
	ExpireTime       *int64 `json:"expireTime"`
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// toDirectoryEntry builds the immutable entry for a status returned about
// parentPath. For GETFILESTATUS responses pathSuffix is empty and the
// entry's name is the last component of the queried path itself.
func (fs *fileStatus) toDirectoryEntry(parentPath string) (*DirectoryEntry, error) {
	var typ EntryType
	switch fs.Type {
	case "FILE":
		typ = EntryTypeFile
	case "DIRECTORY":
		typ = EntryTypeDirectory
	default:
		return nil, fmt.Errorf("unexpected entry type %q", fs.Type)
	}

	name := fs.PathSuffix
	fullName := parentPath
	if name != "" {
		if strings.HasSuffix(parentPath, "/") {
			fullName = parentPath + name
		} else {
			fullName = parentPath + "/" + name
		}
	} else {
		if i := strings.LastIndex(parentPath, "/"); i >= 0 {
			name = parentPath[i+1:]
		}
	}

	var expiry *time.Time
	raw := fs.ExpirationTime
	if raw == nil {
		raw = fs.ExpireTime
	}
	if raw != nil && *raw > 0 && typ == EntryTypeFile {
		t := millisToTime(*raw)
		expiry = &t
	}

	return &DirectoryEntry{
		Name:              name,
		FullName:          fullName,
		Length:            fs.Length,
		User:              fs.Owner,
		Group:             fs.Group,
		LastAccessTime:    millisToTime(fs.AccessTime),
		LastModifiedTime:  millisToTime(fs.ModificationTime),
		Type:              typ,
		BlockSize:         fs.BlockSize,
		ReplicationFactor: fs.Replication,
		Permission:        fs.Permission,
		AclBit:            fs.AclBit,
		ExpiryTime:        expiry,
	}, nil
}

// fileStatusEnvelope wraps a GETFILESTATUS response.
type fileStatusEnvelope struct {
	FileStatus fileStatus `json:"FileStatus"`
}

// fileStatusesEnvelope wraps a LISTSTATUS response. Newer API versions also
// carry a continuation token for paging.
type fileStatusesEnvelope struct {
	FileStatuses struct {
		FileStatus        []fileStatus `json:"FileStatus"`
		ContinuationToken string       `json:"continuationToken"`
	} `json:"FileStatuses"`
}

// aclStatusEnvelope wraps a GETACLSTATUS response; entries come as POSIX
// strings.
type aclStatusEnvelope struct {
	AclStatus struct {
		Entries    []string `json:"entries"`
		Owner      string   `json:"owner"`
		Group      string   `json:"group"`
		Permission string   `json:"permission"`
		StickyBit  bool     `json:"stickyBit"`
	} `json:"AclStatus"`
}

// booleanEnvelope wraps the {"boolean": true} responses of MKDIRS, RENAME
// and DELETE.
type booleanEnvelope struct {
	Boolean bool `json:"boolean"`
}
