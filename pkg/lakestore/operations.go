package lakestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openlake/lakestore/internal/core"
	"github.com/openlake/lakestore/internal/logger"
	"github.com/openlake/lakestore/pkg/lakestore/acl"
	"github.com/openlake/lakestore/pkg/lakestore/retry"
)

/*
 * Methods that apply to files only
 */

// CreateFile creates a file and returns a FileWriter for its contents.
// With IfExistsFail, an existing file fails the call; with
// IfExistsOverwrite it is replaced.
//
// octalPermission may be empty for the server default. With createParent,
// missing parent directories are created.
func (c *Client) CreateFile(path string, mode IfExists, octalPermission string, createParent bool) (*FileWriter, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	if octalPermission != "" && !isValidOctal(octalPermission) {
		return nil, fmt.Errorf("invalid permissions specified: %s", octalPermission)
	}
	logger.Trace("create file %s for client %d", path, c.clientID)

	leaseID := uuid.New().String()
	overwrite := mode == IfExistsOverwrite
	var policy retry.Policy
	if overwrite {
		policy = c.exponentialPolicy()
	} else {
		policy = retry.NewNonIdempotent()
	}
	opts := c.defaultRequestOptions(policy)
	var resp core.OperationResponse
	c.coreCreate(path, overwrite, octalPermission, nil, leaseID, leaseID, createParent, syncFlagData, opts, &resp)
	if !resp.Successful {
		// A racing overwrite can see the file appear between the
		// existence check and the create; with overwrite requested that
		// race is benign and the call counts as succeeded.
		raceTolerated := overwrite && resp.HTTPStatus == 403 &&
			strings.Contains(resp.RemoteExceptionName, "FileAlreadyExistsException")
		if !raceTolerated {
			return nil, c.errorFromResponse(&resp, "Error creating file "+path)
		}
	}
	return newFileWriterForCreate(c, path, leaseID), nil
}

// OpenFile opens a file for reading and returns a buffered FileReader.
func (c *Client) OpenFile(path string) (*FileReader, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	entry, err := c.GetDirectoryEntry(path)
	if err != nil {
		return nil, err
	}
	if entry.Type != EntryTypeFile {
		return nil, fmt.Errorf("path is not a file: %s", path)
	}
	return newFileReader(c, path, entry), nil
}

// AppendToFile opens an existing file for appending and returns a
// FileWriter positioned at the current end of the file.
func (c *Client) AppendToFile(path string) (*FileWriter, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	leaseID := uuid.New().String()
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	// Zero-length append validates access and takes the lease before the
	// writer learns the current length.
	c.coreAppend(path, -1, nil, leaseID, leaseID, syncFlagData, opts, &resp)
	if !resp.Successful {
		return nil, c.errorFromResponse(&resp, "Error appending to file "+path)
	}
	return newFileWriterForAppend(c, path, leaseID)
}

// ConcatenateFiles concatenates the source files into the target path, in
// order. The target must not exist; the sources are deleted when the call
// succeeds.
func (c *Client) ConcatenateFiles(path string, sources []string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("source file list cannot be empty")
	}
	body, err := json.Marshal(map[string][]string{"sources": sources})
	if err != nil {
		return err
	}
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	// Concatenation walks every source server-side; scale the timeout
	// with the number of files.
	opts.Timeout = c.DefaultTimeout() + time.Duration(len(sources))*500*time.Millisecond

	qp := &core.QueryParams{}
	qp.Add("deleteSourceDirectory", "false")
	var resp core.OperationResponse
	c.requester().Call(core.OpMsConcat, path, qp, body, opts, &resp)
	if !resp.Successful {
		return c.errorFromResponse(&resp, "Error concatenating files into "+path)
	}
	return nil
}

// ConcurrentAppend appends data to a file that may be written by many
// writers at once; the server picks the offset. With autocreate, the file
// is created if missing.
func (c *Client) ConcurrentAppend(path string, data []byte, autocreate bool) error {
	if err := validatePath(path); err != nil {
		return err
	}
	qp := &core.QueryParams{}
	if autocreate {
		qp.Add("appendMode", "autocreate")
	}
	// 429 is the only safely retryable failure for a concurrent append.
	opts := c.defaultRequestOptions(retry.NewNonIdempotent())
	var resp core.OperationResponse
	c.requester().Call(core.OpConcurrentAppend, path, qp, data, opts, &resp)
	if !resp.Successful {
		return c.errorFromResponse(&resp, "Error appending to file "+path)
	}
	return nil
}

// SetExpiry sets or clears the expiry time of a file. The interpretation
// of expiryTimeMillis depends on the option; it is ignored for
// ExpiryNever.
func (c *Client) SetExpiry(path string, option ExpiryOption, expiryTimeMillis int64) error {
	if err := validatePath(path); err != nil {
		return err
	}
	qp := &core.QueryParams{}
	qp.Add("expiryOption", option.wireValue())
	if option != ExpiryNever {
		qp.Add("expireTime", strconv.FormatInt(expiryTimeMillis, 10))
	}
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	c.requester().Call(core.OpSetExpiry, path, qp, nil, opts, &resp)
	if !resp.Successful {
		return c.errorFromResponse(&resp, "Error setting expiry for file "+path)
	}
	return nil
}

// FileChecksum is the server-computed checksum of a file.
type FileChecksum struct {
	Algorithm string
	Bytes     string
	Length    int64
}

// GetFileChecksum returns the server-computed checksum of a file.
func (c *Client) GetFileChecksum(path string) (*FileChecksum, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	c.requester().Call(core.OpGetFileChecksum, path, nil, nil, opts, &resp)
	if !resp.Successful {
		return nil, c.errorFromResponse(&resp, "Error getting checksum for file "+path)
	}
	var envelope struct {
		FileChecksum struct {
			Algorithm string `json:"algorithm"`
			Bytes     string `json:"bytes"`
			Length    int64  `json:"length"`
		} `json:"FileChecksum"`
	}
	if err := parseJSONBody(&resp, &envelope); err != nil {
		return nil, err
	}
	return &FileChecksum{
		Algorithm: envelope.FileChecksum.Algorithm,
		Bytes:     envelope.FileChecksum.Bytes,
		Length:    envelope.FileChecksum.Length,
	}, nil
}

/*
 * Methods that apply to directories only
 */

// CreateDirectory creates a directory and any missing parents.
// octalPermission may be empty for the server default.
func (c *Client) CreateDirectory(path string, octalPermission string) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	if octalPermission != "" && !isValidOctal(octalPermission) {
		return false, fmt.Errorf("invalid permissions specified: %s", octalPermission)
	}
	qp := &core.QueryParams{}
	if octalPermission != "" {
		qp.Add("permission", octalPermission)
	}
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	c.requester().Call(core.OpMkdirs, path, qp, nil, opts, &resp)
	if !resp.Successful {
		return false, c.errorFromResponse(&resp, "Error creating directory "+path)
	}
	var result booleanEnvelope
	if err := parseJSONBody(&resp, &result); err != nil {
		return false, err
	}
	return result.Boolean, nil
}

// EnumerateOptions refine a directory enumeration.
type EnumerateOptions struct {
	// MaxEntries caps the total number of entries returned; 0 means all.
	MaxEntries int
	// StartAfter is the name after which to begin enumeration.
	StartAfter string
	// EndBefore is the name before which to end enumeration.
	EndBefore string
	// UserGroup selects the identity representation in results.
	UserGroup *UserGroupRepresentation
}

// EnumerateDirectory returns all entries of a directory.
func (c *Client) EnumerateDirectory(path string) ([]*DirectoryEntry, error) {
	return c.EnumerateDirectoryWith(path, EnumerateOptions{})
}

// EnumerateDirectoryWith enumerates a directory with paging and filtering
// options. The listing is client-paged: the server is asked for pages of
// up to 4000 entries, with the continuation cursor carrying the page
// boundary, until the listing is exhausted or MaxEntries is reached.
func (c *Client) EnumerateDirectoryWith(path string, o EnumerateOptions) ([]*DirectoryEntry, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	const pageSize = 4000
	remaining := o.MaxEntries
	if remaining <= 0 {
		remaining = int(^uint(0) >> 1) // effectively unbounded
	}
	startAfter := o.StartAfter
	var all []*DirectoryEntry

	for remaining > 0 {
		requestSize := min(remaining, pageSize)
		entries, token, err := c.enumeratePage(path, startAfter, o.EndBefore, requestSize, o.UserGroup)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}
		all = append(all, entries...)
		remaining -= len(entries)
		if token == "" {
			// Older servers do not return a continuation token; page on
			// the last seen name instead, stopping on a short page.
			if len(entries) < requestSize {
				break
			}
			startAfter = entries[len(entries)-1].Name
		} else {
			startAfter = token
		}
	}
	return all, nil
}

func (c *Client) enumeratePage(path, startAfter, endBefore string, maxEntries int, ugr *UserGroupRepresentation) ([]*DirectoryEntry, string, error) {
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	// Enumeration pages can be slow to assemble server-side.
	opts.Timeout = 2 * c.DefaultTimeout()
	var resp core.OperationResponse
	entries, token, err := c.coreListStatus(path, startAfter, endBefore, maxEntries, ugr, opts, &resp)
	if !resp.Successful {
		return nil, "", c.errorFromResponse(&resp, "Error enumerating directory "+path)
	}
	if err != nil {
		return nil, "", err
	}
	return entries, token, nil
}

// GetContentSummary walks the directory tree under path and returns the
// aggregate statistics. The traversal is client-side and parallel across
// directories.
func (c *Client) GetContentSummary(path string) (ContentSummary, error) {
	if err := validatePath(path); err != nil {
		return ContentSummary{}, err
	}
	return newContentSummarizer(c).summarize(path)
}

// RemoveDefaultAcls removes all default ACL entries from a directory. The
// directory's own access ACLs are not modified.
func (c *Client) RemoveDefaultAcls(path string) error {
	return c.simpleACLOp(core.OpRemoveDefaultAcl, path, nil, "Error removing default ACLs for directory ")
}

/*
 * Methods that apply to both files and directories
 */

// Rename renames a file or directory. With overwrite, an existing
// destination file is replaced; a non-empty destination directory fails
// the call regardless.
//
// Renaming a path onto itself returns true for files and false for
// directories, matching the store's filesystem contract.
func (c *Client) Rename(path, destination string, overwrite bool) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	if err := validatePath(destination); err != nil {
		return false, err
	}
	if path == "/" {
		return false, fmt.Errorf("cannot rename root directory")
	}
	if path == destination {
		entry, err := c.GetDirectoryEntry(path)
		if err != nil {
			return false, err
		}
		return entry.Type == EntryTypeFile, nil
	}

	qp := &core.QueryParams{}
	qp.Add("destination", destination)
	if overwrite {
		qp.Add("renameoptions", "OVERWRITE")
	}
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	c.requester().Call(core.OpRename, path, qp, nil, opts, &resp)
	if !resp.Successful {
		return false, c.errorFromResponse(&resp, "Error renaming file "+path)
	}
	var result booleanEnvelope
	if err := parseJSONBody(&resp, &result); err != nil {
		return false, err
	}
	return result.Boolean, nil
}

// Delete deletes a file or an empty directory. Deleting the root is
// rejected client-side.
func (c *Client) Delete(path string) (bool, error) {
	return c.delete(path, false)
}

// DeleteRecursive deletes a directory tree, or a file. Deleting the root
// is rejected client-side.
func (c *Client) DeleteRecursive(path string) (bool, error) {
	return c.delete(path, true)
}

func (c *Client) delete(path string, recursive bool) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	if path == "/" {
		return false, fmt.Errorf("cannot delete root directory")
	}
	qp := &core.QueryParams{}
	qp.Add("recursive", strconv.FormatBool(recursive))
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	c.requester().Call(core.OpDelete, path, qp, nil, opts, &resp)
	if !resp.Successful {
		return false, c.errorFromResponse(&resp, "Error deleting "+path)
	}
	var result booleanEnvelope
	if err := parseJSONBody(&resp, &result); err != nil {
		return false, err
	}
	return result.Boolean, nil
}

// GetDirectoryEntry returns the metadata of a file or directory.
func (c *Client) GetDirectoryEntry(path string) (*DirectoryEntry, error) {
	return c.GetDirectoryEntryWith(path, nil)
}

// GetDirectoryEntryWith is GetDirectoryEntry with an explicit identity
// representation for the owner and group fields.
func (c *Client) GetDirectoryEntryWith(path string, ugr *UserGroupRepresentation) (*DirectoryEntry, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	entry, err := c.coreGetFileStatus(path, ugr, opts, &resp)
	if !resp.Successful {
		return nil, c.errorFromResponse(&resp, "Error getting info for file "+path)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Exists checks whether a file or directory exists.
func (c *Client) Exists(path string) (bool, error) {
	_, err := c.GetDirectoryEntry(path)
	if err != nil {
		var serr *Error
		if errors.As(err, &serr) && serr.HTTPStatus == 404 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetOwner sets the owning user and/or group. Empty strings leave the
// corresponding identity unchanged; at least one must be given.
func (c *Client) SetOwner(path, owner, group string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if owner == "" && group == "" {
		return fmt.Errorf("at least one of owner and group must be specified")
	}
	qp := &core.QueryParams{}
	if owner != "" {
		qp.Add("owner", owner)
	}
	if group != "" {
		qp.Add("group", group)
	}
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	c.requester().Call(core.OpSetOwner, path, qp, nil, opts, &resp)
	if !resp.Successful {
		return c.errorFromResponse(&resp, "Error setting owner for "+path)
	}
	return nil
}

// SetPermission sets the unix permissions of a file or directory, in
// octal form such as "644".
func (c *Client) SetPermission(path, octalPermission string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if !isValidOctal(octalPermission) {
		return fmt.Errorf("invalid permissions specified: %s", octalPermission)
	}
	qp := &core.QueryParams{}
	qp.Add("permission", octalPermission)
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	c.requester().Call(core.OpSetPermission, path, qp, nil, opts, &resp)
	if !resp.Successful {
		return c.errorFromResponse(&resp, "Error setting permission for "+path)
	}
	return nil
}

// SetTimes sets the access and/or modification times. Nil leaves a time
// unchanged.
func (c *Client) SetTimes(path string, accessTime, modificationTime *time.Time) error {
	if err := validatePath(path); err != nil {
		return err
	}
	toMillis := func(t *time.Time) int64 {
		if t == nil {
			return -1
		}
		return t.UnixMilli()
	}
	qp := &core.QueryParams{}
	qp.Add("modificationtime", strconv.FormatInt(toMillis(modificationTime), 10))
	qp.Add("accesstime", strconv.FormatInt(toMillis(accessTime), 10))
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	c.requester().Call(core.OpSetTimes, path, qp, nil, opts, &resp)
	if !resp.Successful {
		return c.errorFromResponse(&resp, "Error setting times for "+path)
	}
	return nil
}

// CheckAccess checks whether the caller has the requested permissions,
// given in unix rwx form (for example "r-x"). A definitive server denial
// returns false rather than an error.
func (c *Client) CheckAccess(path, rwx string) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	if !acl.IsValidRwx(rwx) {
		return false, fmt.Errorf("invalid access specifier: %s", rwx)
	}
	qp := &core.QueryParams{}
	qp.Add("fsaction", rwx)
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	c.requester().Call(core.OpCheckAccess, path, qp, nil, opts, &resp)
	if !resp.Successful {
		if resp.HTTPStatus == 401 || resp.HTTPStatus == 403 {
			return false, nil
		}
		return false, c.errorFromResponse(&resp, "Error checking access for "+path)
	}
	return true, nil
}

/*
 * ACL methods
 */

// ModifyAclEntries merges the supplied entries with the existing ACLs: an
// entry with the same scope, type and name replaces its permissions,
// otherwise a new entry is added.
func (c *Client) ModifyAclEntries(path string, entries []acl.Entry) error {
	return c.simpleACLOp(core.OpModifyAclEntries, path, func(qp *core.QueryParams) {
		qp.Add("aclspec", acl.SpecString(entries))
	}, "Error modifying ACLs for ")
}

// SetAcl replaces all existing ACL entries with the supplied list.
func (c *Client) SetAcl(path string, entries []acl.Entry) error {
	return c.simpleACLOp(core.OpSetAcl, path, func(qp *core.QueryParams) {
		qp.Add("aclspec", acl.SpecString(entries))
	}, "Error setting ACLs for ")
}

// RemoveAclEntries removes the specified entries. The entries act as
// removal templates; their permission fields are ignored.
func (c *Client) RemoveAclEntries(path string, entries []acl.Entry) error {
	return c.simpleACLOp(core.OpRemoveAclEntries, path, func(qp *core.QueryParams) {
		qp.Add("aclspec", acl.RemovalSpecString(entries))
	}, "Error removing ACLs for ")
}

// RemoveAllAcls removes every ACL entry from a file or directory.
func (c *Client) RemoveAllAcls(path string) error {
	return c.simpleACLOp(core.OpRemoveAcl, path, nil, "Error removing all ACLs for ")
}

func (c *Client) simpleACLOp(op core.Operation, path string, addParams func(*core.QueryParams), errPrefix string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	qp := &core.QueryParams{}
	if addParams != nil {
		addParams(qp)
	}
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	c.requester().Call(op, path, qp, nil, opts, &resp)
	if !resp.Successful {
		return c.errorFromResponse(&resp, errPrefix+path)
	}
	return nil
}

// GetAclStatus returns the ACL and permission information for a file or
// directory.
func (c *Client) GetAclStatus(path string) (*acl.Status, error) {
	return c.GetAclStatusWith(path, nil)
}

// GetAclStatusWith is GetAclStatus with an explicit identity
// representation.
func (c *Client) GetAclStatusWith(path string, ugr *UserGroupRepresentation) (*acl.Status, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	qp := &core.QueryParams{}
	addUserGroupRepresentation(qp, ugr)
	opts := c.defaultRequestOptions(c.exponentialPolicy())
	var resp core.OperationResponse
	c.requester().Call(core.OpMsGetAclStatus, path, qp, nil, opts, &resp)
	if !resp.Successful {
		return nil, c.errorFromResponse(&resp, "Error getting ACL status for "+path)
	}

	var envelope aclStatusEnvelope
	if err := parseJSONBody(&resp, &envelope); err != nil {
		return nil, err
	}
	entries := make([]acl.Entry, 0, len(envelope.AclStatus.Entries))
	for _, s := range envelope.AclStatus.Entries {
		e, err := acl.ParseEntry(s)
		if err != nil {
			return nil, fmt.Errorf("server returned malformed acl entry %q: %w", s, err)
		}
		entries = append(entries, e)
	}
	return &acl.Status{
		Entries:    entries,
		Owner:      envelope.AclStatus.Owner,
		Group:      envelope.AclStatus.Group,
		Permission: envelope.AclStatus.Permission,
		StickyBit:  envelope.AclStatus.StickyBit,
	}, nil
}

// isValidOctal reports whether s is a valid three-digit (optionally
// four-digit with sticky bit) octal permission string.
func isValidOctal(s string) bool {
	if len(s) < 3 || len(s) > 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '7' {
			return false
		}
	}
	return true
}

