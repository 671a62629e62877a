package lakestore

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/openlake/lakestore/internal/core"
)

// Low-level operation helpers shared by the facade methods and the
// streams. Each composes the query parameters for one REST operation and
// runs it through the request engine; response interpretation stays with
// the caller.

// coreOpen issues an OPEN for a byte range and returns the raw body
// stream, which the caller owns and must close. On failure the response
// carries the details and the returned stream is nil.
func (c *Client) coreOpen(path string, offset int64, length int, sessionID string, opts *core.RequestOptions, resp *core.OperationResponse) io.ReadCloser {
	qp := &core.QueryParams{}
	qp.Add("read", "true")
	qp.Add("offset", strconv.FormatInt(offset, 10))
	qp.Add("length", strconv.Itoa(length))
	if sessionID != "" {
		qp.Add("filesessionid", sessionID)
	}
	c.requester().Call(core.OpOpen, path, qp, nil, opts, resp)
	return resp.ResponseStream
}

// coreAppend issues an APPEND of data at the given remote offset. A
// negative offset omits the offset parameter, letting the server append at
// its current length (used by the stream-initialization probe). data may
// be empty for zero-length marker appends.
func (c *Client) coreAppend(path string, offset int64, data []byte, leaseID, sessionID string, flag syncFlag, opts *core.RequestOptions, resp *core.OperationResponse) {
	qp := &core.QueryParams{}
	qp.Add("append", "true")
	if offset >= 0 {
		qp.Add("offset", strconv.FormatInt(offset, 10))
	}
	if leaseID != "" {
		qp.Add("leaseid", leaseID)
	}
	if sessionID != "" {
		qp.Add("sessionid", sessionID)
	}
	qp.Add("syncFlag", string(flag))
	c.requester().Call(core.OpAppend, path, qp, data, opts, resp)
}

// coreCreate issues a CREATE, optionally with initial file contents.
func (c *Client) coreCreate(path string, overwrite bool, octalPermission string, data []byte, leaseID, sessionID string, createParent bool, flag syncFlag, opts *core.RequestOptions, resp *core.OperationResponse) {
	qp := &core.QueryParams{}
	qp.Add("write", "true")
	qp.Add("overwrite", strconv.FormatBool(overwrite))
	if octalPermission != "" {
		qp.Add("permission", octalPermission)
	}
	if leaseID != "" {
		qp.Add("leaseid", leaseID)
	}
	if sessionID != "" {
		qp.Add("sessionid", sessionID)
	}
	qp.Add("CreateParent", strconv.FormatBool(createParent))
	qp.Add("syncFlag", string(flag))
	c.requester().Call(core.OpCreate, path, qp, data, opts, resp)
}

// coreGetFileStatus fetches and parses the status of one path.
func (c *Client) coreGetFileStatus(path string, ugr *UserGroupRepresentation, opts *core.RequestOptions, resp *core.OperationResponse) (*DirectoryEntry, error) {
	qp := &core.QueryParams{}
	addUserGroupRepresentation(qp, ugr)
	c.requester().Call(core.OpMsGetFileStatus, path, qp, nil, opts, resp)
	if !resp.Successful {
		return nil, nil
	}
	var envelope fileStatusEnvelope
	if err := parseJSONBody(resp, &envelope); err != nil {
		return nil, err
	}
	return envelope.FileStatus.toDirectoryEntry(path)
}

// coreListStatus fetches one page of a directory listing, returning the
// entries and the server's continuation token (empty when the server does
// not page).
func (c *Client) coreListStatus(path string, startAfter, endBefore string, maxEntries int, ugr *UserGroupRepresentation, opts *core.RequestOptions, resp *core.OperationResponse) ([]*DirectoryEntry, string, error) {
	qp := &core.QueryParams{}
	if maxEntries > 0 {
		qp.Add("listSize", strconv.Itoa(maxEntries))
	}
	if startAfter != "" {
		qp.Add("listAfter", startAfter)
	}
	if endBefore != "" {
		qp.Add("listBefore", endBefore)
	}
	addUserGroupRepresentation(qp, ugr)
	c.requester().Call(core.OpMsListStatus, path, qp, nil, opts, resp)
	if !resp.Successful {
		return nil, "", nil
	}

	var envelope fileStatusesEnvelope
	if err := parseJSONBody(resp, &envelope); err != nil {
		return nil, "", err
	}
	entries := make([]*DirectoryEntry, 0, len(envelope.FileStatuses.FileStatus))
	for i := range envelope.FileStatuses.FileStatus {
		entry, err := envelope.FileStatuses.FileStatus[i].toDirectoryEntry(path)
		if err != nil {
			return nil, "", err
		}
		entries = append(entries, entry)
	}
	return entries, envelope.FileStatuses.ContinuationToken, nil
}

func addUserGroupRepresentation(qp *core.QueryParams, ugr *UserGroupRepresentation) {
	if ugr == nil {
		return
	}
	// tooid selects the object-ID form; the alternative costs the server
	// a directory lookup per principal.
	qp.Add("tooid", strconv.FormatBool(*ugr == OID))
}

// parseJSONBody decodes a JSON response body and closes the stream. A
// response that was supposed to carry a body but has neither content
// length nor chunking is a protocol violation and surfaces as an error.
func parseJSONBody(resp *core.OperationResponse, v any) error {
	if resp.ResponseStream == nil {
		return fmt.Errorf("no response body")
	}
	defer resp.ResponseStream.Close()
	if resp.ContentLength == 0 && !resp.Chunked {
		return fmt.Errorf("server returned no response data")
	}
	if err := json.NewDecoder(resp.ResponseStream).Decode(v); err != nil {
		return fmt.Errorf("unexpected response format: %w", err)
	}
	return nil
}
