package lakestore

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/openlake/lakestore/internal/core"
	"github.com/openlake/lakestore/pkg/lakestore/retry"
)

// Convenience one-liners built on the stream API.

// CreateEmptyFile creates a zero-length file, failing if it exists.
func (c *Client) CreateEmptyFile(path string) error {
	w, err := c.CreateFile(path, IfExistsFail, "", true)
	if err != nil {
		return err
	}
	return w.Close()
}

// UploadBytes writes contents to a file. Payloads that fit in one upload
// chunk are shipped as a single create-with-data call; larger payloads go
// through a FileWriter.
func (c *Client) UploadBytes(path string, contents []byte, mode IfExists) error {
	if err := validatePath(path); err != nil {
		return err
	}

	if len(contents) <= defaultWriteBufferSize {
		overwrite := mode == IfExistsOverwrite
		var policy retry.Policy
		if overwrite {
			policy = c.exponentialPolicy()
		} else {
			policy = retry.NewNoRetry()
		}
		opts := c.defaultRequestOptions(policy)
		var resp core.OperationResponse
		c.coreCreate(path, overwrite, "", contents, "", "", true, syncFlagClose, opts, &resp)
		if !resp.Successful {
			return c.errorFromResponse(&resp, "Error creating file "+path)
		}
		return nil
	}

	w, err := c.CreateFile(path, mode, "", true)
	if err != nil {
		return err
	}
	if _, err := w.Write(contents); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Upload streams the contents of r into a file.
func (c *Client) Upload(path string, r io.Reader, mode IfExists) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("reader cannot be nil")
	}

	w, err := c.CreateFile(path, mode, "", true)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("error uploading to %s: %w", path, err)
	}
	return w.Close()
}

// UploadFile uploads a local file.
func (c *Client) UploadFile(path, localPath string, mode IfExists) error {
	if strings.TrimSpace(localPath) == "" {
		return fmt.Errorf("local filename cannot be empty")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Upload(path, f, mode)
}

// Download streams a file's contents into w.
func (c *Client) Download(path string, w io.Writer) (int64, error) {
	r, err := c.OpenFile(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return io.Copy(w, r)
}
