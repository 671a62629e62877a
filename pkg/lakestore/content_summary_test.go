package lakestore

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTree serves MSGETFILESTATUS and MSLISTSTATUS over an in-memory
// directory tree, honoring the listAfter cursor.
type fakeTree struct {
	// children maps a directory path to its entries in listing order.
	children map[string][]treeEntry
}

type treeEntry struct {
	name   string
	isDir  bool
	length int64
}

func (ft *fakeTree) statusJSON(e treeEntry, suffix string) string {
	typ := "FILE"
	if e.isDir {
		typ = "DIRECTORY"
	}
	return fmt.Sprintf(`{"length":%d,"pathSuffix":"%s","type":"%s","blockSize":1,`+
		`"accessTime":0,"modificationTime":0,"replication":1,"permission":"755",`+
		`"owner":"o","group":"g"}`, e.length, suffix, typ)
}

func (ft *fakeTree) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/webhdfs/v1")
		if path == "" {
			path = "/"
		}
		switch r.URL.Query().Get("op") {
		case "MSGETFILESTATUS":
			// the root of the traversal is always a directory here
			fmt.Fprintf(w, `{"FileStatus":%s}`, ft.statusJSON(treeEntry{isDir: true}, ""))
		case "MSLISTSTATUS":
			entries, ok := ft.children[path]
			if !ok {
				http.Error(w, `{"RemoteException":{"exception":"FileNotFoundException",`+
					`"message":"no such dir","javaClassName":"java.io.FileNotFoundException"}}`,
					http.StatusNotFound)
				return
			}
			after := r.URL.Query().Get("listAfter")
			start := 0
			if after != "" {
				for i, e := range entries {
					if e.name == after {
						start = i + 1
						break
					}
				}
			}
			var parts []string
			for _, e := range entries[start:] {
				parts = append(parts, ft.statusJSON(e, e.name))
			}
			fmt.Fprintf(w, `{"FileStatuses":{"FileStatus":[%s]}}`, strings.Join(parts, ","))
		default:
			http.Error(w, "unexpected op "+r.URL.Query().Get("op"), http.StatusBadRequest)
		}
	}
}

func newSummaryClient(t *testing.T, ft *fakeTree) *Client {
	t.Helper()
	srv := httptest.NewServer(ft.handler(t))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client, err := NewClientWithToken(u.Host, "tok")
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.InsecureTransport = true
	require.NoError(t, client.SetOptions(opts))
	return client
}

func TestContentSummaryTree(t *testing.T) {
	ft := &fakeTree{children: map[string][]treeEntry{
		"/root": {
			{name: "a.txt", length: 100},
			{name: "sub1", isDir: true},
			{name: "sub2", isDir: true},
		},
		"/root/sub1": {
			{name: "b.txt", length: 200},
			{name: "c.txt", length: 300},
			{name: "deep", isDir: true},
		},
		"/root/sub1/deep": {
			{name: "d.txt", length: 400},
		},
		"/root/sub2": {},
	}}

	client := newSummaryClient(t, ft)
	summary, err := client.GetContentSummary("/root")
	require.NoError(t, err)

	assert.Equal(t, int64(1000), summary.Length)
	assert.Equal(t, int64(4), summary.FileCount)
	// root itself plus sub1, sub2, deep
	assert.Equal(t, int64(4), summary.DirectoryCount)
	assert.Equal(t, summary.Length, summary.SpaceConsumed,
		"space consumed equals logical length for this store")
}

func TestContentSummaryEmptyDirectory(t *testing.T) {
	ft := &fakeTree{children: map[string][]treeEntry{
		"/empty": {},
	}}
	client := newSummaryClient(t, ft)
	summary, err := client.GetContentSummary("/empty")
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Length)
	assert.Equal(t, int64(0), summary.FileCount)
	assert.Equal(t, int64(1), summary.DirectoryCount)
}

func TestContentSummarySingleFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"FileStatus":{"length":4242,"pathSuffix":"","type":"FILE",`+
			`"blockSize":1,"accessTime":0,"modificationTime":0,"replication":1,`+
			`"permission":"644","owner":"o","group":"g"}}`)
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client, err := NewClientWithToken(u.Host, "tok")
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.InsecureTransport = true
	require.NoError(t, client.SetOptions(opts))

	summary, err := client.GetContentSummary("/just-a-file")
	require.NoError(t, err)
	assert.Equal(t, int64(4242), summary.Length)
	assert.Equal(t, int64(1), summary.FileCount)
	assert.Equal(t, int64(0), summary.DirectoryCount)
}

func TestContentSummaryPropagatesErrors(t *testing.T) {
	ft := &fakeTree{children: map[string][]treeEntry{
		"/root": {
			{name: "gone", isDir: true}, // listing this will 404
		},
	}}
	client := newSummaryClient(t, ft)
	_, err := client.GetContentSummary("/root")
	require.Error(t, err)
}

func TestContentSummaryWideTree(t *testing.T) {
	// More directories than workers, to exercise the queue's termination
	// condition under real contention.
	children := map[string][]treeEntry{"/wide": {}}
	var total int64
	for i := 0; i < 100; i++ {
		dir := fmt.Sprintf("d%03d", i)
		children["/wide"] = append(children["/wide"], treeEntry{name: dir, isDir: true})
		children["/wide/"+dir] = []treeEntry{
			{name: "f1", length: int64(i)},
			{name: "f2", length: int64(i)},
		}
		total += int64(2 * i)
	}
	ft := &fakeTree{children: children}
	client := newSummaryClient(t, ft)

	done := make(chan struct{})
	var summary ContentSummary
	var err error
	go func() {
		summary, err = client.GetContentSummary("/wide")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("summary did not terminate")
	}

	require.NoError(t, err)
	assert.Equal(t, total, summary.Length)
	assert.Equal(t, int64(200), summary.FileCount)
	assert.Equal(t, int64(101), summary.DirectoryCount)
}
