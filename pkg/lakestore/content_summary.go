package lakestore

import (
	"sync"
	"sync/atomic"
)

const (
	summaryWorkers  = 16
	summaryPageSize = 16000
)

// contentSummarizer is the one-shot parallel traversal behind
// GetContentSummary. Parallelism is across directories: each worker pulls
// a directory off the processing queue and enumerates it sequentially,
// queueing any subdirectories it finds. File enumeration within one
// directory is never split across workers.
//
// Do not reuse an instance for multiple calls.
type contentSummarizer struct {
	client *Client
	queue  *processingQueue[*DirectoryEntry]

	fileCount      atomic.Int64
	directoryCount atomic.Int64
	totalBytes     atomic.Int64

	errOnce  sync.Once
	firstErr error
}

func newContentSummarizer(c *Client) *contentSummarizer {
	return &contentSummarizer{
		client: c,
		queue:  newProcessingQueue[*DirectoryEntry](),
	}
}

func (s *contentSummarizer) summarize(path string) (ContentSummary, error) {
	entry, err := s.client.GetDirectoryEntry(path)
	if err != nil {
		return ContentSummary{}, err
	}

	if entry.Type == EntryTypeFile {
		s.processFile(entry)
	} else {
		s.queue.add(entry)
		s.processDirectory(entry)

		var wg sync.WaitGroup
		for i := 0; i < summaryWorkers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.worker()
			}()
		}
		wg.Wait()
	}

	if s.firstErr != nil {
		return ContentSummary{}, s.firstErr
	}
	total := s.totalBytes.Load()
	return ContentSummary{
		Length:         total,
		DirectoryCount: s.directoryCount.Load(),
		FileCount:      s.fileCount.Load(),
		// the store reports no replication-adjusted usage; consumed space
		// is the logical length
		SpaceConsumed: total,
	}, nil
}

func (s *contentSummarizer) worker() {
	for {
		entry, ok := s.queue.poll()
		if !ok {
			return
		}
		if entry.Type == EntryTypeDirectory {
			if err := s.processDirectoryTree(entry.FullName); err != nil {
				s.errOnce.Do(func() { s.firstErr = err })
			}
		}
		s.queue.unregister()
	}
}

// processDirectoryTree enumerates one directory page by page, tallying
// files and queueing subdirectories. Pages use the previous page's last
// name as the startAfter cursor; a short page ends the directory.
func (s *contentSummarizer) processDirectoryTree(directory string) error {
	startAfter := ""
	for {
		entries, err := s.enumeratePage(directory, startAfter)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, entry := range entries {
			switch entry.Type {
			case EntryTypeDirectory:
				s.queue.add(entry)
				s.processDirectory(entry)
			case EntryTypeFile:
				s.processFile(entry)
			}
			startAfter = entry.Name
		}
		if len(entries) < summaryPageSize {
			return nil
		}
	}
}

func (s *contentSummarizer) enumeratePage(directory, startAfter string) ([]*DirectoryEntry, error) {
	return s.client.enumeratePageForSummary(directory, startAfter, summaryPageSize)
}

func (s *contentSummarizer) processDirectory(*DirectoryEntry) {
	s.directoryCount.Add(1)
}

func (s *contentSummarizer) processFile(entry *DirectoryEntry) {
	s.fileCount.Add(1)
	s.totalBytes.Add(entry.Length)
}

// enumeratePageForSummary fetches one raw page for the summarizer, which
// does its own cursor management and wants exactly one server call per
// page.
func (c *Client) enumeratePageForSummary(path, startAfter string, pageSize int) ([]*DirectoryEntry, error) {
	entries, _, err := c.enumeratePage(path, startAfter, "", pageSize, nil)
	return entries, err
}
