// Package files implements the in-memory file catalog and the per-connection
// transfer protocol: one ASCII command line, then a binary body. An entry
// exists in the catalog only once every declared byte has arrived, so
// downloads always read complete, immutable blobs.
package files

import (
	"bytes"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	// ErrNotFound rejects operations naming an absent file id.
	ErrNotFound = errors.New("file not found")
	// ErrNotAuthorized rejects a delete from anyone but the uploader.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrTooLarge rejects an upload whose declared size exceeds the cap.
	ErrTooLarge = errors.New("file too large")
	// ErrIncomplete marks an upload whose stream ended short of the
	// declared size; nothing is published.
	ErrIncomplete = errors.New("incomplete transfer")
)

// Entry is one published file. The blob is immutable after Publish; readers
// take a Reader without holding the catalog lock.
type Entry struct {
	ID           uint32    `json:"id"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	UploaderID   uint32    `json:"uploader_id"`
	UploaderName string    `json:"uploader_name"`
	CreatedAt    time.Time `json:"created_at"`

	data []byte
}

// Reader reads the published blob from the start.
func (e *Entry) Reader() *bytes.Reader { return bytes.NewReader(e.data) }

// Catalog maps file ids to published entries. Ids start at 1 and are never
// reused within a run.
type Catalog struct {
	mu      sync.Mutex
	nextID  uint32
	entries map[uint32]*Entry
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		nextID:  1,
		entries: make(map[uint32]*Entry),
	}
}

// Publish inserts a fully received blob and assigns its file id. The caller
// hands over ownership of data.
func (c *Catalog) Publish(filename string, data []byte, uploaderID uint32, uploaderName string) *Entry {
	e := &Entry{
		Filename:     filename,
		Size:         int64(len(data)),
		UploaderID:   uploaderID,
		UploaderName: uploaderName,
		CreatedAt:    time.Now(),
		data:         data,
	}

	c.mu.Lock()
	e.ID = c.nextID
	c.nextID++
	c.entries[e.ID] = e
	total := len(c.entries)
	c.mu.Unlock()

	slog.Info("file published", "file_id", e.ID, "name", filename,
		"size", humanize.Bytes(uint64(e.Size)), "uploader", uploaderID, "catalog_size", total)
	return e
}

// Get looks an entry up by id.
func (c *Catalog) Get(id uint32) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok
}

// Delete removes an entry if requesterID uploaded it. A refused delete
// mutates nothing.
func (c *Catalog) Delete(id, requesterID uint32) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.UploaderID != requesterID {
		return nil, ErrNotAuthorized
	}
	delete(c.entries, id)
	slog.Info("file deleted", "file_id", id, "name", e.Filename, "uploader", requesterID)
	return e, nil
}

// List snapshots the catalog ordered by file id.
func (c *Catalog) List() []*Entry {
	c.mu.Lock()
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of published entries.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TotalBytes sums the published blob sizes.
func (c *Catalog) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, e := range c.entries {
		total += e.Size
	}
	return total
}
