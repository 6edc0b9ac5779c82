package storage

import (
	"sync"

	"github.com/ZeitHaum/rmdb/common"
)

// PageFrame is one fixed-size buffer-pool frame: the raw bytes of a
// page plus the frame metadata the pool maintains. The metadata fields
// are only touched while the pool mutex is held; the byte contents are
// guarded by PageLatch, which callers acquire after pinning.
type PageFrame struct {
	// Bytes holds the raw physical data of the page.
	Bytes [common.PageSize]byte

	// PageLatch protects the content of the page from concurrent access.
	PageLatch sync.RWMutex

	pageID   common.PageID
	pinCount int
	dirty    bool
	pageLSN  common.LSN
}

// ID returns the page identity currently occupying the frame.
func (f *PageFrame) ID() common.PageID {
	return f.pageID
}

// Data returns the full page byte slice.
func (f *PageFrame) Data() []byte {
	return f.Bytes[:]
}

// PinCount returns the number of outstanding pins on the frame.
func (f *PageFrame) PinCount() int {
	return f.pinCount
}

// PageLSN returns the LSN of the most recent WAL record reflected in
// the page.
func (f *PageFrame) PageLSN() common.LSN {
	return f.pageLSN
}

// UpdatePageLSN raises the page LSN. The update is monotonic and must
// be performed while the caller holds the frame pinned with the write
// latch, so the eviction path (which only runs at pin count zero)
// observes a settled value.
func (f *PageFrame) UpdatePageLSN(lsn common.LSN) {
	if !common.EnableLSN {
		return
	}
	if lsn > f.pageLSN {
		f.pageLSN = lsn
	}
}

func (f *PageFrame) reset(id common.PageID) {
	f.pageID = id
	f.pinCount = 1
	f.dirty = false
	f.pageLSN = 0
}
