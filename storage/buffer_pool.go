package storage

import (
	"github.com/ZeitHaum/rmdb/common"

	"sync"
)

// WALFlusher is the slice of the log manager the buffer pool needs to
// honor the write-ahead rule: before a dirty page reaches disk, every
// log record up to its page LSN must be persistent.
type WALFlusher interface {
	// PersistLSN returns the highest LSN known to be on disk.
	PersistLSN() common.LSN
	// Flush forces the log buffer to disk.
	Flush() error
}

// BufferPool caches disk pages in a fixed array of frames. A single
// process-wide mutex guards the page table, free list and replacer;
// the bytes of each frame are guarded by the frame's own latch, which
// callers acquire after pinning.
type BufferPool struct {
	disk *DiskManager
	wal  WALFlusher

	mu        sync.Mutex
	frames    []PageFrame
	pageTable map[common.PageID]int
	freeList  []int
	replacer  *LRUReplacer
}

// NewBufferPool creates a pool of numFrames frames over the disk
// manager. wal may be nil when no log manager participates (tests).
func NewBufferPool(numFrames int, disk *DiskManager, wal WALFlusher) *BufferPool {
	pool := &BufferPool{
		disk:      disk,
		wal:       wal,
		frames:    make([]PageFrame, numFrames),
		pageTable: make(map[common.PageID]int, numFrames),
		freeList:  make([]int, 0, numFrames),
		replacer:  NewLRUReplacer(),
	}
	for i := range pool.frames {
		pool.frames[i].pageID = common.PageID{Fd: common.InvalidFileID, PageNo: common.InvalidPageNo}
		pool.freeList = append(pool.freeList, i)
	}
	return pool
}

// DiskManager returns the underlying disk manager.
func (bp *BufferPool) DiskManager() *DiskManager {
	return bp.disk
}

// pickVictim pops a frame from the free list, else from the replacer.
// Called with bp.mu held.
func (bp *BufferPool) pickVictim() (int, bool) {
	if n := len(bp.freeList); n > 0 {
		idx := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return idx, true
	}
	return bp.replacer.Victim()
}

// writeBack flushes a dirty frame to disk, honoring the WAL rule.
// Called with bp.mu held; the frame is unpinned so no latch holder can
// be mutating its bytes.
func (bp *BufferPool) writeBack(frame *PageFrame) error {
	if !frame.dirty {
		return nil
	}
	if bp.wal != nil && frame.pageLSN > bp.wal.PersistLSN() {
		if err := bp.wal.Flush(); err != nil {
			return err
		}
	}
	if err := bp.disk.WritePage(frame.pageID.Fd, frame.pageID.PageNo, frame.Bytes[:]); err != nil {
		return err
	}
	frame.dirty = false
	return nil
}

// prepareVictim evicts the current occupant of the frame. Called with
// bp.mu held.
func (bp *BufferPool) prepareVictim(idx int) error {
	frame := &bp.frames[idx]
	if frame.pageID.IsNil() {
		return nil
	}
	if err := bp.writeBack(frame); err != nil {
		// Put the frame back so the pool does not leak it.
		bp.replacer.Unpin(idx)
		return err
	}
	delete(bp.pageTable, frame.pageID)
	return nil
}

// FetchPage pins the page in a frame and returns it, reading it from
// disk if it is not resident. It fails when every frame is pinned.
func (bp *BufferPool) FetchPage(pageID common.PageID) (*PageFrame, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if idx, ok := bp.pageTable[pageID]; ok {
		frame := &bp.frames[idx]
		frame.pinCount++
		bp.replacer.Pin(idx)
		return frame, nil
	}

	idx, ok := bp.pickVictim()
	if !ok {
		return nil, common.NewError(common.InternalError, "buffer pool exhausted: all %d frames pinned", len(bp.frames))
	}
	if err := bp.prepareVictim(idx); err != nil {
		return nil, err
	}
	frame := &bp.frames[idx]
	if err := bp.disk.ReadPage(pageID.Fd, pageID.PageNo, frame.Bytes[:]); err != nil {
		frame.pageID = common.PageID{Fd: common.InvalidFileID, PageNo: common.InvalidPageNo}
		bp.freeList = append(bp.freeList, idx)
		return nil, err
	}
	frame.reset(pageID)
	bp.pageTable[pageID] = idx
	return frame, nil
}

// NewPage allocates a fresh page in the file, pins it in a frame and
// returns it. The frame starts zeroed and dirty.
func (bp *BufferPool) NewPage(fd common.FileID) (*PageFrame, error) {
	pageNo, err := bp.disk.AllocatePage(fd)
	if err != nil {
		return nil, err
	}
	pageID := common.PageID{Fd: fd, PageNo: pageNo}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	// A deallocated page number may still be resident from its prior
	// life; reuse the frame in place.
	if idx, ok := bp.pageTable[pageID]; ok {
		frame := &bp.frames[idx]
		common.Assert(frame.pinCount == 0, "reallocating a pinned page %v", pageID)
		bp.replacer.Pin(idx)
		clear(frame.Bytes[:])
		frame.reset(pageID)
		frame.dirty = true
		return frame, nil
	}

	idx, ok := bp.pickVictim()
	if !ok {
		return nil, common.NewError(common.InternalError, "buffer pool exhausted: all %d frames pinned", len(bp.frames))
	}
	if err := bp.prepareVictim(idx); err != nil {
		return nil, err
	}
	frame := &bp.frames[idx]
	clear(frame.Bytes[:])
	frame.reset(pageID)
	frame.dirty = true
	bp.pageTable[pageID] = idx
	return frame, nil
}

// UnpinPage drops one pin. When the pin count reaches zero the frame
// becomes an eviction candidate. markDirty is OR-ed into the dirty flag.
func (bp *BufferPool) UnpinPage(pageID common.PageID, markDirty bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageTable[pageID]
	common.Assert(ok, "unpinning non-resident page %v", pageID)
	frame := &bp.frames[idx]
	common.Assert(frame.pinCount > 0, "unpinning page %v with zero pin count", pageID)
	frame.pinCount--
	frame.dirty = frame.dirty || markDirty
	if frame.pinCount == 0 {
		bp.replacer.Unpin(idx)
	}
}

// FlushPage writes the page to disk now, honoring the WAL rule. The
// page keeps its residency and pins.
func (bp *BufferPool) FlushPage(pageID common.PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageTable[pageID]
	if !ok {
		return common.NewError(common.PageNotExist, "page %v is not resident", pageID)
	}
	return bp.writeBack(&bp.frames[idx])
}

// FlushAll writes every dirty resident page of the file to disk.
func (bp *BufferPool) FlushAll(fd common.FileID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for pageID, idx := range bp.pageTable {
		if pageID.Fd != fd {
			continue
		}
		if err := bp.writeBack(&bp.frames[idx]); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage evicts the page and returns its number to the disk
// manager's free list. The page must be unpinned.
func (bp *BufferPool) DeletePage(pageID common.PageID) error {
	bp.mu.Lock()
	if idx, ok := bp.pageTable[pageID]; ok {
		frame := &bp.frames[idx]
		common.Assert(frame.pinCount == 0, "deleting pinned page %v", pageID)
		bp.replacer.Pin(idx)
		delete(bp.pageTable, pageID)
		frame.pageID = common.PageID{Fd: common.InvalidFileID, PageNo: common.InvalidPageNo}
		frame.dirty = false
		bp.freeList = append(bp.freeList, idx)
	}
	bp.mu.Unlock()
	return bp.disk.DeallocatePage(pageID.Fd, pageID.PageNo)
}

// EvictFile drops every resident page of the file, flushing dirty ones
// first. Used when a table or index file is closed or destroyed; all
// of the file's pages must be unpinned.
func (bp *BufferPool) EvictFile(fd common.FileID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for pageID, idx := range bp.pageTable {
		if pageID.Fd != fd {
			continue
		}
		frame := &bp.frames[idx]
		common.Assert(frame.pinCount == 0, "evicting pinned page %v", pageID)
		if err := bp.writeBack(frame); err != nil {
			return err
		}
		bp.replacer.Pin(idx)
		delete(bp.pageTable, pageID)
		frame.pageID = common.PageID{Fd: common.InvalidFileID, PageNo: common.InvalidPageNo}
		bp.freeList = append(bp.freeList, idx)
	}
	return nil
}
