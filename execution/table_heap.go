package execution

import (
	"encoding/binary"
	"sync"

	"github.com/tidwall/btree"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/logging"
	"github.com/ZeitHaum/rmdb/storage"
	"github.com/ZeitHaum/rmdb/transaction"
)

// Heap file layout: page 0 is the file header
// {record_size, records_per_page, num_pages}; every later page is a
// data page with header {num_records, next_free_hint}, the slot
// occupancy bitmap of ceil(records_per_page/8) bytes, then the
// fixed-size slot array.
const (
	heapFileHdrOffsetRecordSize = 0
	heapFileHdrOffsetRecordsPP  = 4
	heapFileHdrOffsetNumPages   = 8

	heapPageOffsetNumRecords = 0
	heapPageOffsetFreeHint   = 4
	heapPageHeaderSize       = 8
)

// recordsPerPage computes how many records of the given size fit in a
// data page alongside its header and bitmap.
func recordsPerPage(recordSize int) int {
	n := (common.PageSize - heapPageHeaderSize) * 8 / (recordSize*8 + 1)
	for n > 0 && heapPageHeaderSize+storage.BitmapBytes(n)+n*recordSize > common.PageSize {
		n--
	}
	common.Assert(n > 0, "record of %d bytes does not fit in a page", recordSize)
	return n
}

// TableHeap gives record-level access to one table's slotted heap
// file. Structural bookkeeping (free-page hint set, page count) is
// serialized by a per-table mutex; the records themselves are
// protected by the lock manager, and page bytes by the frame latches.
type TableHeap struct {
	meta    *catalog.TabMeta
	fd      common.FileID
	pool    *storage.BufferPool
	logMgr  *logging.LogManager
	lockMgr *transaction.LockManager

	recordSize     int
	recordsPP      int
	bitmapBytes    int
	slotsOffset    int

	// mu guards numPages and the hint set.
	mu       sync.Mutex
	numPages int32
	// freePages is the ordered "has a free slot" hint set; taking the
	// minimum keeps Rids deterministic. It is an optimization, not a
	// correctness invariant: a rebuild from the bitmaps is identical.
	freePages *btree.BTreeG[int32]
}

// CreateTableFile lays out an empty heap file: just the header page.
func CreateTableFile(disk *storage.DiskManager, meta *catalog.TabMeta) error {
	if err := disk.CreateFile(meta.FileName()); err != nil {
		return err
	}
	fd, err := disk.OpenFile(meta.FileName())
	if err != nil {
		return err
	}
	pageNo, err := disk.AllocatePage(fd)
	if err != nil {
		return err
	}
	common.Assert(pageNo == 0, "fresh heap file must start at page 0")

	recordSize := meta.RecordSize()
	var buf [common.PageSize]byte
	binary.LittleEndian.PutUint32(buf[heapFileHdrOffsetRecordSize:], uint32(recordSize))
	binary.LittleEndian.PutUint32(buf[heapFileHdrOffsetRecordsPP:], uint32(recordsPerPage(recordSize)))
	binary.LittleEndian.PutUint32(buf[heapFileHdrOffsetNumPages:], 1)
	return disk.WritePage(fd, 0, buf[:])
}

// OpenTableHeap opens the heap file of the table and rebuilds the
// free-page hint set from the page headers.
func OpenTableHeap(pool *storage.BufferPool, logMgr *logging.LogManager, lockMgr *transaction.LockManager, meta *catalog.TabMeta) (*TableHeap, error) {
	fd, err := pool.DiskManager().OpenFile(meta.FileName())
	if err != nil {
		return nil, err
	}
	var hdr [common.PageSize]byte
	if err := pool.DiskManager().ReadPage(fd, 0, hdr[:]); err != nil {
		return nil, err
	}

	h := &TableHeap{
		meta:       meta,
		fd:         fd,
		pool:       pool,
		logMgr:     logMgr,
		lockMgr:    lockMgr,
		recordSize: int(binary.LittleEndian.Uint32(hdr[heapFileHdrOffsetRecordSize:])),
		recordsPP:  int(binary.LittleEndian.Uint32(hdr[heapFileHdrOffsetRecordsPP:])),
		freePages: btree.NewBTreeG[int32](func(a, b int32) bool {
			return a < b
		}),
	}
	common.Assert(h.recordSize == meta.RecordSize(), "heap file record size %d does not match schema %d", h.recordSize, meta.RecordSize())
	h.bitmapBytes = storage.BitmapBytes(h.recordsPP)
	h.slotsOffset = heapPageHeaderSize + h.bitmapBytes

	h.numPages, err = pool.DiskManager().NumPages(fd)
	if err != nil {
		return nil, err
	}

	for pageNo := int32(1); pageNo < h.numPages; pageNo++ {
		frame, err := pool.FetchPage(common.PageID{Fd: fd, PageNo: pageNo})
		if err != nil {
			return nil, err
		}
		numRecords := int(binary.LittleEndian.Uint32(frame.Bytes[heapPageOffsetNumRecords:]))
		pool.UnpinPage(frame.ID(), false)
		if numRecords < h.recordsPP {
			h.freePages.Set(pageNo)
		}
	}
	return h, nil
}

// Fd returns the heap file handle (also the table's lock key).
func (h *TableHeap) Fd() common.FileID {
	return h.fd
}

// Meta returns the table metadata.
func (h *TableHeap) Meta() *catalog.TabMeta {
	return h.meta
}

// RecordSize returns the fixed record width.
func (h *TableHeap) RecordSize() int {
	return h.recordSize
}

// Close flushes and drops the table's pages and closes the file.
func (h *TableHeap) Close() error {
	if err := h.writeFileHeader(); err != nil {
		return err
	}
	if err := h.pool.EvictFile(h.fd); err != nil {
		return err
	}
	return h.pool.DiskManager().CloseFile(h.fd)
}

func (h *TableHeap) writeFileHeader() error {
	h.mu.Lock()
	numPages := h.numPages
	h.mu.Unlock()

	var buf [common.PageSize]byte
	binary.LittleEndian.PutUint32(buf[heapFileHdrOffsetRecordSize:], uint32(h.recordSize))
	binary.LittleEndian.PutUint32(buf[heapFileHdrOffsetRecordsPP:], uint32(h.recordsPP))
	binary.LittleEndian.PutUint32(buf[heapFileHdrOffsetNumPages:], uint32(numPages))
	return h.pool.DiskManager().WritePage(h.fd, 0, buf[:])
}

func (h *TableHeap) pageBitmap(frame *storage.PageFrame) storage.Bitmap {
	return storage.AsBitmap(frame.Bytes[heapPageHeaderSize:], h.recordsPP)
}

func (h *TableHeap) pageNumRecords(frame *storage.PageFrame) int {
	return int(binary.LittleEndian.Uint32(frame.Bytes[heapPageOffsetNumRecords:]))
}

func (h *TableHeap) setPageNumRecords(frame *storage.PageFrame, n int) {
	binary.LittleEndian.PutUint32(frame.Bytes[heapPageOffsetNumRecords:], uint32(n))
}

func (h *TableHeap) pageFreeHint(frame *storage.PageFrame) int {
	return int(binary.LittleEndian.Uint32(frame.Bytes[heapPageOffsetFreeHint:]))
}

func (h *TableHeap) setPageFreeHint(frame *storage.PageFrame, n int) {
	binary.LittleEndian.PutUint32(frame.Bytes[heapPageOffsetFreeHint:], uint32(n))
}

func (h *TableHeap) slot(frame *storage.PageFrame, slotNo int) []byte {
	off := h.slotsOffset + slotNo*h.recordSize
	return frame.Bytes[off : off+h.recordSize]
}

// pickInsertPage returns a page with a free slot, allocating a fresh
// one when the hint set is empty.
func (h *TableHeap) pickInsertPage() (int32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if pageNo, ok := h.freePages.Min(); ok {
		return pageNo, nil
	}
	pageNo, err := h.allocatePageLocked()
	if err != nil {
		return common.InvalidPageNo, err
	}
	h.freePages.Set(pageNo)
	return pageNo, nil
}

// allocatePageLocked extends the file by one zeroed data page. Called
// with h.mu held.
func (h *TableHeap) allocatePageLocked() (int32, error) {
	frame, err := h.pool.NewPage(h.fd)
	if err != nil {
		return common.InvalidPageNo, err
	}
	pageNo := frame.ID().PageNo
	h.pool.UnpinPage(frame.ID(), true)
	if pageNo >= h.numPages {
		h.numPages = pageNo + 1
	}
	return pageNo, nil
}

// ensurePage extends the file until pageNo exists. Used by recovery
// when redoing mutations against pages never flushed before the crash.
func (h *TableHeap) ensurePage(pageNo int32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.numPages <= pageNo {
		if _, err := h.allocatePageLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Insert places the record in the first free slot of a hinted page,
// appending the WAL record and the transaction's undo entry.
func (h *TableHeap) Insert(txn *transaction.Transaction, rec []byte) (common.Rid, error) {
	common.Assert(len(rec) == h.recordSize, "record size mismatch on insert")
	if txn != nil {
		if err := h.lockMgr.Lock(txn, transaction.NewTableLockTag(h.fd), transaction.LockModeIX); err != nil {
			return common.Rid{}, err
		}
	}

	for {
		pageNo, err := h.pickInsertPage()
		if err != nil {
			return common.Rid{}, err
		}
		frame, err := h.pool.FetchPage(common.PageID{Fd: h.fd, PageNo: pageNo})
		if err != nil {
			return common.Rid{}, err
		}

		frame.PageLatch.Lock()
		bitmap := h.pageBitmap(frame)
		slotNo := bitmap.FindFirstZero(h.pageFreeHint(frame))
		if slotNo == -1 {
			// The hint was stale; retire the page and retry.
			frame.PageLatch.Unlock()
			h.pool.UnpinPage(frame.ID(), false)
			h.mu.Lock()
			h.freePages.Delete(pageNo)
			h.mu.Unlock()
			continue
		}

		rid := common.Rid{PageNo: pageNo, SlotNo: int32(slotNo)}
		if txn != nil {
			if err := h.lockMgr.Lock(txn, transaction.NewRecordLockTag(h.fd, rid), transaction.LockModeX); err != nil {
				frame.PageLatch.Unlock()
				h.pool.UnpinPage(frame.ID(), false)
				return common.Rid{}, err
			}
			lsn, err := h.logMgr.Append(logging.NewInsertRecord(txn.ID(), txn.PrevLSN(), h.meta.Name, rid, rec))
			if err != nil {
				frame.PageLatch.Unlock()
				h.pool.UnpinPage(frame.ID(), false)
				return common.Rid{}, err
			}
			txn.SetPrevLSN(lsn)
			txn.AppendWrite(transaction.WriteInsert, h.meta.Name, rid, nil)
			frame.UpdatePageLSN(lsn)
		}

		bitmap.SetBit(slotNo, true)
		copy(h.slot(frame, slotNo), rec)
		numRecords := h.pageNumRecords(frame) + 1
		h.setPageNumRecords(frame, numRecords)
		h.setPageFreeHint(frame, slotNo+1)
		full := numRecords == h.recordsPP
		frame.PageLatch.Unlock()
		h.pool.UnpinPage(frame.ID(), true)

		if full {
			h.mu.Lock()
			h.freePages.Delete(pageNo)
			h.mu.Unlock()
		}
		return rid, nil
	}
}

// InsertAt places the record in an exact slot. It is used by rollback
// and recovery and panics when the slot is already occupied.
func (h *TableHeap) InsertAt(rid common.Rid, rec []byte) error {
	common.Assert(len(rec) == h.recordSize, "record size mismatch on insert")
	if err := h.ensurePage(rid.PageNo); err != nil {
		return err
	}
	frame, err := h.pool.FetchPage(common.PageID{Fd: h.fd, PageNo: rid.PageNo})
	if err != nil {
		return err
	}
	frame.PageLatch.Lock()
	bitmap := h.pageBitmap(frame)
	occupied := bitmap.SetBit(int(rid.SlotNo), true)
	common.Assert(!occupied, "InsertAt into occupied slot %v", rid)
	copy(h.slot(frame, int(rid.SlotNo)), rec)
	numRecords := h.pageNumRecords(frame) + 1
	h.setPageNumRecords(frame, numRecords)
	frame.PageLatch.Unlock()
	h.pool.UnpinPage(frame.ID(), true)

	h.mu.Lock()
	if numRecords < h.recordsPP {
		h.freePages.Set(rid.PageNo)
	} else {
		h.freePages.Delete(rid.PageNo)
	}
	h.mu.Unlock()
	return nil
}

// Get copies the record out under an IS table lock and an S record
// lock.
func (h *TableHeap) Get(txn *transaction.Transaction, rid common.Rid) ([]byte, error) {
	if txn != nil {
		if err := h.lockMgr.Lock(txn, transaction.NewTableLockTag(h.fd), transaction.LockModeIS); err != nil {
			return nil, err
		}
		if err := h.lockMgr.Lock(txn, transaction.NewRecordLockTag(h.fd, rid), transaction.LockModeS); err != nil {
			return nil, err
		}
	}
	return h.GetNoLock(rid)
}

// GetNoLock copies the record out without touching the lock manager.
// Internal read paths that already hold covering locks use this.
func (h *TableHeap) GetNoLock(rid common.Rid) ([]byte, error) {
	frame, err := h.pool.FetchPage(common.PageID{Fd: h.fd, PageNo: rid.PageNo})
	if err != nil {
		return nil, err
	}
	frame.PageLatch.RLock()
	bitmap := h.pageBitmap(frame)
	if int(rid.SlotNo) >= h.recordsPP || !bitmap.LoadBit(int(rid.SlotNo)) {
		frame.PageLatch.RUnlock()
		h.pool.UnpinPage(frame.ID(), false)
		return nil, common.NewError(common.PageNotExist, "record %v does not exist in table '%s'", rid, h.meta.Name)
	}
	rec := make([]byte, h.recordSize)
	copy(rec, h.slot(frame, int(rid.SlotNo)))
	frame.PageLatch.RUnlock()
	h.pool.UnpinPage(frame.ID(), false)
	return rec, nil
}

// Update overwrites the record in place, logging before and after
// images and recording the undo entry.
func (h *TableHeap) Update(txn *transaction.Transaction, rid common.Rid, rec []byte) error {
	common.Assert(len(rec) == h.recordSize, "record size mismatch on update")
	if txn != nil {
		if err := h.lockMgr.Lock(txn, transaction.NewTableLockTag(h.fd), transaction.LockModeIX); err != nil {
			return err
		}
		if err := h.lockMgr.Lock(txn, transaction.NewRecordLockTag(h.fd, rid), transaction.LockModeX); err != nil {
			return err
		}
	}

	frame, err := h.pool.FetchPage(common.PageID{Fd: h.fd, PageNo: rid.PageNo})
	if err != nil {
		return err
	}
	frame.PageLatch.Lock()
	bitmap := h.pageBitmap(frame)
	common.Assert(bitmap.LoadBit(int(rid.SlotNo)), "update of vacant slot %v", rid)
	slot := h.slot(frame, int(rid.SlotNo))
	if txn != nil {
		lsn, err := h.logMgr.Append(logging.NewUpdateRecord(txn.ID(), txn.PrevLSN(), h.meta.Name, rid, slot, rec))
		if err != nil {
			frame.PageLatch.Unlock()
			h.pool.UnpinPage(frame.ID(), false)
			return err
		}
		txn.SetPrevLSN(lsn)
		txn.AppendWrite(transaction.WriteUpdate, h.meta.Name, rid, slot)
		frame.UpdatePageLSN(lsn)
	}
	copy(slot, rec)
	frame.PageLatch.Unlock()
	h.pool.UnpinPage(frame.ID(), true)
	return nil
}

// Delete clears the record's slot, logging the pre-image and recording
// the undo entry. The page rejoins the free-page hint set.
func (h *TableHeap) Delete(txn *transaction.Transaction, rid common.Rid) error {
	if txn != nil {
		if err := h.lockMgr.Lock(txn, transaction.NewTableLockTag(h.fd), transaction.LockModeIX); err != nil {
			return err
		}
		if err := h.lockMgr.Lock(txn, transaction.NewRecordLockTag(h.fd, rid), transaction.LockModeX); err != nil {
			return err
		}
	}
	return h.deleteAt(txn, rid, true)
}

// deleteAt clears the slot. The WAL record is appended whenever txn is
// non-nil; the undo entry only when appendUndo is also true.
func (h *TableHeap) deleteAt(txn *transaction.Transaction, rid common.Rid, appendUndo bool) error {
	frame, err := h.pool.FetchPage(common.PageID{Fd: h.fd, PageNo: rid.PageNo})
	if err != nil {
		return err
	}
	frame.PageLatch.Lock()
	bitmap := h.pageBitmap(frame)
	common.Assert(bitmap.LoadBit(int(rid.SlotNo)), "delete of vacant slot %v", rid)
	slot := h.slot(frame, int(rid.SlotNo))
	if txn != nil {
		lsn, err := h.logMgr.Append(logging.NewDeleteRecord(txn.ID(), txn.PrevLSN(), h.meta.Name, rid, slot))
		if err != nil {
			frame.PageLatch.Unlock()
			h.pool.UnpinPage(frame.ID(), false)
			return err
		}
		txn.SetPrevLSN(lsn)
		if appendUndo {
			txn.AppendWrite(transaction.WriteDelete, h.meta.Name, rid, slot)
		}
		frame.UpdatePageLSN(lsn)
	}
	bitmap.SetBit(int(rid.SlotNo), false)
	h.setPageNumRecords(frame, h.pageNumRecords(frame)-1)
	if int(rid.SlotNo) < h.pageFreeHint(frame) {
		h.setPageFreeHint(frame, int(rid.SlotNo))
	}
	frame.PageLatch.Unlock()
	h.pool.UnpinPage(frame.ID(), true)

	h.mu.Lock()
	h.freePages.Set(rid.PageNo)
	h.mu.Unlock()
	return nil
}

// UndoInsert inverts an insert during rollback: the record is removed
// and the compensating DELETE record is logged.
func (h *TableHeap) UndoInsert(txn *transaction.Transaction, rid common.Rid) error {
	return h.deleteAt(txn, rid, false)
}

// UndoDelete inverts a delete during rollback: the pre-image is
// restored at its original Rid and the compensating INSERT record is
// logged.
func (h *TableHeap) UndoDelete(txn *transaction.Transaction, rid common.Rid, image []byte) error {
	if txn != nil {
		lsn, err := h.logMgr.Append(logging.NewInsertRecord(txn.ID(), txn.PrevLSN(), h.meta.Name, rid, image))
		if err != nil {
			return err
		}
		txn.SetPrevLSN(lsn)
	}
	return h.InsertAt(rid, image)
}

// UndoUpdate inverts an update during rollback: the pre-image is
// restored and the compensating UPDATE record is logged.
func (h *TableHeap) UndoUpdate(txn *transaction.Transaction, rid common.Rid, preImage []byte) error {
	frame, err := h.pool.FetchPage(common.PageID{Fd: h.fd, PageNo: rid.PageNo})
	if err != nil {
		return err
	}
	frame.PageLatch.Lock()
	bitmap := h.pageBitmap(frame)
	common.Assert(bitmap.LoadBit(int(rid.SlotNo)), "undo-update of vacant slot %v", rid)
	slot := h.slot(frame, int(rid.SlotNo))
	if txn != nil {
		lsn, err := h.logMgr.Append(logging.NewUpdateRecord(txn.ID(), txn.PrevLSN(), h.meta.Name, rid, slot, preImage))
		if err != nil {
			frame.PageLatch.Unlock()
			h.pool.UnpinPage(frame.ID(), false)
			return err
		}
		txn.SetPrevLSN(lsn)
		frame.UpdatePageLSN(lsn)
	}
	copy(slot, preImage)
	frame.PageLatch.Unlock()
	h.pool.UnpinPage(frame.ID(), true)
	return nil
}

// RedoInsert re-applies an INSERT log record when the page has not
// absorbed it yet. Already-applied slots are overwritten idempotently.
func (h *TableHeap) RedoInsert(rid common.Rid, image []byte, lsn common.LSN) error {
	if err := h.ensurePage(rid.PageNo); err != nil {
		return err
	}
	frame, err := h.pool.FetchPage(common.PageID{Fd: h.fd, PageNo: rid.PageNo})
	if err != nil {
		return err
	}
	frame.PageLatch.Lock()
	if common.EnableLSN && frame.PageLSN() >= lsn {
		frame.PageLatch.Unlock()
		h.pool.UnpinPage(frame.ID(), false)
		return nil
	}
	bitmap := h.pageBitmap(frame)
	if !bitmap.SetBit(int(rid.SlotNo), true) {
		h.setPageNumRecords(frame, h.pageNumRecords(frame)+1)
	}
	copy(h.slot(frame, int(rid.SlotNo)), image)
	frame.UpdatePageLSN(lsn)
	frame.PageLatch.Unlock()
	h.pool.UnpinPage(frame.ID(), true)
	return nil
}

// RedoDelete re-applies a DELETE log record.
func (h *TableHeap) RedoDelete(rid common.Rid, lsn common.LSN) error {
	if err := h.ensurePage(rid.PageNo); err != nil {
		return err
	}
	frame, err := h.pool.FetchPage(common.PageID{Fd: h.fd, PageNo: rid.PageNo})
	if err != nil {
		return err
	}
	frame.PageLatch.Lock()
	if common.EnableLSN && frame.PageLSN() >= lsn {
		frame.PageLatch.Unlock()
		h.pool.UnpinPage(frame.ID(), false)
		return nil
	}
	bitmap := h.pageBitmap(frame)
	if bitmap.SetBit(int(rid.SlotNo), false) {
		h.setPageNumRecords(frame, h.pageNumRecords(frame)-1)
	}
	if int(rid.SlotNo) < h.pageFreeHint(frame) {
		h.setPageFreeHint(frame, int(rid.SlotNo))
	}
	frame.UpdatePageLSN(lsn)
	frame.PageLatch.Unlock()
	h.pool.UnpinPage(frame.ID(), true)
	return nil
}

// RedoUpdate re-applies an UPDATE log record's after-image.
func (h *TableHeap) RedoUpdate(rid common.Rid, after []byte, lsn common.LSN) error {
	return h.RedoInsert(rid, after, lsn)
}

// RebuildHints reconstructs the free-page hint set from the page
// headers. Recovery calls this after redo/undo changed occupancy
// behind the hint set's back.
func (h *TableHeap) RebuildHints() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.numPages, _ = h.pool.DiskManager().NumPages(h.fd)
	h.freePages.Clear()
	for pageNo := int32(1); pageNo < h.numPages; pageNo++ {
		frame, err := h.pool.FetchPage(common.PageID{Fd: h.fd, PageNo: pageNo})
		if err != nil {
			return err
		}
		numRecords := h.pageNumRecords(frame)
		h.pool.UnpinPage(frame.ID(), false)
		if numRecords < h.recordsPP {
			h.freePages.Set(pageNo)
		}
	}
	return nil
}

// Scan returns a restartable iterator over every record, holding a
// shared table lock for the transaction.
func (h *TableHeap) Scan(txn *transaction.Transaction) (*HeapScan, error) {
	if txn != nil {
		if err := h.lockMgr.Lock(txn, transaction.NewTableLockTag(h.fd), transaction.LockModeS); err != nil {
			return nil, err
		}
	}
	h.mu.Lock()
	numPages := h.numPages
	h.mu.Unlock()
	return &HeapScan{
		heap:     h,
		numPages: numPages,
		rid:      common.Rid{PageNo: 1, SlotNo: -1},
		buf:      make([]byte, h.recordSize),
	}, nil
}

// HeapScan iterates the occupied slots of a heap in Rid order.
type HeapScan struct {
	heap     *TableHeap
	numPages int32
	rid      common.Rid
	buf      []byte
	err      error
}

// Next advances to the next occupied slot, returning false at the end.
func (s *HeapScan) Next() bool {
	if s.err != nil {
		return false
	}
	for s.rid.PageNo < s.numPages {
		frame, err := s.heap.pool.FetchPage(common.PageID{Fd: s.heap.fd, PageNo: s.rid.PageNo})
		if err != nil {
			s.err = err
			return false
		}
		frame.PageLatch.RLock()
		bitmap := s.heap.pageBitmap(frame)
		found := -1
		for slot := int(s.rid.SlotNo) + 1; slot < s.heap.recordsPP; slot++ {
			if bitmap.LoadBit(slot) {
				found = slot
				break
			}
		}
		if found != -1 {
			s.rid.SlotNo = int32(found)
			copy(s.buf, s.heap.slot(frame, found))
			frame.PageLatch.RUnlock()
			s.heap.pool.UnpinPage(frame.ID(), false)
			return true
		}
		frame.PageLatch.RUnlock()
		s.heap.pool.UnpinPage(frame.ID(), false)
		s.rid.PageNo++
		s.rid.SlotNo = -1
	}
	return false
}

// Record returns the bytes at the cursor, valid until the next call to
// Next.
func (s *HeapScan) Record() []byte {
	return s.buf
}

// Rid returns the locator at the cursor.
func (s *HeapScan) Rid() common.Rid {
	return s.rid
}

// Err returns the first error encountered by the scan.
func (s *HeapScan) Err() error {
	return s.err
}
