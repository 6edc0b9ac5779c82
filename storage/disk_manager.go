package storage

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ZeitHaum/rmdb/common"
)

// dbFile wraps one open database file: the OS handle plus the per-file
// page allocation state. Page numbers grow monotonically; numbers are
// reused only after an explicit DeallocatePage (the B+tree is the sole
// caller of deallocation).
type dbFile struct {
	path string
	file *os.File

	// allocMu serializes allocation and file extension.
	allocMu    sync.Mutex
	nextPageNo int32
	freePages  []int32
}

// DiskManager performs synchronous block I/O on the files of a single
// database directory and tracks page allocation per file.
type DiskManager struct {
	root string

	nextFd  atomic.Int32
	files   *xsync.MapOf[common.FileID, *dbFile]
	pathFds *xsync.MapOf[string, common.FileID]
}

// NewDiskManager creates a DiskManager rooted at dir.
func NewDiskManager(dir string) *DiskManager {
	return &DiskManager{
		root:    dir,
		files:   xsync.NewMapOf[common.FileID, *dbFile](),
		pathFds: xsync.NewMapOf[string, common.FileID](),
	}
}

// Root returns the database directory path.
func (dm *DiskManager) Root() string {
	return dm.root
}

func (dm *DiskManager) abs(name string) string {
	return filepath.Join(dm.root, name)
}

// IsFile reports whether the named file exists in the database directory.
func (dm *DiskManager) IsFile(name string) bool {
	_, err := os.Stat(dm.abs(name))
	return err == nil
}

// CreateFile creates an empty database file. It fails with FileExists
// if the file is already present.
func (dm *DiskManager) CreateFile(name string) error {
	if dm.IsFile(name) {
		return common.NewError(common.FileExists, "file '%s' already exists", name)
	}
	f, err := os.OpenFile(dm.abs(name), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0666)
	if err != nil {
		return common.NewError(common.IoError, "create '%s': %v", name, err)
	}
	return f.Close()
}

// OpenFile opens a database file and returns its handle. Opening the
// same file twice returns the same handle.
func (dm *DiskManager) OpenFile(name string) (common.FileID, error) {
	if fd, ok := dm.pathFds.Load(name); ok {
		return fd, nil
	}
	if !dm.IsFile(name) {
		return common.InvalidFileID, common.NewError(common.FileNotFound, "file '%s' does not exist", name)
	}
	f, err := os.OpenFile(dm.abs(name), os.O_RDWR, 0666)
	if err != nil {
		return common.InvalidFileID, common.NewError(common.IoError, "open '%s': %v", name, err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return common.InvalidFileID, common.NewError(common.IoError, "stat '%s': %v", name, err)
	}

	fd := common.FileID(dm.nextFd.Add(1))
	handle := &dbFile{
		path:       name,
		file:       f,
		nextPageNo: int32(stat.Size() / common.PageSize),
	}
	actualFd, loaded := dm.pathFds.LoadOrStore(name, fd)
	if loaded {
		// Lost the race with a concurrent open of the same file.
		_ = f.Close()
		return actualFd, nil
	}
	dm.files.Store(fd, handle)
	return fd, nil
}

// CloseFile closes an open file handle.
func (dm *DiskManager) CloseFile(fd common.FileID) error {
	handle, ok := dm.files.LoadAndDelete(fd)
	if !ok {
		return common.NewError(common.FileNotFound, "fd %d is not open", fd)
	}
	dm.pathFds.Delete(handle.path)
	if err := handle.file.Close(); err != nil {
		return common.NewError(common.IoError, "close '%s': %v", handle.path, err)
	}
	return nil
}

// DestroyFile removes a file from disk. The file must not be open.
func (dm *DiskManager) DestroyFile(name string) error {
	if _, open := dm.pathFds.Load(name); open {
		return common.NewError(common.IoError, "cannot destroy open file '%s'", name)
	}
	if !dm.IsFile(name) {
		return common.NewError(common.FileNotFound, "file '%s' does not exist", name)
	}
	if err := os.Remove(dm.abs(name)); err != nil {
		return common.NewError(common.IoError, "remove '%s': %v", name, err)
	}
	return nil
}

// FileName returns the name the handle was opened under.
func (dm *DiskManager) FileName(fd common.FileID) (string, error) {
	handle, ok := dm.files.Load(fd)
	if !ok {
		return "", common.NewError(common.FileNotFound, "fd %d is not open", fd)
	}
	return handle.path, nil
}

// FileSize returns the size of the named file in bytes.
func (dm *DiskManager) FileSize(name string) (int64, error) {
	stat, err := os.Stat(dm.abs(name))
	if err != nil {
		return 0, common.NewError(common.FileNotFound, "file '%s' does not exist", name)
	}
	return stat.Size(), nil
}

func (dm *DiskManager) handle(fd common.FileID) (*dbFile, error) {
	handle, ok := dm.files.Load(fd)
	if !ok {
		return nil, common.NewError(common.FileNotFound, "fd %d is not open", fd)
	}
	return handle, nil
}

// AllocatePage reserves the next page number in the file, physically
// extending it, and returns the number. Deallocated pages are reused
// first.
func (dm *DiskManager) AllocatePage(fd common.FileID) (int32, error) {
	handle, err := dm.handle(fd)
	if err != nil {
		return common.InvalidPageNo, err
	}
	handle.allocMu.Lock()
	defer handle.allocMu.Unlock()

	if n := len(handle.freePages); n > 0 {
		pageNo := handle.freePages[n-1]
		handle.freePages = handle.freePages[:n-1]
		return pageNo, nil
	}

	pageNo := handle.nextPageNo
	if err := handle.file.Truncate(int64(pageNo+1) * common.PageSize); err != nil {
		return common.InvalidPageNo, common.NewError(common.IoError, "extend '%s': %v", handle.path, err)
	}
	handle.nextPageNo++
	return pageNo, nil
}

// DeallocatePage marks a page for reuse by a later AllocatePage.
func (dm *DiskManager) DeallocatePage(fd common.FileID, pageNo int32) error {
	handle, err := dm.handle(fd)
	if err != nil {
		return err
	}
	handle.allocMu.Lock()
	defer handle.allocMu.Unlock()
	common.Assert(pageNo >= 0 && pageNo < handle.nextPageNo, "deallocating unallocated page %d", pageNo)
	handle.freePages = append(handle.freePages, pageNo)
	return nil
}

// NumPages returns the number of pages allocated in the file.
func (dm *DiskManager) NumPages(fd common.FileID) (int32, error) {
	handle, err := dm.handle(fd)
	if err != nil {
		return 0, err
	}
	handle.allocMu.Lock()
	defer handle.allocMu.Unlock()
	return handle.nextPageNo, nil
}

// ReadPage reads the page identified by pageNo into buf.
func (dm *DiskManager) ReadPage(fd common.FileID, pageNo int32, buf []byte) error {
	common.Assert(len(buf) == common.PageSize, "page buffer must be PageSize bytes")
	handle, err := dm.handle(fd)
	if err != nil {
		return err
	}
	if _, err := handle.file.ReadAt(buf, int64(pageNo)*common.PageSize); err != nil {
		return common.NewError(common.IoError, "read page %d of '%s': %v", pageNo, handle.path, err)
	}
	return nil
}

// WritePage writes buf to the page identified by pageNo.
func (dm *DiskManager) WritePage(fd common.FileID, pageNo int32, buf []byte) error {
	common.Assert(len(buf) == common.PageSize, "page buffer must be PageSize bytes")
	handle, err := dm.handle(fd)
	if err != nil {
		return err
	}
	if _, err := handle.file.WriteAt(buf, int64(pageNo)*common.PageSize); err != nil {
		return common.NewError(common.IoError, "write page %d of '%s': %v", pageNo, handle.path, err)
	}
	return nil
}

// Sync flushes buffered writes of the file to stable storage.
func (dm *DiskManager) Sync(fd common.FileID) error {
	handle, err := dm.handle(fd)
	if err != nil {
		return err
	}
	if err := handle.file.Sync(); err != nil {
		return common.NewError(common.IoError, "sync '%s': %v", handle.path, err)
	}
	return nil
}
