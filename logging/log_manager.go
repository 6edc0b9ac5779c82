package logging

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ZeitHaum/rmdb/common"
)

// LogFileName is the append-only WAL file within the database directory.
const LogFileName = "log.txt"

// LogManager owns the append-only WAL: a single in-memory buffer, the
// monotonic LSN counter, and the persist watermark. Records enter the
// buffer via Append; the buffer reaches disk when it would overflow,
// on commit, when the buffer pool enforces the WAL rule before writing
// a dirty page, and at shutdown.
type LogManager struct {
	mu sync.Mutex

	file       *os.File
	buf        []byte
	globalLSN  common.LSN // next LSN to assign
	persistLSN common.LSN // highest LSN known to be on disk
}

// NewLogManager opens (or creates) the log file inside dir. The LSN
// counter resumes after the highest LSN already in the file.
func NewLogManager(dir string) (*LogManager, error) {
	path := filepath.Join(dir, LogFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, common.NewError(common.IoError, "open log file: %v", err)
	}

	lm := &LogManager{
		file: f,
		buf:  make([]byte, 0, common.LogBufferSize),
	}

	// Resume the counter after whatever the existing log contains.
	iter, err := NewLogIterator(path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	maxLSN := common.LSN(-1)
	for iter.Next() {
		maxLSN = iter.Record().LSN
	}
	closeErr := iter.Close()
	if err := iter.Err(); err != nil {
		_ = f.Close()
		return nil, err
	}
	if closeErr != nil {
		_ = f.Close()
		return nil, common.NewError(common.IoError, "close log iterator: %v", closeErr)
	}
	lm.globalLSN = maxLSN + 1
	lm.persistLSN = maxLSN

	if _, err := f.Seek(0, 2); err != nil {
		_ = f.Close()
		return nil, common.NewError(common.IoError, "seek log file: %v", err)
	}
	return lm, nil
}

// Append assigns the next LSN to the record, serializes it into the
// log buffer (flushing first if it would overflow) and returns the
// assigned LSN.
func (lm *LogManager) Append(record *LogRecord) (common.LSN, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	record.LSN = lm.globalLSN
	lm.globalLSN++

	size := record.Size()
	if len(lm.buf)+size > common.LogBufferSize {
		if err := lm.flushLocked(); err != nil {
			return common.InvalidLSN, err
		}
	}

	start := len(lm.buf)
	if size > cap(lm.buf)-start {
		// Oversized record: grow the buffer for this one append.
		lm.buf = append(lm.buf, make([]byte, size)...)
	} else {
		lm.buf = lm.buf[:start+size]
	}
	record.WriteTo(lm.buf[start:])
	return record.LSN, nil
}

func (lm *LogManager) flushLocked() error {
	if len(lm.buf) > 0 {
		if _, err := lm.file.Write(lm.buf); err != nil {
			return common.NewError(common.IoError, "append log: %v", err)
		}
		if err := lm.file.Sync(); err != nil {
			return common.NewError(common.IoError, "sync log: %v", err)
		}
		lm.buf = lm.buf[:0]
	}
	lm.persistLSN = lm.globalLSN - 1
	return nil
}

// Flush forces the log buffer to disk and advances the persist
// watermark to the last assigned LSN.
func (lm *LogManager) Flush() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushLocked()
}

// PersistLSN returns the highest LSN known to be on disk.
func (lm *LogManager) PersistLSN() common.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.persistLSN
}

// GlobalLSN returns the next LSN to be assigned.
func (lm *LogManager) GlobalLSN() common.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.globalLSN
}

// Iterator returns a sequential reader over the persisted log. Flush
// before iterating to observe buffered records.
func (lm *LogManager) Iterator() (*LogIterator, error) {
	return NewLogIterator(lm.file.Name())
}

// Close flushes outstanding records and closes the log file.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if err := lm.flushLocked(); err != nil {
		return err
	}
	if err := lm.file.Close(); err != nil {
		return common.NewError(common.IoError, "close log: %v", err)
	}
	return nil
}
