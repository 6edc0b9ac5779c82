package logging

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/ZeitHaum/rmdb/common"
)

// LogIterator walks the persisted log sequentially, one record per
// Next. A record whose total length is shorter than the header or that
// runs past the end of the file is corruption and surfaces through Err.
type LogIterator struct {
	file   *os.File
	reader *bufio.Reader

	current *LogRecord
	err     error
}

// NewLogIterator opens a sequential reader over the log at path.
func NewLogIterator(path string) (*LogIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.NewError(common.IoError, "open log for read: %v", err)
	}
	return &LogIterator{
		file:   f,
		reader: bufio.NewReader(f),
	}, nil
}

// Next advances to the next record. It returns false at end of log or
// on error; check Err afterwards.
func (it *LogIterator) Next() bool {
	if it.err != nil {
		return false
	}

	var header [LogRecordHeaderSize]byte
	if _, err := io.ReadFull(it.reader, header[:]); err != nil {
		if !errors.Is(err, io.EOF) {
			it.err = common.NewError(common.InternalError, "log ends inside a record header")
		}
		return false
	}

	totalLen := int(binary.LittleEndian.Uint32(header[8:]))
	if totalLen < LogRecordHeaderSize {
		it.err = common.NewError(common.InternalError, "corrupted log record: total_len %d", totalLen)
		return false
	}

	raw := make([]byte, totalLen)
	copy(raw, header[:])
	if _, err := io.ReadFull(it.reader, raw[LogRecordHeaderSize:]); err != nil {
		it.err = common.NewError(common.InternalError, "log ends inside a record body")
		return false
	}

	rec, err := ParseLogRecord(raw)
	if err != nil {
		it.err = err
		return false
	}
	it.current = rec
	return true
}

// Record returns the record at the current cursor.
func (it *LogIterator) Record() *LogRecord {
	return it.current
}

// Err returns the first corruption or I/O error encountered.
func (it *LogIterator) Err() error {
	return it.err
}

// Close releases the underlying file handle.
func (it *LogIterator) Close() error {
	return it.file.Close()
}
