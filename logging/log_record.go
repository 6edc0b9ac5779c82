package logging

import (
	"encoding/binary"

	"github.com/ZeitHaum/rmdb/common"
)

// LogRecordType tags the WAL record variants.
type LogRecordType int32

const (
	LogBegin LogRecordType = iota
	LogCommit
	LogAbort
	LogInsert
	LogDelete
	LogUpdate
)

func (t LogRecordType) String() string {
	switch t {
	case LogBegin:
		return "BEGIN"
	case LogCommit:
		return "COMMIT"
	case LogAbort:
		return "ABORT"
	case LogInsert:
		return "INSERT"
	case LogDelete:
		return "DELETE"
	case LogUpdate:
		return "UPDATE"
	}
	return "UNKNOWN"
}

// LogRecordHeaderSize is the serialized size of the common header:
// type (4) | lsn (4) | total_len (4) | txn_id (4) | prev_lsn (4).
const LogRecordHeaderSize = 20

// LogRecord is the in-memory form of one WAL record. BEGIN, COMMIT and
// ABORT carry no payload. INSERT and DELETE carry the record image,
// the Rid and the table name; UPDATE carries both images.
type LogRecord struct {
	Type    LogRecordType
	LSN     common.LSN
	TxnID   common.TxnID
	PrevLSN common.LSN

	Rid       common.Rid
	Image     []byte // INSERT: inserted image; DELETE: deleted image
	OldImage  []byte // UPDATE: before image
	TableName string
}

// NewBeginRecord builds a BEGIN record for the transaction.
func NewBeginRecord(txnID common.TxnID, prevLSN common.LSN) *LogRecord {
	return &LogRecord{Type: LogBegin, TxnID: txnID, PrevLSN: prevLSN}
}

// NewCommitRecord builds a COMMIT record for the transaction.
func NewCommitRecord(txnID common.TxnID, prevLSN common.LSN) *LogRecord {
	return &LogRecord{Type: LogCommit, TxnID: txnID, PrevLSN: prevLSN}
}

// NewAbortRecord builds an ABORT record for the transaction.
func NewAbortRecord(txnID common.TxnID, prevLSN common.LSN) *LogRecord {
	return &LogRecord{Type: LogAbort, TxnID: txnID, PrevLSN: prevLSN}
}

// NewInsertRecord builds an INSERT record carrying the new image.
func NewInsertRecord(txnID common.TxnID, prevLSN common.LSN, table string, rid common.Rid, image []byte) *LogRecord {
	return &LogRecord{Type: LogInsert, TxnID: txnID, PrevLSN: prevLSN, TableName: table, Rid: rid, Image: image}
}

// NewDeleteRecord builds a DELETE record carrying the deleted image.
func NewDeleteRecord(txnID common.TxnID, prevLSN common.LSN, table string, rid common.Rid, image []byte) *LogRecord {
	return &LogRecord{Type: LogDelete, TxnID: txnID, PrevLSN: prevLSN, TableName: table, Rid: rid, Image: image}
}

// NewUpdateRecord builds an UPDATE record carrying before and after
// images.
func NewUpdateRecord(txnID common.TxnID, prevLSN common.LSN, table string, rid common.Rid, before, after []byte) *LogRecord {
	return &LogRecord{Type: LogUpdate, TxnID: txnID, PrevLSN: prevLSN, TableName: table, Rid: rid, OldImage: before, Image: after}
}

// Size returns the total serialized length of the record.
func (r *LogRecord) Size() int {
	size := LogRecordHeaderSize
	switch r.Type {
	case LogInsert, LogDelete:
		size += 4 + len(r.Image) + 8 + 4 + len(r.TableName)
	case LogUpdate:
		size += 4 + len(r.OldImage) + 4 + len(r.Image) + 8 + 4 + len(r.TableName)
	}
	return size
}

func putBytes(dst []byte, src []byte) int {
	binary.LittleEndian.PutUint32(dst, uint32(len(src)))
	copy(dst[4:], src)
	return 4 + len(src)
}

func putRid(dst []byte, rid common.Rid) int {
	binary.LittleEndian.PutUint32(dst, uint32(rid.PageNo))
	binary.LittleEndian.PutUint32(dst[4:], uint32(rid.SlotNo))
	return 8
}

// WriteTo serializes the record into dst, which must hold Size() bytes.
func (r *LogRecord) WriteTo(dst []byte) {
	size := r.Size()
	common.Assert(len(dst) >= size, "log buffer too small for record of %d bytes", size)
	binary.LittleEndian.PutUint32(dst[0:], uint32(r.Type))
	binary.LittleEndian.PutUint32(dst[4:], uint32(r.LSN))
	binary.LittleEndian.PutUint32(dst[8:], uint32(size))
	binary.LittleEndian.PutUint32(dst[12:], uint32(r.TxnID))
	binary.LittleEndian.PutUint32(dst[16:], uint32(r.PrevLSN))

	off := LogRecordHeaderSize
	switch r.Type {
	case LogInsert, LogDelete:
		off += putBytes(dst[off:], r.Image)
		off += putRid(dst[off:], r.Rid)
		off += putBytes(dst[off:], []byte(r.TableName))
	case LogUpdate:
		off += putBytes(dst[off:], r.OldImage)
		off += putBytes(dst[off:], r.Image)
		off += putRid(dst[off:], r.Rid)
		off += putBytes(dst[off:], []byte(r.TableName))
	}
}

func getBytes(src []byte) ([]byte, int, bool) {
	if len(src) < 4 {
		return nil, 0, false
	}
	n := int(binary.LittleEndian.Uint32(src))
	if n < 0 || len(src) < 4+n {
		return nil, 0, false
	}
	out := make([]byte, n)
	copy(out, src[4:4+n])
	return out, 4 + n, true
}

// ParseLogRecord deserializes one record from src, which must begin at
// a record boundary and contain the whole record. Corruption returns
// an InternalError.
func ParseLogRecord(src []byte) (*LogRecord, error) {
	if len(src) < LogRecordHeaderSize {
		return nil, common.NewError(common.InternalError, "truncated log record header")
	}
	r := &LogRecord{
		Type:    LogRecordType(int32(binary.LittleEndian.Uint32(src[0:]))),
		LSN:     common.LSN(binary.LittleEndian.Uint32(src[4:])),
		TxnID:   common.TxnID(binary.LittleEndian.Uint32(src[12:])),
		PrevLSN: common.LSN(binary.LittleEndian.Uint32(src[16:])),
	}
	totalLen := int(binary.LittleEndian.Uint32(src[8:]))
	if totalLen < LogRecordHeaderSize || totalLen > len(src) {
		return nil, common.NewError(common.InternalError, "corrupted log record: total_len %d", totalLen)
	}

	body := src[LogRecordHeaderSize:totalLen]
	switch r.Type {
	case LogBegin, LogCommit, LogAbort:
	case LogInsert, LogDelete:
		var n int
		var ok bool
		if r.Image, n, ok = getBytes(body); !ok {
			return nil, common.NewError(common.InternalError, "corrupted %s record payload", r.Type)
		}
		body = body[n:]
		if len(body) < 8 {
			return nil, common.NewError(common.InternalError, "corrupted %s record rid", r.Type)
		}
		r.Rid = common.Rid{PageNo: int32(binary.LittleEndian.Uint32(body)), SlotNo: int32(binary.LittleEndian.Uint32(body[4:]))}
		body = body[8:]
		name, _, ok := getBytes(body)
		if !ok {
			return nil, common.NewError(common.InternalError, "corrupted %s record table name", r.Type)
		}
		r.TableName = string(name)
	case LogUpdate:
		var n int
		var ok bool
		if r.OldImage, n, ok = getBytes(body); !ok {
			return nil, common.NewError(common.InternalError, "corrupted UPDATE record before image")
		}
		body = body[n:]
		if r.Image, n, ok = getBytes(body); !ok {
			return nil, common.NewError(common.InternalError, "corrupted UPDATE record after image")
		}
		body = body[n:]
		if len(body) < 8 {
			return nil, common.NewError(common.InternalError, "corrupted UPDATE record rid")
		}
		r.Rid = common.Rid{PageNo: int32(binary.LittleEndian.Uint32(body)), SlotNo: int32(binary.LittleEndian.Uint32(body[4:]))}
		body = body[8:]
		name, _, ok := getBytes(body)
		if !ok {
			return nil, common.NewError(common.InternalError, "corrupted UPDATE record table name")
		}
		r.TableName = string(name)
	default:
		return nil, common.NewError(common.InternalError, "unknown log record type %d", r.Type)
	}
	return r, nil
}

// IsMutation reports whether the record describes a heap mutation.
func (r *LogRecord) IsMutation() bool {
	switch r.Type {
	case LogInsert, LogDelete, LogUpdate:
		return true
	}
	return false
}
