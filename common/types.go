package common

import "fmt"

const (
	// PageSize is the fixed size of every disk page in bytes.
	PageSize = 4096

	// BufferPoolSize is the number of frames held by the buffer pool.
	BufferPoolSize = 65536

	// LogBufferSize is the capacity of the in-memory WAL buffer.
	LogBufferSize = 1 << 15

	// JoinBufferSize bounds the outer block of a block nested loop join.
	JoinBufferSize = 64 << 20

	// EnableLockCrabbing selects latch-coupled B+tree descent. When
	// false, a tree-global mutex guards every operation instead.
	EnableLockCrabbing = true

	// EnableLSN enables per-page LSN tracking for the WAL rule and
	// redo gating.
	EnableLSN = true
)

// ColType enumerates the storable column types.
type ColType int8

const (
	TypeInt ColType = iota
	TypeFloat
	TypeString
	TypeDatetime
	TypeBigint
)

// DatetimeLen is the fixed on-disk width of a DATETIME column:
// "YYYY-MM-DD HH:MM:SS".
const DatetimeLen = 19

func (t ColType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeFloat:
		return "FLOAT"
	case TypeString:
		return "STRING"
	case TypeDatetime:
		return "DATETIME"
	case TypeBigint:
		return "BIGINT"
	}
	return "UNKNOWN"
}

// FixedSize returns the on-disk width of the type, or -1 for STRING
// whose width is declared per column.
func (t ColType) FixedSize() int {
	switch t {
	case TypeInt:
		return 4
	case TypeFloat:
		return 4
	case TypeBigint:
		return 8
	case TypeDatetime:
		return DatetimeLen
	default:
		return -1
	}
}

// FileID is a handle for an open database file.
type FileID int32

const InvalidFileID FileID = -1

// InvalidPageNo marks a page number that refers to no page.
const InvalidPageNo int32 = -1

// PageID uniquely identifies a page within the database.
type PageID struct {
	Fd     FileID
	PageNo int32
}

func (p PageID) String() string {
	return fmt.Sprintf("Page(%d, %d)", p.Fd, p.PageNo)
}

// IsNil reports whether the PageID refers to no page.
func (p PageID) IsNil() bool {
	return p.Fd == InvalidFileID || p.PageNo == InvalidPageNo
}

// Rid is the stable locator of a record: (page number, slot number).
// Rids order lexicographically.
type Rid struct {
	PageNo int32
	SlotNo int32
}

func (r Rid) String() string {
	return fmt.Sprintf("{%d, %d}", r.PageNo, r.SlotNo)
}

// Less reports whether r orders before other.
func (r Rid) Less(other Rid) bool {
	if r.PageNo != other.PageNo {
		return r.PageNo < other.PageNo
	}
	return r.SlotNo < other.SlotNo
}

// Iid locates an entry inside a B+tree: (leaf page number, slot within
// the leaf).
type Iid struct {
	PageNo int32
	SlotNo int32
}

// TxnID identifies a transaction.
type TxnID int32

const InvalidTxnID TxnID = -1

// LSN is a monotonic log sequence number.
type LSN int32

const InvalidLSN LSN = -1
