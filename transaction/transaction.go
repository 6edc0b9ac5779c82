package transaction

import (
	"github.com/ZeitHaum/rmdb/common"
)

// TxnState tracks the two-phase locking lifecycle of a transaction.
type TxnState int

const (
	TxnGrowing TxnState = iota
	TxnShrinking
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnGrowing:
		return "GROWING"
	case TxnShrinking:
		return "SHRINKING"
	case TxnCommitted:
		return "COMMITTED"
	case TxnAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// WriteOp tags the kind of mutation recorded in a WriteRecord.
type WriteOp int

const (
	WriteInsert WriteOp = iota
	WriteDelete
	WriteUpdate
)

// WriteRecord is one per-transaction undo entry: enough to invert the
// mutation during rollback. Image is the pre-image for DELETE and
// UPDATE and unused for INSERT.
type WriteRecord struct {
	Op    WriteOp
	Table string
	Rid   common.Rid
	Image []byte
}

// Transaction is the runtime state of one transaction. A transaction
// runs on a single thread at a time, so its fields need no internal
// synchronization; the lock manager and log manager are the shared
// structures.
type Transaction struct {
	id      common.TxnID
	state   TxnState
	prevLSN common.LSN

	writeSet []WriteRecord
	lockSet  map[LockTag]LockMode
}

// RestartForRecovery reconstructs a context for a transaction that was
// active at the time of a crash, so the compensation records written
// during the undo phase carry its original id.
func RestartForRecovery(id common.TxnID) *Transaction {
	return newTransaction(id)
}

func newTransaction(id common.TxnID) *Transaction {
	return &Transaction{
		id:      id,
		state:   TxnGrowing,
		prevLSN: common.InvalidLSN,
		lockSet: make(map[LockTag]LockMode),
	}
}

// ID returns the transaction identifier.
func (txn *Transaction) ID() common.TxnID {
	return txn.id
}

// State returns the current lifecycle state.
func (txn *Transaction) State() TxnState {
	return txn.state
}

// PrevLSN returns the LSN of the transaction's most recent log record.
func (txn *Transaction) PrevLSN() common.LSN {
	return txn.prevLSN
}

// SetPrevLSN records the LSN of a log record just appended on behalf
// of this transaction.
func (txn *Transaction) SetPrevLSN(lsn common.LSN) {
	txn.prevLSN = lsn
}

// AppendWrite pushes an undo entry. image is copied so the caller may
// reuse its buffer.
func (txn *Transaction) AppendWrite(op WriteOp, table string, rid common.Rid, image []byte) {
	var copied []byte
	if image != nil {
		copied = make([]byte, len(image))
		copy(copied, image)
	}
	txn.writeSet = append(txn.writeSet, WriteRecord{Op: op, Table: table, Rid: rid, Image: copied})
}

// WriteSet returns the mutations recorded so far, oldest first.
func (txn *Transaction) WriteSet() []WriteRecord {
	return txn.writeSet
}

func (txn *Transaction) clearWriteSet() {
	txn.writeSet = txn.writeSet[:0]
}

func (txn *Transaction) recordLock(tag LockTag, mode LockMode) {
	txn.lockSet[tag] = mode
}

// beginShrinking transitions GROWING -> SHRINKING on the first unlock.
func (txn *Transaction) beginShrinking() {
	if txn.state == TxnGrowing {
		txn.state = TxnShrinking
	}
}
