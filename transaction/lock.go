package transaction

import (
	"sync"

	"github.com/ZeitHaum/rmdb/common"
)

// LockTag identifies a lockable resource: a whole table (keyed by its
// heap file id) or a single record (file id + Rid).
type LockTag struct {
	Fd  common.FileID
	Rid common.Rid
}

// NewTableLockTag builds the tag for a whole table.
func NewTableLockTag(fd common.FileID) LockTag {
	return LockTag{Fd: fd, Rid: common.Rid{PageNo: -1, SlotNo: -1}}
}

// NewRecordLockTag builds the tag for one record of a table.
func NewRecordLockTag(fd common.FileID, rid common.Rid) LockTag {
	return LockTag{Fd: fd, Rid: rid}
}

// IsTable reports whether the tag names a table-level resource.
func (t LockTag) IsTable() bool {
	return t.Rid.PageNo == -1 && t.Rid.SlotNo == -1
}

// LockMode is a mode of the multi-granularity locking hierarchy.
type LockMode int

const (
	LockModeIS LockMode = iota
	LockModeIX
	LockModeS
	LockModeSIX
	LockModeX
)

func (m LockMode) String() string {
	switch m {
	case LockModeIS:
		return "IS"
	case LockModeIX:
		return "IX"
	case LockModeS:
		return "S"
	case LockModeSIX:
		return "SIX"
	case LockModeX:
		return "X"
	}
	return "?"
}

const numLockModes = 5

// compatibilityMatrix[requested][held] follows the standard
// hierarchical locking rules.
var compatibilityMatrix = [numLockModes][numLockModes]bool{
	//              IS     IX     S      SIX    X
	/* IS  */ {true, true, true, true, false},
	/* IX  */ {true, true, false, false, false},
	/* S   */ {true, false, true, false, false},
	/* SIX */ {true, false, false, false, false},
	/* X   */ {false, false, false, false, false},
}

// Compatible reports whether a requested mode can coexist with a held
// mode of another transaction.
func Compatible(req, held LockMode) bool {
	return compatibilityMatrix[req][held]
}

// coverageMatrix[requested][held] reports whether an already-held mode
// subsumes a new request by the same transaction.
var coverageMatrix = [numLockModes][numLockModes]bool{
	//              IS     IX     S      SIX    X
	/* IS  */ {true, true, true, true, true},
	/* IX  */ {false, true, false, true, true},
	/* S   */ {false, false, true, true, true},
	/* SIX */ {false, false, false, true, true},
	/* X   */ {false, false, false, false, true},
}

// CoveredBy reports whether the held lock is strong enough for the
// request (identity included).
func CoveredBy(req, held LockMode) bool {
	return coverageMatrix[req][held]
}

// upgraded returns the mode resulting from strengthening held with
// req: S+IX and IX+S both become SIX; otherwise the stronger of the
// two in coverage order.
func upgraded(req, held LockMode) LockMode {
	if (held == LockModeS && req == LockModeIX) || (held == LockModeIX && req == LockModeS) {
		return LockModeSIX
	}
	if CoveredBy(held, req) {
		return req
	}
	return held
}

// lockRequest is one granted queue entry. Under no-wait every entry in
// a queue is granted; the FIFO order is kept for bookkeeping only.
type lockRequest struct {
	txnID common.TxnID
	mode  LockMode
}

// LockManager implements hierarchical two-phase locking with no-wait
// deadlock prevention: any request that conflicts with a holder from a
// different transaction aborts the requester immediately. A single
// mutex serializes the lock table.
type LockManager struct {
	mu    sync.Mutex
	table map[LockTag][]lockRequest
}

// NewLockManager initializes an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{
		table: make(map[LockTag][]lockRequest),
	}
}

// Lock acquires mode on the resource for the transaction. It returns
// LockOnShrinking when the transaction already released a lock, and
// DeadlockPrevention when the request conflicts with another holder.
func (lm *LockManager) Lock(txn *Transaction, tag LockTag, mode LockMode) error {
	if txn.State() == TxnShrinking {
		return common.NewError(common.LockOnShrinking, "txn %d requested %s lock while shrinking", txn.ID(), mode)
	}
	common.Assert(txn.State() == TxnGrowing, "txn %d in terminal state requested a lock", txn.ID())

	lm.mu.Lock()
	defer lm.mu.Unlock()

	queue := lm.table[tag]
	selfIdx := -1
	for i, req := range queue {
		if req.txnID == txn.ID() {
			selfIdx = i
			continue
		}
		if !Compatible(mode, req.mode) {
			return common.NewError(common.DeadlockPrevention,
				"txn %d requested %s on %v held as %s by txn %d", txn.ID(), mode, tag, req.mode, req.txnID)
		}
	}

	if selfIdx != -1 {
		held := queue[selfIdx].mode
		if CoveredBy(mode, held) {
			return nil
		}
		next := upgraded(mode, held)
		// The loop above checked mode only; next can be stronger
		// (S+IX gives SIX), so check it against the other holders.
		for _, req := range queue {
			if req.txnID != txn.ID() && !Compatible(next, req.mode) {
				return common.NewError(common.DeadlockPrevention,
					"txn %d upgrade to %s on %v conflicts with txn %d", txn.ID(), next, tag, req.txnID)
			}
		}
		queue[selfIdx].mode = next
		txn.recordLock(tag, next)
		return nil
	}

	lm.table[tag] = append(queue, lockRequest{txnID: txn.ID(), mode: mode})
	txn.recordLock(tag, mode)
	return nil
}

// Unlock releases the transaction's lock on the resource and moves the
// transaction into its shrinking phase.
func (lm *LockManager) Unlock(txn *Transaction, tag LockTag) {
	txn.beginShrinking()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	queue := lm.table[tag]
	for i, req := range queue {
		if req.txnID == txn.ID() {
			lm.table[tag] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(lm.table[tag]) == 0 {
		delete(lm.table, tag)
	}
}

// ReleaseAll releases every lock held by the transaction.
func (lm *LockManager) ReleaseAll(txn *Transaction) {
	for tag := range txn.lockSet {
		lm.Unlock(txn, tag)
	}
	clear(txn.lockSet)
}

// HeldMode returns the mode a transaction holds on the resource, if any.
func (lm *LockManager) HeldMode(txnID common.TxnID, tag LockTag) (LockMode, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for _, req := range lm.table[tag] {
		if req.txnID == txnID {
			return req.mode, true
		}
	}
	return 0, false
}
