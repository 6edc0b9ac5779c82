package transaction

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/logging"
)

// RollbackTarget inverts heap mutations during abort. It is
// implemented by the table layer, which also owns the index
// maintenance for each inversion and writes the compensating WAL
// record describing it.
type RollbackTarget interface {
	// RollbackInsert removes the inserted record and its index entries.
	RollbackInsert(txn *Transaction, table string, rid common.Rid) error
	// RollbackDelete restores the deleted record at its original Rid
	// and re-adds its index entries.
	RollbackDelete(txn *Transaction, table string, rid common.Rid, image []byte) error
	// RollbackUpdate restores the pre-image and swaps index entries
	// back.
	RollbackUpdate(txn *Transaction, table string, rid common.Rid, preImage []byte) error
}

// TransactionManager coordinates the transaction lifecycle with the
// lock manager (2PL) and the log manager (WAL durability).
type TransactionManager struct {
	nextTxnID   atomic.Int32
	activeTxns  *xsync.MapOf[common.TxnID, *Transaction]
	lockManager *LockManager
	logManager  *logging.LogManager

	target RollbackTarget
}

// NewTransactionManager initializes the transaction manager.
func NewTransactionManager(lockManager *LockManager, logManager *logging.LogManager) *TransactionManager {
	return &TransactionManager{
		activeTxns:  xsync.NewMapOf[common.TxnID, *Transaction](),
		lockManager: lockManager,
		logManager:  logManager,
	}
}

// SetRollbackTarget wires the table layer in after construction (the
// table layer itself depends on the transaction manager's locks).
func (tm *TransactionManager) SetRollbackTarget(target RollbackTarget) {
	tm.target = target
}

// LockManager returns the associated lock manager.
func (tm *TransactionManager) LockManager() *LockManager {
	return tm.lockManager
}

// Begin starts a transaction: when txn is nil a fresh one is created
// with a new id. The BEGIN record is appended to the WAL and the
// transaction is registered as active.
func (tm *TransactionManager) Begin(txn *Transaction) (*Transaction, error) {
	if txn == nil {
		txn = newTransaction(common.TxnID(tm.nextTxnID.Add(1)))
	}
	lsn, err := tm.logManager.Append(logging.NewBeginRecord(txn.ID(), txn.PrevLSN()))
	if err != nil {
		return nil, err
	}
	txn.SetPrevLSN(lsn)
	tm.activeTxns.Store(txn.ID(), txn)
	return txn, nil
}

// Get returns the active transaction with the given id.
func (tm *TransactionManager) Get(id common.TxnID) (*Transaction, bool) {
	return tm.activeTxns.Load(id)
}

// Commit completes the transaction: locks are released, the COMMIT
// record is appended and the log is flushed so the commit is durable
// when this returns.
func (tm *TransactionManager) Commit(txn *Transaction) error {
	if txn == nil {
		return nil
	}
	txn.beginShrinking()
	tm.lockManager.ReleaseAll(txn)
	txn.clearWriteSet()

	lsn, err := tm.logManager.Append(logging.NewCommitRecord(txn.ID(), txn.PrevLSN()))
	if err != nil {
		return err
	}
	txn.SetPrevLSN(lsn)
	if err := tm.logManager.Flush(); err != nil {
		return err
	}

	txn.state = TxnCommitted
	tm.activeTxns.Delete(txn.ID())
	return nil
}

// Abort rolls the transaction back: the write set is inverted in
// reverse order (each inversion writing its own compensating WAL
// record), locks are released, and the ABORT record is flushed.
func (tm *TransactionManager) Abort(txn *Transaction) error {
	if txn == nil {
		return nil
	}
	common.Assert(tm.target != nil, "transaction manager has no rollback target")

	writes := txn.WriteSet()
	for i := len(writes) - 1; i >= 0; i-- {
		w := writes[i]
		var err error
		switch w.Op {
		case WriteInsert:
			err = tm.target.RollbackInsert(txn, w.Table, w.Rid)
		case WriteDelete:
			err = tm.target.RollbackDelete(txn, w.Table, w.Rid, w.Image)
		case WriteUpdate:
			err = tm.target.RollbackUpdate(txn, w.Table, w.Rid, w.Image)
		}
		if err != nil {
			return common.NewError(common.InternalError, "rollback of txn %d failed: %v", txn.ID(), err)
		}
	}
	txn.clearWriteSet()

	txn.beginShrinking()
	tm.lockManager.ReleaseAll(txn)

	lsn, err := tm.logManager.Append(logging.NewAbortRecord(txn.ID(), txn.PrevLSN()))
	if err != nil {
		return err
	}
	txn.SetPrevLSN(lsn)
	if err := tm.logManager.Flush(); err != nil {
		return err
	}

	txn.state = TxnAborted
	tm.activeTxns.Delete(txn.ID())
	return nil
}
