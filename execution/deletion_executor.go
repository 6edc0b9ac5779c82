package execution

import (
	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/transaction"
)

// DeletionExecutor removes the rows produced by its child scan. The
// table lock escalates from IX to X when more than one Rid is
// affected; for each Rid the pre-image drives the index entry
// removals.
type DeletionExecutor struct {
	ctx   *ExecContext
	heap  *TableHeap
	child Executor

	cnt  int
	done bool
	err  error
}

// NewDeletionExecutor builds the delete over the child's output rids.
func NewDeletionExecutor(ctx *ExecContext, table string, child Executor) (*DeletionExecutor, error) {
	heap, err := ctx.Tables.GetTable(table)
	if err != nil {
		return nil, err
	}
	return &DeletionExecutor{ctx: ctx, heap: heap, child: child}, nil
}

func (e *DeletionExecutor) Init() error {
	e.done = false
	e.cnt = 0
	e.err = nil
	return e.child.Init()
}

func (e *DeletionExecutor) Next() bool {
	if e.done {
		return false
	}
	e.done = true

	var rids []common.Rid
	for e.child.Next() {
		rids = append(rids, e.child.Rid())
	}
	if err := e.child.Err(); err != nil {
		e.err = err
		return false
	}

	if e.ctx.Txn != nil {
		mode := transaction.LockModeX
		if len(rids) == 1 {
			mode = transaction.LockModeIX
		}
		if err := e.ctx.Tables.lockMgr.Lock(e.ctx.Txn, transaction.NewTableLockTag(e.heap.Fd()), mode); err != nil {
			e.err = err
			return false
		}
	}

	meta := e.heap.Meta()
	for _, rid := range rids {
		preImage, err := e.heap.GetNoLock(rid)
		if err != nil {
			e.err = err
			return false
		}
		if err := e.heap.Delete(e.ctx.Txn, rid); err != nil {
			e.err = err
			return false
		}
		for i := range meta.Indexes {
			idx := &meta.Indexes[i]
			tree, err := e.ctx.Tables.IndexManager().GetIndex(idx)
			if err != nil {
				e.err = err
				return false
			}
			key := make([]byte, idx.ColTotLen)
			BuildIndexKey(key, idx, preImage)
			if err := tree.Delete(key, rid, e.ctx.Txn); err != nil {
				e.err = err
				return false
			}
		}
		e.cnt++
	}
	return false
}

// Count returns the number of rows deleted.
func (e *DeletionExecutor) Count() int {
	return e.cnt
}

func (e *DeletionExecutor) Current() []byte {
	return nil
}

func (e *DeletionExecutor) Columns() []catalog.ColMeta {
	return nil
}

func (e *DeletionExecutor) TupleLen() int {
	return 0
}

func (e *DeletionExecutor) Rid() common.Rid {
	return common.Rid{PageNo: -1, SlotNo: -1}
}

func (e *DeletionExecutor) Err() error {
	return e.err
}

func (e *DeletionExecutor) Close() error {
	return e.child.Close()
}
