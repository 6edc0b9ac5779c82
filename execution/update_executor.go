package execution

import (
	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/indexing"
	"github.com/ZeitHaum/rmdb/planner"
	"github.com/ZeitHaum/rmdb/transaction"
)

// UpdateExecutor applies the set clauses to the rows produced by the
// child scan. Before any heap write, every affected unique index goes
// through a batch precheck: duplicates within the batch's new keys and
// collisions against entries not owned by the updated rows both abort
// the statement. Integer PLUS/MINUS wraps in two's complement.
type UpdateExecutor struct {
	ctx        *ExecContext
	heap       *TableHeap
	child      Executor
	setClauses []planner.SetClause

	cnt  int
	done bool
	err  error
}

// NewUpdateExecutor builds the update over the child's output rids.
func NewUpdateExecutor(ctx *ExecContext, table string, setClauses []planner.SetClause, child Executor) (*UpdateExecutor, error) {
	heap, err := ctx.Tables.GetTable(table)
	if err != nil {
		return nil, err
	}
	return &UpdateExecutor{ctx: ctx, heap: heap, child: child, setClauses: setClauses}, nil
}

func (e *UpdateExecutor) Init() error {
	e.done = false
	e.cnt = 0
	e.err = nil
	return e.child.Init()
}

// applySetClauses computes the post-image of one record.
func (e *UpdateExecutor) applySetClauses(rec []byte) ([]byte, error) {
	meta := e.heap.Meta()
	out := make([]byte, len(rec))
	copy(out, rec)
	for _, clause := range e.setClauses {
		col, err := meta.GetCol(clause.Col.ColName)
		if err != nil {
			return nil, err
		}
		val, err := clause.Val.CoerceTo(col.Type)
		if err != nil {
			return nil, err
		}
		slot := out[col.Offset : col.Offset+col.Len]
		switch clause.Op {
		case planner.SetAssign:
			if err := val.WriteTo(slot, col.Len); err != nil {
				return nil, err
			}
		case planner.SetPlus:
			cur := common.ReadValue(col.Type, slot, col.Len)
			sum, err := cur.Add(val)
			if err != nil {
				return nil, err
			}
			if err := sum.WriteTo(slot, col.Len); err != nil {
				return nil, err
			}
		case planner.SetMinus:
			cur := common.ReadValue(col.Type, slot, col.Len)
			diff, err := cur.Sub(val)
			if err != nil {
				return nil, err
			}
			if err := diff.WriteTo(slot, col.Len); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// affectedIndexes returns the indexes whose key columns intersect the
// set clauses.
func (e *UpdateExecutor) affectedIndexes() []*catalog.IndexMeta {
	meta := e.heap.Meta()
	var affected []*catalog.IndexMeta
	for i := range meta.Indexes {
		idx := &meta.Indexes[i]
		for _, col := range idx.Cols {
			hit := false
			for _, clause := range e.setClauses {
				if clause.Col.ColName == col.Name {
					hit = true
					break
				}
			}
			if hit {
				affected = append(affected, idx)
				break
			}
		}
	}
	return affected
}

// precheckUnique rejects the batch when the new keys collide, either
// within the batch or with existing entries of rows outside it.
func (e *UpdateExecutor) precheckUnique(idx *catalog.IndexMeta, tree *indexing.BPlusTree, rids []common.Rid, newImages [][]byte) error {
	inBatch := make(map[common.Rid]bool, len(rids))
	for _, rid := range rids {
		inBatch[rid] = true
	}
	seen := make(map[string]bool, len(newImages))
	key := make([]byte, idx.ColTotLen)
	for _, image := range newImages {
		BuildIndexKey(key, idx, image)
		if seen[string(key)] {
			return common.NewError(common.IndexInsertDuplicated,
				"update produces duplicate keys within the batch")
		}
		seen[string(key)] = true
		rid, found, err := tree.Get(key, e.ctx.Txn)
		if err != nil {
			return err
		}
		if found && !inBatch[rid] {
			return common.NewError(common.IndexInsertDuplicated,
				"update collides with an existing index entry")
		}
	}
	return nil
}

func (e *UpdateExecutor) Next() bool {
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
	if len(rids) == 0 {
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

	// Compute every post-image first.
	preImages := make([][]byte, len(rids))
	newImages := make([][]byte, len(rids))
	for i, rid := range rids {
		pre, err := e.heap.GetNoLock(rid)
		if err != nil {
			e.err = err
			return false
		}
		preImages[i] = pre
		newImages[i], err = e.applySetClauses(pre)
		if err != nil {
			e.err = err
			return false
		}
	}

	affected := e.affectedIndexes()
	for _, idx := range affected {
		tree, err := e.ctx.Tables.IndexManager().GetIndex(idx)
		if err != nil {
			e.err = err
			return false
		}
		if err := e.precheckUnique(idx, tree, rids, newImages); err != nil {
			e.err = err
			return false
		}
	}

	for i, rid := range rids {
		if err := e.heap.Update(e.ctx.Txn, rid, newImages[i]); err != nil {
			e.err = err
			return false
		}
		for _, idx := range affected {
			tree, err := e.ctx.Tables.IndexManager().GetIndex(idx)
			if err != nil {
				e.err = err
				return false
			}
			oldKey := make([]byte, idx.ColTotLen)
			newKey := make([]byte, idx.ColTotLen)
			BuildIndexKey(oldKey, idx, preImages[i])
			BuildIndexKey(newKey, idx, newImages[i])
			if tree.KeySchema().Compare(oldKey, newKey) == 0 {
				continue
			}
			if err := tree.Delete(oldKey, rid, e.ctx.Txn); err != nil {
				e.err = err
				return false
			}
			if err := tree.Insert(newKey, rid, e.ctx.Txn); err != nil {
				e.err = err
				return false
			}
		}
		e.cnt++
	}
	return false
}

// Count returns the number of rows updated.
func (e *UpdateExecutor) Count() int {
	return e.cnt
}

func (e *UpdateExecutor) Current() []byte {
	return nil
}

func (e *UpdateExecutor) Columns() []catalog.ColMeta {
	return nil
}

func (e *UpdateExecutor) TupleLen() int {
	return 0
}

func (e *UpdateExecutor) Rid() common.Rid {
	return common.Rid{PageNo: -1, SlotNo: -1}
}

func (e *UpdateExecutor) Err() error {
	return e.err
}

func (e *UpdateExecutor) Close() error {
	return e.child.Close()
}
