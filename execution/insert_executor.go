package execution

import (
	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
	"github.com/ZeitHaum/rmdb/transaction"
)

// serializeRow writes one value per column into a fresh record buffer,
// coercing INT literals for BIGINT columns and validating datetimes.
func serializeRow(meta *catalog.TabMeta, values []common.Value) ([]byte, error) {
	if len(values) != len(meta.Cols) {
		return nil, common.NewError(common.InvalidValueCount,
			"table '%s' has %d columns but %d values were supplied", meta.Name, len(meta.Cols), len(values))
	}
	rec := make([]byte, meta.RecordSize())
	for i, col := range meta.Cols {
		val := values[i]
		if val.Type == common.TypeString && col.Type == common.TypeDatetime {
			if !common.ValidateDatetime(val.StringValue()) {
				return nil, common.NewError(common.InvalidValue, "invalid datetime '%s'", val.StringValue())
			}
			val = common.NewDatetimeValue(val.StringValue())
		}
		coerced, err := val.CoerceTo(col.Type)
		if err != nil {
			return nil, err
		}
		if err := coerced.WriteTo(rec[col.Offset:col.Offset+col.Len], col.Len); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// insertRow performs the shared insert path of the Insert and Load
// executors: the duplicate probe over every index runs before the heap
// write, then the record and its index entries land.
func insertRow(ctx *ExecContext, heap *TableHeap, rec []byte) (common.Rid, error) {
	meta := heap.Meta()

	for i := range meta.Indexes {
		idx := &meta.Indexes[i]
		tree, err := ctx.Tables.IndexManager().GetIndex(idx)
		if err != nil {
			return common.Rid{}, err
		}
		key := make([]byte, idx.ColTotLen)
		BuildIndexKey(key, idx, rec)
		if _, found, err := tree.Get(key, ctx.Txn); err != nil {
			return common.Rid{}, err
		} else if found {
			return common.Rid{}, common.NewError(common.IndexInsertDuplicated,
				"duplicate key for index on '%s'", meta.Name)
		}
	}

	rid, err := heap.Insert(ctx.Txn, rec)
	if err != nil {
		return common.Rid{}, err
	}
	for i := range meta.Indexes {
		idx := &meta.Indexes[i]
		tree, err := ctx.Tables.IndexManager().GetIndex(idx)
		if err != nil {
			return common.Rid{}, err
		}
		key := make([]byte, idx.ColTotLen)
		BuildIndexKey(key, idx, rec)
		if err := tree.Insert(key, rid, ctx.Txn); err != nil {
			return common.Rid{}, err
		}
	}
	return rid, nil
}

// InsertExecutor inserts one row of literal values.
type InsertExecutor struct {
	ctx    *ExecContext
	heap   *TableHeap
	values []common.Value

	rid  common.Rid
	cnt  int
	done bool
	err  error
}

// NewInsertExecutor builds the insert for the plan's table and values.
func NewInsertExecutor(ctx *ExecContext, plan *planner.InsertPlan) (*InsertExecutor, error) {
	heap, err := ctx.Tables.GetTable(plan.Table)
	if err != nil {
		return nil, err
	}
	return &InsertExecutor{ctx: ctx, heap: heap, values: plan.Values}, nil
}

func (e *InsertExecutor) Init() error {
	e.done = false
	e.cnt = 0
	e.err = nil
	return nil
}

func (e *InsertExecutor) Next() bool {
	if e.done {
		return false
	}
	e.done = true

	if e.ctx.Txn != nil {
		if err := e.ctx.Tables.lockMgr.Lock(e.ctx.Txn, transaction.NewTableLockTag(e.heap.Fd()), transaction.LockModeIX); err != nil {
			e.err = err
			return false
		}
	}
	rec, err := serializeRow(e.heap.Meta(), e.values)
	if err != nil {
		e.err = err
		return false
	}
	rid, err := insertRow(e.ctx, e.heap, rec)
	if err != nil {
		e.err = err
		return false
	}
	e.rid = rid
	e.cnt = 1
	return false
}

// Count returns the number of rows inserted.
func (e *InsertExecutor) Count() int {
	return e.cnt
}

func (e *InsertExecutor) Current() []byte {
	return nil
}

func (e *InsertExecutor) Columns() []catalog.ColMeta {
	return nil
}

func (e *InsertExecutor) TupleLen() int {
	return 0
}

func (e *InsertExecutor) Rid() common.Rid {
	return e.rid
}

func (e *InsertExecutor) Err() error {
	return e.err
}

func (e *InsertExecutor) Close() error {
	return nil
}
