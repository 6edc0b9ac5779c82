package execution

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
	"github.com/ZeitHaum/rmdb/transaction"
)

// LoadExecutor bulk-loads a CSV file into a table. Each row goes
// through the same coercion, duplicate probe and index maintenance as
// a single-row insert, inside the supplied transaction.
type LoadExecutor struct {
	ctx  *ExecContext
	heap *TableHeap
	path string

	cnt  int
	done bool
	err  error
}

// NewLoadExecutor builds the loader for the plan's file and table.
func NewLoadExecutor(ctx *ExecContext, plan *planner.LoadPlan) (*LoadExecutor, error) {
	heap, err := ctx.Tables.GetTable(plan.Table)
	if err != nil {
		return nil, err
	}
	return &LoadExecutor{ctx: ctx, heap: heap, path: plan.Path}, nil
}

// parseField converts one CSV field for its destination column.
func parseField(field string, col *catalog.ColMeta) (common.Value, error) {
	switch col.Type {
	case common.TypeInt:
		n, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			return common.Value{}, common.NewError(common.InvalidValue, "bad INT '%s': %v", field, err)
		}
		return common.NewIntValue(int32(n)), nil
	case common.TypeBigint:
		n, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return common.Value{}, common.NewError(common.InvalidValue, "bad BIGINT '%s': %v", field, err)
		}
		return common.NewBigintValue(n), nil
	case common.TypeFloat:
		f, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return common.Value{}, common.NewError(common.InvalidValue, "bad FLOAT '%s': %v", field, err)
		}
		return common.NewFloatValue(float32(f)), nil
	case common.TypeString:
		return common.NewStringValue(field), nil
	case common.TypeDatetime:
		if !common.ValidateDatetime(field) {
			return common.Value{}, common.NewError(common.InvalidValue, "invalid datetime '%s'", field)
		}
		return common.NewDatetimeValue(field), nil
	}
	panic("unknown column type")
}

func (e *LoadExecutor) Init() error {
	e.done = false
	e.cnt = 0
	e.err = nil
	return nil
}

func (e *LoadExecutor) Next() bool {
	if e.done {
		return false
	}
	e.done = true

	f, err := os.Open(e.path)
	if err != nil {
		e.err = common.NewError(common.FileNotFound, "load source '%s': %v", e.path, err)
		return false
	}
	defer f.Close()

	if e.ctx.Txn != nil {
		if err := e.ctx.Tables.lockMgr.Lock(e.ctx.Txn, transaction.NewTableLockTag(e.heap.Fd()), transaction.LockModeX); err != nil {
			e.err = err
			return false
		}
	}

	meta := e.heap.Meta()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(meta.Cols)
	values := make([]common.Value, len(meta.Cols))
	for {
		fields, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			e.err = common.NewError(common.InvalidValue, "csv parse: %v", err)
			return false
		}
		for i := range meta.Cols {
			values[i], err = parseField(fields[i], &meta.Cols[i])
			if err != nil {
				e.err = err
				return false
			}
		}
		rec, err := serializeRow(meta, values)
		if err != nil {
			e.err = err
			return false
		}
		if _, err := insertRow(e.ctx, e.heap, rec); err != nil {
			e.err = err
			return false
		}
		e.cnt++
	}
	return false
}

// Count returns the number of rows loaded.
func (e *LoadExecutor) Count() int {
	return e.cnt
}

func (e *LoadExecutor) Current() []byte {
	return nil
}

func (e *LoadExecutor) Columns() []catalog.ColMeta {
	return nil
}

func (e *LoadExecutor) TupleLen() int {
	return 0
}

func (e *LoadExecutor) Rid() common.Rid {
	return common.Rid{PageNo: -1, SlotNo: -1}
}

func (e *LoadExecutor) Err() error {
	return e.err
}

func (e *LoadExecutor) Close() error {
	return nil
}
