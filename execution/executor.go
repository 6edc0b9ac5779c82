package execution

import (
	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
	"github.com/ZeitHaum/rmdb/transaction"
)

// Executor is the contract every volcano operator implements. Records
// are opaque byte buffers laid out according to Columns(); only leaf
// operators producing scanned records guarantee a meaningful Rid.
type Executor interface {
	// Init prepares the operator for iteration; it may be called again
	// to restart the operator.
	Init() error
	// Next advances to the next tuple, returning false at the end.
	Next() bool
	// Current returns the bytes of the tuple at the cursor, valid
	// until the next call to Next.
	Current() []byte
	// Columns describes the output layout; every ColMeta offset is
	// relative to Current().
	Columns() []catalog.ColMeta
	// TupleLen is the byte width of Current().
	TupleLen() int
	// Rid locates the current tuple in its heap, when meaningful.
	Rid() common.Rid
	// Err returns the first error encountered.
	Err() error
	// Close releases the operator's resources.
	Close() error
}

// ExecContext carries the per-statement execution state: the running
// transaction and the shared managers.
type ExecContext struct {
	Txn    *transaction.Transaction
	Tables *TableManager
}

// NewExecContext builds an execution context.
func NewExecContext(txn *transaction.Transaction, tables *TableManager) *ExecContext {
	return &ExecContext{Txn: txn, Tables: tables}
}

// findColumn locates a TabCol within an output layout.
func findColumn(cols []catalog.ColMeta, target planner.TabCol) (*catalog.ColMeta, error) {
	for i := range cols {
		if cols[i].Name != target.ColName {
			continue
		}
		if target.TabName == "" || cols[i].TabName == target.TabName {
			return &cols[i], nil
		}
	}
	return nil, common.NewError(common.ColumnNotFound, "column '%s' not found in operator output", target.ColName)
}

// opMatches applies a comparison operator to a three-way compare result.
func opMatches(op planner.CompOp, cmp int) bool {
	switch op {
	case planner.OpEq:
		return cmp == 0
	case planner.OpNe:
		return cmp != 0
	case planner.OpLt:
		return cmp < 0
	case planner.OpGt:
		return cmp > 0
	case planner.OpLe:
		return cmp <= 0
	case planner.OpGe:
		return cmp >= 0
	}
	panic("unknown comparison operator")
}

// condValueBytes serializes the condition's literal for byte-wise
// comparison against the left column, coercing INT literals for BIGINT
// columns and validating datetime strings at comparison time.
func condValueBytes(lhs *catalog.ColMeta, val common.Value) ([]byte, error) {
	if val.Type == common.TypeString && lhs.Type == common.TypeDatetime {
		if !common.ValidateDatetime(val.StringValue()) {
			return nil, common.NewError(common.InvalidValue, "invalid datetime '%s'", val.StringValue())
		}
		val = common.NewDatetimeValue(val.StringValue())
	}
	coerced, err := val.CoerceTo(lhs.Type)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, lhs.Len)
	if err := coerced.WriteTo(buf, lhs.Len); err != nil {
		return nil, err
	}
	return buf, nil
}

// EvalConds evaluates the AND of every condition against the record,
// using the layout to locate operands and the left column's type for
// the comparison.
func EvalConds(cols []catalog.ColMeta, conds []planner.Condition, rec []byte) (bool, error) {
	for i := range conds {
		ok, err := evalCond(cols, &conds[i], rec)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalCond(cols []catalog.ColMeta, cond *planner.Condition, rec []byte) (bool, error) {
	lhs, err := findColumn(cols, cond.LhsCol)
	if err != nil {
		return false, err
	}
	lhsBytes := rec[lhs.Offset : lhs.Offset+lhs.Len]

	var rhsBytes []byte
	if cond.IsRhsVal {
		rhsBytes, err = condValueBytes(lhs, cond.RhsVal)
		if err != nil {
			return false, err
		}
	} else {
		rhs, err := findColumn(cols, cond.RhsCol)
		if err != nil {
			return false, err
		}
		if rhs.Type != lhs.Type {
			return false, common.NewError(common.IncompatibleType,
				"cannot compare column '%s' (%s) with column '%s' (%s)", lhs.Name, lhs.Type, rhs.Name, rhs.Type)
		}
		rhsBytes = rec[rhs.Offset : rhs.Offset+rhs.Len]
	}

	cmp := common.CompareBytes(lhsBytes, rhsBytes, lhs.Type, lhs.Len)
	return opMatches(cond.Op, cmp), nil
}

// shiftColumns rebases a column layout to start at the given byte
// offset, for building joined output layouts.
func shiftColumns(cols []catalog.ColMeta, base int) []catalog.ColMeta {
	out := make([]catalog.ColMeta, len(cols))
	for i, col := range cols {
		col.Offset += base
		out[i] = col
	}
	return out
}

// tupleLen sums the widths of a layout.
func tupleLen(cols []catalog.ColMeta) int {
	n := 0
	for _, col := range cols {
		n += col.Len
	}
	return n
}
