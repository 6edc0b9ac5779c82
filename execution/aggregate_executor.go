package execution

import (
	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
)

// aggState is one accumulator: MIN/MAX start at the type extrema, SUM
// at zero, COUNT at zero.
type aggState struct {
	clause planner.AggClause
	col    catalog.ColMeta // source column (zero value for COUNT(*))
	value  common.Value
	count  int32
}

// AggregateExecutor performs single-group aggregation: it consumes the
// whole child and emits exactly one row whose slots hold the final
// accumulator values (COUNT as a 32-bit integer).
type AggregateExecutor struct {
	child Executor
	aggs  []aggState

	cols []catalog.ColMeta
	buf  []byte
	done bool
	err  error
}

// NewAggregateExecutor resolves the aggregate columns against the
// child layout and derives the single-row output layout.
func NewAggregateExecutor(child Executor, clauses []planner.AggClause) (*AggregateExecutor, error) {
	e := &AggregateExecutor{child: child}
	offset := 0
	for _, clause := range clauses {
		state := aggState{clause: clause}
		out := catalog.ColMeta{Name: clause.Alias, Offset: offset}
		if out.Name == "" {
			out.Name = clause.Type.String()
		}
		switch clause.Type {
		case planner.AggCount, planner.AggCountAll:
			out.Type = common.TypeInt
			out.Len = 4
		default:
			col, err := findColumn(child.Columns(), clause.Col)
			if err != nil {
				return nil, err
			}
			if clause.Type == planner.AggSum && (col.Type == common.TypeString || col.Type == common.TypeDatetime) {
				return nil, common.NewError(common.IncompatibleType, "SUM over non-numeric column '%s'", col.Name)
			}
			state.col = *col
			out.Type = col.Type
			out.Len = col.Len
		}
		if clause.Type == planner.AggCount {
			// Validate the column reference even though counting never
			// reads it.
			if _, err := findColumn(child.Columns(), clause.Col); err != nil {
				return nil, err
			}
		}
		offset += out.Len
		e.cols = append(e.cols, out)
		e.aggs = append(e.aggs, state)
	}
	e.buf = make([]byte, offset)
	return e, nil
}

func zeroOf(t common.ColType) common.Value {
	switch t {
	case common.TypeInt:
		return common.NewIntValue(0)
	case common.TypeBigint:
		return common.NewBigintValue(0)
	case common.TypeFloat:
		return common.NewFloatValue(0)
	}
	panic("SUM over non-numeric type")
}

func (e *AggregateExecutor) Init() error {
	e.err = nil
	e.done = false
	for i := range e.aggs {
		state := &e.aggs[i]
		state.count = 0
		switch state.clause.Type {
		case planner.AggSum:
			state.value = zeroOf(state.col.Type)
		default:
			state.value = common.Value{}
		}
	}
	return e.child.Init()
}

func (e *AggregateExecutor) accumulate(rec []byte) error {
	for i := range e.aggs {
		state := &e.aggs[i]
		switch state.clause.Type {
		case planner.AggCountAll, planner.AggCount:
			// There are no NULLs in this engine, so COUNT(col) equals
			// the row count.
			state.count++
			continue
		}

		val := common.ReadValue(state.col.Type, rec[state.col.Offset:], state.col.Len)
		switch state.clause.Type {
		case planner.AggSum:
			sum, err := state.value.Add(val)
			if err != nil {
				return err
			}
			state.value = sum
		case planner.AggMin:
			if state.count == 0 {
				state.value = val
			} else if cmp, err := val.Compare(state.value); err != nil {
				return err
			} else if cmp < 0 {
				state.value = val
			}
			state.count++
		case planner.AggMax:
			if state.count == 0 {
				state.value = val
			} else if cmp, err := val.Compare(state.value); err != nil {
				return err
			} else if cmp > 0 {
				state.value = val
			}
			state.count++
		}
	}
	return nil
}

func (e *AggregateExecutor) Next() bool {
	if e.err != nil || e.done {
		return false
	}
	for e.child.Next() {
		if err := e.accumulate(e.child.Current()); err != nil {
			e.err = err
			return false
		}
	}
	if err := e.child.Err(); err != nil {
		e.err = err
		return false
	}

	for i := range e.aggs {
		state := &e.aggs[i]
		out := e.cols[i]
		dst := e.buf[out.Offset : out.Offset+out.Len]
		switch state.clause.Type {
		case planner.AggCount, planner.AggCountAll:
			if err := common.NewIntValue(state.count).WriteTo(dst, out.Len); err != nil {
				e.err = err
				return false
			}
		case planner.AggMin:
			val := state.value
			if state.count == 0 {
				common.MaxValueBytes(dst, out.Type, out.Len)
				continue
			}
			if err := val.WriteTo(dst, out.Len); err != nil {
				e.err = err
				return false
			}
		case planner.AggMax:
			val := state.value
			if state.count == 0 {
				common.MinValueBytes(dst, out.Type, out.Len)
				continue
			}
			if err := val.WriteTo(dst, out.Len); err != nil {
				e.err = err
				return false
			}
		case planner.AggSum:
			if err := state.value.WriteTo(dst, out.Len); err != nil {
				e.err = err
				return false
			}
		}
	}
	e.done = true
	return true
}

func (e *AggregateExecutor) Current() []byte {
	return e.buf
}

func (e *AggregateExecutor) Columns() []catalog.ColMeta {
	return e.cols
}

func (e *AggregateExecutor) TupleLen() int {
	return len(e.buf)
}

func (e *AggregateExecutor) Rid() common.Rid {
	return common.Rid{PageNo: -1, SlotNo: -1}
}

func (e *AggregateExecutor) Err() error {
	return e.err
}

func (e *AggregateExecutor) Close() error {
	return e.child.Close()
}
