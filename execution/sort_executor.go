package execution

import (
	"sort"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
)

// SortExecutor materializes the child, stable-sorts by the ordered
// (column, direction) list and yields tuples in order. A non-negative
// limit truncates the output; the planner.NoLimit sentinel keeps all
// rows.
type SortExecutor struct {
	child   Executor
	orderBy []planner.OrderByCol
	limit   int

	sortCols []catalog.ColMeta
	tuples   [][]byte
	cursor   int
	err      error
}

// NewSortExecutor resolves the ordering columns against the child
// layout.
func NewSortExecutor(child Executor, orderBy []planner.OrderByCol, limit int) (*SortExecutor, error) {
	e := &SortExecutor{child: child, orderBy: orderBy, limit: limit}
	for _, order := range orderBy {
		col, err := findColumn(child.Columns(), order.Col)
		if err != nil {
			return nil, err
		}
		e.sortCols = append(e.sortCols, *col)
	}
	return e, nil
}

func (e *SortExecutor) Init() error {
	e.err = nil
	e.tuples = nil
	e.cursor = -1
	return e.child.Init()
}

func (e *SortExecutor) materialize() bool {
	e.tuples = make([][]byte, 0, 64)
	for e.child.Next() {
		rec := make([]byte, e.child.TupleLen())
		copy(rec, e.child.Current())
		e.tuples = append(e.tuples, rec)
	}
	if err := e.child.Err(); err != nil {
		e.err = err
		return false
	}

	sort.SliceStable(e.tuples, func(i, j int) bool {
		a, b := e.tuples[i], e.tuples[j]
		for k, col := range e.sortCols {
			cmp := common.CompareBytes(a[col.Offset:], b[col.Offset:], col.Type, col.Len)
			if cmp == 0 {
				continue
			}
			if e.orderBy[k].Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})

	if e.limit >= 0 && e.limit < len(e.tuples) {
		e.tuples = e.tuples[:e.limit]
	}
	return true
}

func (e *SortExecutor) Next() bool {
	if e.err != nil {
		return false
	}
	if e.tuples == nil {
		if !e.materialize() {
			return false
		}
	}
	e.cursor++
	return e.cursor < len(e.tuples)
}

func (e *SortExecutor) Current() []byte {
	return e.tuples[e.cursor]
}

func (e *SortExecutor) Columns() []catalog.ColMeta {
	return e.child.Columns()
}

func (e *SortExecutor) TupleLen() int {
	return e.child.TupleLen()
}

func (e *SortExecutor) Rid() common.Rid {
	return common.Rid{PageNo: -1, SlotNo: -1}
}

func (e *SortExecutor) Err() error {
	return e.err
}

func (e *SortExecutor) Close() error {
	e.tuples = nil
	return e.child.Close()
}
