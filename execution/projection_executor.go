package execution

import (
	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
)

// ProjectionExecutor copies the selected byte ranges of each child
// tuple into a fresh output buffer in declared output order.
type ProjectionExecutor struct {
	child Executor

	cols    []catalog.ColMeta
	selIdxs []int // output column -> child column position
	buf     []byte
	err     error
}

// NewProjectionExecutor precomputes the output layout and the child
// column mapping.
func NewProjectionExecutor(child Executor, outCols []planner.TabCol) (*ProjectionExecutor, error) {
	e := &ProjectionExecutor{child: child}
	childCols := child.Columns()
	offset := 0
	for _, target := range outCols {
		src, err := findColumn(childCols, target)
		if err != nil {
			return nil, err
		}
		for i := range childCols {
			if &childCols[i] == src {
				e.selIdxs = append(e.selIdxs, i)
				break
			}
		}
		out := *src
		out.Offset = offset
		offset += out.Len
		e.cols = append(e.cols, out)
	}
	e.buf = make([]byte, offset)
	return e, nil
}

// IsIdentityPrefix reports whether the projection selects a prefix of
// the child layout unchanged, enabling the no-copy variant.
func (e *ProjectionExecutor) IsIdentityPrefix() bool {
	childCols := e.child.Columns()
	for i, sel := range e.selIdxs {
		if sel != i {
			return false
		}
		if e.cols[i].Offset != childCols[sel].Offset {
			return false
		}
	}
	return true
}

func (e *ProjectionExecutor) Init() error {
	e.err = nil
	return e.child.Init()
}

func (e *ProjectionExecutor) Next() bool {
	if !e.child.Next() {
		e.err = e.child.Err()
		return false
	}
	childCols := e.child.Columns()
	rec := e.child.Current()
	for i, sel := range e.selIdxs {
		src := childCols[sel]
		copy(e.buf[e.cols[i].Offset:e.cols[i].Offset+e.cols[i].Len], rec[src.Offset:src.Offset+src.Len])
	}
	return true
}

func (e *ProjectionExecutor) Current() []byte {
	return e.buf
}

func (e *ProjectionExecutor) Columns() []catalog.ColMeta {
	return e.cols
}

func (e *ProjectionExecutor) TupleLen() int {
	return len(e.buf)
}

func (e *ProjectionExecutor) Rid() common.Rid {
	return e.child.Rid()
}

func (e *ProjectionExecutor) Err() error {
	return e.err
}

func (e *ProjectionExecutor) Close() error {
	return e.child.Close()
}

// ProjectionNocopyExecutor is the identity-prefix special case: it
// forwards the child's buffers untouched, narrowing only the declared
// layout.
type ProjectionNocopyExecutor struct {
	child Executor
	cols  []catalog.ColMeta
	width int
}

// NewProjectionNocopyExecutor narrows the child to its first len(cols)
// columns without copying.
func NewProjectionNocopyExecutor(child Executor, outCols []planner.TabCol) (*ProjectionNocopyExecutor, error) {
	childCols := child.Columns()
	common.Assert(len(outCols) <= len(childCols), "no-copy projection cannot widen its child")
	e := &ProjectionNocopyExecutor{child: child}
	for i := range outCols {
		col := childCols[i]
		common.Assert(col.Name == outCols[i].ColName, "no-copy projection requires an identity prefix")
		e.cols = append(e.cols, col)
		e.width += col.Len
	}
	return e, nil
}

func (e *ProjectionNocopyExecutor) Init() error {
	return e.child.Init()
}

func (e *ProjectionNocopyExecutor) Next() bool {
	return e.child.Next()
}

func (e *ProjectionNocopyExecutor) Current() []byte {
	return e.child.Current()
}

func (e *ProjectionNocopyExecutor) Columns() []catalog.ColMeta {
	return e.cols
}

func (e *ProjectionNocopyExecutor) TupleLen() int {
	return e.width
}

func (e *ProjectionNocopyExecutor) Rid() common.Rid {
	return e.child.Rid()
}

func (e *ProjectionNocopyExecutor) Err() error {
	return e.child.Err()
}

func (e *ProjectionNocopyExecutor) Close() error {
	return e.child.Close()
}
