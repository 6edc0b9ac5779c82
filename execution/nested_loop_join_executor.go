package execution

import (
	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
)

// NestedLoopJoinExecutor joins by rescanning the inner child for every
// outer tuple, concatenating matches and applying the join conditions
// over the merged layout.
type NestedLoopJoinExecutor struct {
	outer, inner Executor
	conds        []planner.Condition

	cols       []catalog.ColMeta
	outerWidth int
	buf        []byte
	haveOuter  bool
	err        error
}

// NewNestedLoopJoinExecutor builds the join; the merged layout is the
// outer columns followed by the inner columns.
func NewNestedLoopJoinExecutor(outer, inner Executor, conds []planner.Condition) *NestedLoopJoinExecutor {
	e := &NestedLoopJoinExecutor{outer: outer, inner: inner, conds: conds}
	e.outerWidth = outer.TupleLen()
	e.cols = append(e.cols, outer.Columns()...)
	e.cols = append(e.cols, shiftColumns(inner.Columns(), e.outerWidth)...)
	e.buf = make([]byte, e.outerWidth+inner.TupleLen())
	return e
}

func (e *NestedLoopJoinExecutor) Init() error {
	e.err = nil
	e.haveOuter = false
	if err := e.outer.Init(); err != nil {
		return err
	}
	return e.inner.Init()
}

func (e *NestedLoopJoinExecutor) Next() bool {
	if e.err != nil {
		return false
	}
	for {
		if !e.haveOuter {
			if !e.outer.Next() {
				e.err = e.outer.Err()
				return false
			}
			copy(e.buf[:e.outerWidth], e.outer.Current())
			e.haveOuter = true
			if err := e.inner.Init(); err != nil {
				e.err = err
				return false
			}
		}
		for e.inner.Next() {
			copy(e.buf[e.outerWidth:], e.inner.Current())
			ok, err := EvalConds(e.cols, e.conds, e.buf)
			if err != nil {
				e.err = err
				return false
			}
			if ok {
				return true
			}
		}
		if e.inner.Err() != nil {
			e.err = e.inner.Err()
			return false
		}
		e.haveOuter = false
	}
}

func (e *NestedLoopJoinExecutor) Current() []byte {
	return e.buf
}

func (e *NestedLoopJoinExecutor) Columns() []catalog.ColMeta {
	return e.cols
}

func (e *NestedLoopJoinExecutor) TupleLen() int {
	return len(e.buf)
}

func (e *NestedLoopJoinExecutor) Rid() common.Rid {
	return common.Rid{PageNo: -1, SlotNo: -1}
}

func (e *NestedLoopJoinExecutor) Err() error {
	return e.err
}

func (e *NestedLoopJoinExecutor) Close() error {
	err1 := e.outer.Close()
	err2 := e.inner.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
