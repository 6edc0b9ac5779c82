package execution

import (
	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
)

// BlockNestedLoopJoinExecutor buffers a fixed number of bytes of outer
// tuples, then streams the inner child once per block, probing every
// buffered outer tuple against each inner tuple. This bounds how often
// the inner side is rescanned to one pass per outer block.
type BlockNestedLoopJoinExecutor struct {
	outer, inner Executor
	conds        []planner.Condition

	cols       []catalog.ColMeta
	outerWidth int
	buf        []byte

	block       []byte
	blockTuples int
	blockCursor int
	outerDone   bool
	haveInner   bool
	err         error
}

// NewBlockNestedLoopJoinExecutor builds the join with the given outer
// block size in bytes (0 selects the default).
func NewBlockNestedLoopJoinExecutor(outer, inner Executor, conds []planner.Condition, blockBytes int) *BlockNestedLoopJoinExecutor {
	if blockBytes <= 0 {
		blockBytes = common.JoinBufferSize
	}
	e := &BlockNestedLoopJoinExecutor{outer: outer, inner: inner, conds: conds}
	e.outerWidth = outer.TupleLen()
	e.cols = append(e.cols, outer.Columns()...)
	e.cols = append(e.cols, shiftColumns(inner.Columns(), e.outerWidth)...)
	e.buf = make([]byte, e.outerWidth+inner.TupleLen())

	capacity := blockBytes / e.outerWidth
	if capacity < 1 {
		capacity = 1
	}
	e.block = make([]byte, capacity*e.outerWidth)
	return e
}

func (e *BlockNestedLoopJoinExecutor) Init() error {
	e.err = nil
	e.blockTuples = 0
	e.blockCursor = 0
	e.outerDone = false
	e.haveInner = false
	return e.outer.Init()
}

// refillBlock loads the next batch of outer tuples and restarts the
// inner child. Returns false when the outer side is exhausted.
func (e *BlockNestedLoopJoinExecutor) refillBlock() bool {
	e.blockTuples = 0
	capacity := len(e.block) / e.outerWidth
	for e.blockTuples < capacity {
		if !e.outer.Next() {
			if e.outer.Err() != nil {
				e.err = e.outer.Err()
				return false
			}
			e.outerDone = true
			break
		}
		copy(e.block[e.blockTuples*e.outerWidth:], e.outer.Current())
		e.blockTuples++
	}
	if e.blockTuples == 0 {
		return false
	}
	if err := e.inner.Init(); err != nil {
		e.err = err
		return false
	}
	e.haveInner = false
	e.blockCursor = 0
	return true
}

func (e *BlockNestedLoopJoinExecutor) Next() bool {
	if e.err != nil {
		return false
	}
	for {
		if e.blockTuples == 0 {
			if e.outerDone || !e.refillBlock() {
				return false
			}
		}
		for {
			if !e.haveInner {
				if !e.inner.Next() {
					if e.inner.Err() != nil {
						e.err = e.inner.Err()
						return false
					}
					// Inner exhausted for this block.
					e.blockTuples = 0
					break
				}
				copy(e.buf[e.outerWidth:], e.inner.Current())
				e.haveInner = true
				e.blockCursor = 0
			}
			for e.blockCursor < e.blockTuples {
				i := e.blockCursor
				e.blockCursor++
				copy(e.buf[:e.outerWidth], e.block[i*e.outerWidth:(i+1)*e.outerWidth])
				ok, err := EvalConds(e.cols, e.conds, e.buf)
				if err != nil {
					e.err = err
					return false
				}
				if ok {
					return true
				}
			}
			e.haveInner = false
		}
	}
}

func (e *BlockNestedLoopJoinExecutor) Current() []byte {
	return e.buf
}

func (e *BlockNestedLoopJoinExecutor) Columns() []catalog.ColMeta {
	return e.cols
}

func (e *BlockNestedLoopJoinExecutor) TupleLen() int {
	return len(e.buf)
}

func (e *BlockNestedLoopJoinExecutor) Rid() common.Rid {
	return common.Rid{PageNo: -1, SlotNo: -1}
}

func (e *BlockNestedLoopJoinExecutor) Err() error {
	return e.err
}

func (e *BlockNestedLoopJoinExecutor) Close() error {
	err1 := e.outer.Close()
	err2 := e.inner.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
