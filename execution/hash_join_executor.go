package execution

import (
	"bytes"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
)

// HashJoinExecutor joins on the equality conditions: it exhausts the
// build child into a multimap bucketed by the hash of the serialized
// join columns, then streams the probe child against it, verifying
// candidate entries by key-byte equality (hash buckets may collide).
// The build side is whichever child holds the left-hand columns of the
// join equalities; output order is build insertion order within probe
// order, and the output layout stays outer-then-inner regardless of
// build side. Residual conditions filter each merged pair.
type HashJoinExecutor struct {
	outer, inner Executor
	eqConds      []planner.Condition
	residual     []planner.Condition

	cols       []catalog.ColMeta
	outerWidth int
	buf        []byte

	buildIsOuter bool
	buildKeyCols []catalog.ColMeta
	probeKeyCols []catalog.ColMeta

	table    map[uint64][]hashJoinEntry
	matches  []hashJoinEntry
	matchIx  int
	probeKey []byte
	err      error
}

// hashJoinEntry is one build-side row together with its serialized
// join key, kept for equality verification on probe.
type hashJoinEntry struct {
	key []byte
	rec []byte
}

// NewHashJoinExecutor builds a hash join; at least one condition must
// be a join equality.
func NewHashJoinExecutor(outer, inner Executor, conds []planner.Condition) (*HashJoinExecutor, error) {
	e := &HashJoinExecutor{outer: outer, inner: inner}
	e.outerWidth = outer.TupleLen()
	e.cols = append(e.cols, outer.Columns()...)
	e.cols = append(e.cols, shiftColumns(inner.Columns(), e.outerWidth)...)
	e.buf = make([]byte, e.outerWidth+inner.TupleLen())

	for _, cond := range conds {
		if cond.IsJoinEq() {
			e.eqConds = append(e.eqConds, cond)
		} else {
			e.residual = append(e.residual, cond)
		}
	}
	if len(e.eqConds) == 0 {
		return nil, common.NewError(common.InternalError, "hash join requires a join equality condition")
	}

	// The child holding the equalities' left-hand columns becomes the
	// build side.
	outerCols := outer.Columns()
	_, err := findColumn(outerCols, e.eqConds[0].LhsCol)
	e.buildIsOuter = err == nil

	for _, cond := range e.eqConds {
		lhs, rhs := cond.LhsCol, cond.RhsCol
		if !e.buildIsOuter {
			lhs, rhs = rhs, lhs
		}
		buildCol, err := findColumn(e.buildSide().Columns(), lhs)
		if err != nil {
			return nil, err
		}
		probeCol, err := findColumn(e.probeSide().Columns(), rhs)
		if err != nil {
			return nil, err
		}
		if buildCol.Type != probeCol.Type {
			return nil, common.NewError(common.IncompatibleType,
				"join columns '%s' and '%s' have different types", buildCol.Name, probeCol.Name)
		}
		e.buildKeyCols = append(e.buildKeyCols, *buildCol)
		e.probeKeyCols = append(e.probeKeyCols, *probeCol)
	}
	return e, nil
}

func (e *HashJoinExecutor) buildSide() Executor {
	if e.buildIsOuter {
		return e.outer
	}
	return e.inner
}

func (e *HashJoinExecutor) probeSide() Executor {
	if e.buildIsOuter {
		return e.inner
	}
	return e.outer
}

// appendJoinKey serializes the join columns of rec onto dst.
func appendJoinKey(dst []byte, cols []catalog.ColMeta, rec []byte) []byte {
	for _, col := range cols {
		dst = append(dst, rec[col.Offset:col.Offset+col.Len]...)
	}
	return dst
}

func (e *HashJoinExecutor) Init() error {
	e.err = nil
	e.table = nil
	e.matches = nil
	e.matchIx = 0
	e.probeKey = e.probeKey[:0]
	if err := e.outer.Init(); err != nil {
		return err
	}
	return e.inner.Init()
}

// buildPhase exhausts the build child into the hash-bucketed multimap.
func (e *HashJoinExecutor) buildPhase() error {
	e.table = make(map[uint64][]hashJoinEntry)
	build := e.buildSide()
	for build.Next() {
		rec := make([]byte, build.TupleLen())
		copy(rec, build.Current())
		key := appendJoinKey(nil, e.buildKeyCols, rec)
		h := common.Hash(key)
		e.table[h] = append(e.table[h], hashJoinEntry{key: key, rec: rec})
	}
	return build.Err()
}

// merge lays the pair out as outer followed by inner.
func (e *HashJoinExecutor) merge(buildRec, probeRec []byte) {
	if e.buildIsOuter {
		copy(e.buf[:e.outerWidth], buildRec)
		copy(e.buf[e.outerWidth:], probeRec)
	} else {
		copy(e.buf[:e.outerWidth], probeRec)
		copy(e.buf[e.outerWidth:], buildRec)
	}
}

func (e *HashJoinExecutor) Next() bool {
	if e.err != nil {
		return false
	}
	if e.table == nil {
		if err := e.buildPhase(); err != nil {
			e.err = err
			return false
		}
	}
	probe := e.probeSide()
	for {
		for e.matchIx < len(e.matches) {
			entry := e.matches[e.matchIx]
			e.matchIx++
			// Skip bucket neighbors whose keys merely collided.
			if !bytes.Equal(entry.key, e.probeKey) {
				continue
			}
			e.merge(entry.rec, probe.Current())
			ok, err := EvalConds(e.cols, e.residual, e.buf)
			if err != nil {
				e.err = err
				return false
			}
			if ok {
				return true
			}
		}
		if !probe.Next() {
			e.err = probe.Err()
			return false
		}
		e.probeKey = appendJoinKey(e.probeKey[:0], e.probeKeyCols, probe.Current())
		e.matches = e.table[common.Hash(e.probeKey)]
		e.matchIx = 0
	}
}

func (e *HashJoinExecutor) Current() []byte {
	return e.buf
}

func (e *HashJoinExecutor) Columns() []catalog.ColMeta {
	return e.cols
}

func (e *HashJoinExecutor) TupleLen() int {
	return len(e.buf)
}

func (e *HashJoinExecutor) Rid() common.Rid {
	return common.Rid{PageNo: -1, SlotNo: -1}
}

func (e *HashJoinExecutor) Err() error {
	return e.err
}

func (e *HashJoinExecutor) Close() error {
	err1 := e.outer.Close()
	err2 := e.inner.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
