package execution

import (
	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/indexing"
	"github.com/ZeitHaum/rmdb/planner"
)

// condPartition splits the fed conditions of an index scan into the
// equality prefix over the index columns, at most one range column
// with its bounds, and the residual predicates evaluated per record.
type condPartition struct {
	eqVals []common.Value // one per equality-prefix column
	// range bounds on column eqN (nil when absent)
	lowerVal *common.Value
	lowerInc bool
	upperVal *common.Value
	upperInc bool

	residual []planner.Condition
}

// partitionConds implements the range construction rules: the longest
// `=` prefix pins both bounds, one following column may contribute up
// to two inequality bounds, everything else (including every `<>`)
// stays residual.
func partitionConds(idx *catalog.IndexMeta, conds []planner.Condition) condPartition {
	var p condPartition
	used := make([]bool, len(conds))

	findEq := func(col *catalog.ColMeta) int {
		for i := range conds {
			if used[i] || !conds[i].IsRhsVal || conds[i].Op != planner.OpEq {
				continue
			}
			if conds[i].LhsCol.ColName == col.Name && conds[i].LhsCol.TabName == col.TabName {
				return i
			}
		}
		return -1
	}

	eqN := 0
	for c := range idx.Cols {
		i := findEq(&idx.Cols[c])
		if i == -1 {
			break
		}
		used[i] = true
		p.eqVals = append(p.eqVals, conds[i].RhsVal)
		eqN++
	}

	if eqN < len(idx.Cols) {
		rangeCol := &idx.Cols[eqN]
		for i := range conds {
			if used[i] || !conds[i].IsRhsVal {
				continue
			}
			if conds[i].LhsCol.ColName != rangeCol.Name || conds[i].LhsCol.TabName != rangeCol.TabName {
				continue
			}
			val := conds[i].RhsVal
			switch conds[i].Op {
			case planner.OpGt:
				if p.lowerVal == nil {
					p.lowerVal, p.lowerInc = &val, false
					used[i] = true
				}
			case planner.OpGe:
				if p.lowerVal == nil {
					p.lowerVal, p.lowerInc = &val, true
					used[i] = true
				}
			case planner.OpLt:
				if p.upperVal == nil {
					p.upperVal, p.upperInc = &val, false
					used[i] = true
				}
			case planner.OpLe:
				if p.upperVal == nil {
					p.upperVal, p.upperInc = &val, true
					used[i] = true
				}
			}
		}
	}

	for i := range conds {
		if !used[i] {
			p.residual = append(p.residual, conds[i])
		}
	}
	return p
}

// writeKeyCol serializes one bound value into the key at the column's
// position.
func writeKeyCol(key []byte, schema *indexing.KeySchema, i int, idx *catalog.IndexMeta, val common.Value) error {
	buf, err := condValueBytes(&idx.Cols[i], val)
	if err != nil {
		return err
	}
	copy(key[schema.ColOffset(i):], buf)
	return nil
}

// scanBounds materializes the partition into a half-open Iid interval.
func scanBounds(tree *indexing.BPlusTree, idx *catalog.IndexMeta, p condPartition) (common.Iid, common.Iid, error) {
	schema := tree.KeySchema()
	minKey := make([]byte, schema.TotLen)
	maxKey := make([]byte, schema.TotLen)

	eqN := len(p.eqVals)
	for i, val := range p.eqVals {
		if err := writeKeyCol(minKey, schema, i, idx, val); err != nil {
			return common.Iid{}, common.Iid{}, err
		}
		if err := writeKeyCol(maxKey, schema, i, idx, val); err != nil {
			return common.Iid{}, common.Iid{}, err
		}
	}

	// Lower bound: an inclusive bound starts at the first key >= the
	// prefix padded with minimums; an exclusive one starts past the
	// prefix padded with maximums.
	lowerStrict := false
	if p.lowerVal != nil {
		if err := writeKeyCol(minKey, schema, eqN, idx, *p.lowerVal); err != nil {
			return common.Iid{}, common.Iid{}, err
		}
		if p.lowerInc {
			schema.FillMin(minKey, eqN+1)
		} else {
			schema.FillMax(minKey, eqN+1)
			lowerStrict = true
		}
	} else {
		schema.FillMin(minKey, eqN)
	}

	upperStrict := false
	if p.upperVal != nil {
		if err := writeKeyCol(maxKey, schema, eqN, idx, *p.upperVal); err != nil {
			return common.Iid{}, common.Iid{}, err
		}
		if p.upperInc {
			schema.FillMax(maxKey, eqN+1)
		} else {
			schema.FillMin(maxKey, eqN+1)
			upperStrict = true
		}
	} else {
		schema.FillMax(maxKey, eqN)
	}

	var lower, upper common.Iid
	var err error
	if lowerStrict {
		lower, err = tree.UpperBoundIid(minKey)
	} else {
		lower, err = tree.LowerBoundIid(minKey)
	}
	if err != nil {
		return common.Iid{}, common.Iid{}, err
	}
	if upperStrict {
		upper, err = tree.LowerBoundIid(maxKey)
	} else {
		upper, err = tree.UpperBoundIid(maxKey)
	}
	if err != nil {
		return common.Iid{}, common.Iid{}, err
	}
	return lower, upper, nil
}

// IndexScanExecutor drives an IxScan over the bounds derived from the
// fed conditions, fetching candidate records from the heap and
// applying the residual predicates. When the equality prefix covers
// every index column a single point read replaces the scan.
type IndexScanExecutor struct {
	ctx  *ExecContext
	heap *TableHeap
	idx  *catalog.IndexMeta
	tree *indexing.BPlusTree

	conds []planner.Condition
	part  condPartition

	scan    *indexing.IxScan
	hotKey  []byte // non-nil selects the single-read hot path
	hotDone bool

	cur []byte
	rid common.Rid
	err error
}

// NewIndexScanExecutor builds an index scan using the plan's chosen
// index columns.
func NewIndexScanExecutor(ctx *ExecContext, plan *planner.ScanPlan) (*IndexScanExecutor, error) {
	heap, err := ctx.Tables.GetTable(plan.Table)
	if err != nil {
		return nil, err
	}
	idx := heap.Meta().FindIndex(plan.IndexCols)
	if idx == nil {
		return nil, common.NewError(common.IndexNotFound, "no index on '%s' over the chosen columns", plan.Table)
	}
	tree, err := ctx.Tables.IndexManager().GetIndex(idx)
	if err != nil {
		return nil, err
	}
	e := &IndexScanExecutor{
		ctx:   ctx,
		heap:  heap,
		idx:   idx,
		tree:  tree,
		conds: plan.Conds,
	}
	e.part = partitionConds(idx, plan.Conds)
	if len(e.part.eqVals) == len(idx.Cols) {
		// Full-key equality: one read suffices.
		schema := tree.KeySchema()
		key := make([]byte, schema.TotLen)
		for i, val := range e.part.eqVals {
			if err := writeKeyCol(key, schema, i, idx, val); err != nil {
				return nil, err
			}
		}
		e.hotKey = key
	}
	return e, nil
}

func (e *IndexScanExecutor) Init() error {
	e.err = nil
	e.hotDone = false
	e.scan = nil
	if e.hotKey != nil {
		return nil
	}
	lower, upper, err := scanBounds(e.tree, e.idx, e.part)
	if err != nil {
		e.err = err
		return err
	}
	e.scan = e.tree.Scan(lower, upper)
	return nil
}

func (e *IndexScanExecutor) Next() bool {
	if e.err != nil {
		return false
	}
	if e.hotKey != nil {
		if e.hotDone {
			return false
		}
		e.hotDone = true
		rid, found, err := e.tree.Get(e.hotKey, e.ctx.Txn)
		if err != nil {
			e.err = err
			return false
		}
		if !found {
			return false
		}
		return e.emit(rid)
	}

	for e.scan.Next() {
		if e.emit(e.scan.Rid()) {
			return true
		}
		if e.err != nil {
			return false
		}
	}
	e.err = e.scan.Err()
	return false
}

// emit fetches the candidate record and applies the residual filter.
func (e *IndexScanExecutor) emit(rid common.Rid) bool {
	rec, err := e.heap.Get(e.ctx.Txn, rid)
	if err != nil {
		e.err = err
		return false
	}
	ok, err := EvalConds(e.Columns(), e.part.residual, rec)
	if err != nil {
		e.err = err
		return false
	}
	if !ok {
		return false
	}
	e.cur = rec
	e.rid = rid
	return true
}

func (e *IndexScanExecutor) Current() []byte {
	return e.cur
}

func (e *IndexScanExecutor) Columns() []catalog.ColMeta {
	return e.heap.Meta().Cols
}

func (e *IndexScanExecutor) TupleLen() int {
	return e.heap.RecordSize()
}

func (e *IndexScanExecutor) Rid() common.Rid {
	return e.rid
}

func (e *IndexScanExecutor) Err() error {
	return e.err
}

func (e *IndexScanExecutor) Close() error {
	return nil
}
