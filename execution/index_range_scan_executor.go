package execution

import (
	"encoding/binary"
	"math"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/indexing"
	"github.com/ZeitHaum/rmdb/planner"
)

// IndexRangeScanExecutor accelerates predicates where the leading
// index column is a dense integer primary key ranging freely while the
// later columns carry equality or range predicates. It walks the
// distinct leading values one by one (successor lookups via the upper
// bound) and issues a sub-range scan over the remaining columns for
// each value, skipping the dead space a plain range scan would visit.
type IndexRangeScanExecutor struct {
	ctx  *ExecContext
	heap *TableHeap
	idx  *catalog.IndexMeta
	tree *indexing.BPlusTree

	conds []planner.Condition
	// tail is the partition of the conditions over idx.Cols[1:].
	tail condPartition
	// leading bounds on the integer column.
	leadLower int64
	leadUpper int64

	curLead int64
	scan    *indexing.IxScan
	done    bool

	cur []byte
	rid common.Rid
	err error
}

// NewIndexRangeScanExecutor builds the compaction scan. The chosen
// index must lead with an INT or BIGINT column.
func NewIndexRangeScanExecutor(ctx *ExecContext, plan *planner.ScanPlan) (*IndexRangeScanExecutor, error) {
	heap, err := ctx.Tables.GetTable(plan.Table)
	if err != nil {
		return nil, err
	}
	idx := heap.Meta().FindIndex(plan.IndexCols)
	if idx == nil {
		return nil, common.NewError(common.IndexNotFound, "no index on '%s' over the chosen columns", plan.Table)
	}
	if idx.Cols[0].Type != common.TypeInt && idx.Cols[0].Type != common.TypeBigint {
		return nil, common.NewError(common.InternalError, "index range scan requires an integer leading column")
	}
	tree, err := ctx.Tables.IndexManager().GetIndex(idx)
	if err != nil {
		return nil, err
	}

	e := &IndexRangeScanExecutor{
		ctx:   ctx,
		heap:  heap,
		idx:   idx,
		tree:  tree,
		conds: plan.Conds,
	}

	// Partition the conditions of the later columns by pretending the
	// index starts at column 1.
	tailIdx := &catalog.IndexMeta{TabName: idx.TabName, Cols: idx.Cols[1:]}
	tailConds := make([]planner.Condition, 0, len(plan.Conds))
	e.leadLower, e.leadUpper = math.MinInt64, math.MaxInt64
	lead := &idx.Cols[0]
	for _, cond := range plan.Conds {
		if cond.IsRhsVal && cond.LhsCol.ColName == lead.Name && cond.LhsCol.TabName == lead.TabName {
			v, ok := condIntValue(cond.RhsVal)
			if ok {
				switch cond.Op {
				case planner.OpEq:
					if v > e.leadLower {
						e.leadLower = v
					}
					if v < e.leadUpper {
						e.leadUpper = v
					}
					continue
				case planner.OpGe:
					if v > e.leadLower {
						e.leadLower = v
					}
					continue
				case planner.OpGt:
					if v+1 > e.leadLower {
						e.leadLower = v + 1
					}
					continue
				case planner.OpLe:
					if v < e.leadUpper {
						e.leadUpper = v
					}
					continue
				case planner.OpLt:
					if v-1 < e.leadUpper {
						e.leadUpper = v - 1
					}
					continue
				}
			}
		}
		tailConds = append(tailConds, cond)
	}
	e.tail = partitionConds(tailIdx, tailConds)
	return e, nil
}

func condIntValue(val common.Value) (int64, bool) {
	switch val.Type {
	case common.TypeInt:
		return int64(val.IntValue()), true
	case common.TypeBigint:
		return val.BigintValue(), true
	}
	return 0, false
}

func (e *IndexRangeScanExecutor) leadValue(v int64) common.Value {
	if e.idx.Cols[0].Type == common.TypeInt {
		return common.NewIntValue(int32(v))
	}
	return common.NewBigintValue(v)
}

func (e *IndexRangeScanExecutor) Init() error {
	e.err = nil
	e.done = false
	e.scan = nil

	first, err := e.tree.FirstIndexKey()
	if err != nil {
		e.err = err
		return err
	}
	last, err := e.tree.LastIndexKey()
	if err != nil {
		e.err = err
		return err
	}
	if first > last {
		e.done = true
		return nil
	}
	if e.leadLower > first {
		first = e.leadLower
	}
	if e.leadUpper < last {
		e.done = e.leadUpper < first
	}
	e.curLead = first
	if !e.done {
		return e.openSubScan()
	}
	return nil
}

// openSubScan positions a range scan over (curLead, tail bounds).
func (e *IndexRangeScanExecutor) openSubScan() error {
	part := condPartition{
		eqVals:   append([]common.Value{e.leadValue(e.curLead)}, e.tail.eqVals...),
		lowerVal: e.tail.lowerVal,
		lowerInc: e.tail.lowerInc,
		upperVal: e.tail.upperVal,
		upperInc: e.tail.upperInc,
	}
	lower, upper, err := scanBounds(e.tree, e.idx, part)
	if err != nil {
		e.err = err
		return err
	}
	e.scan = e.tree.Scan(lower, upper)
	return nil
}

// advanceLead jumps to the next distinct leading value via an upper
// bound past (curLead, +inf...).
func (e *IndexRangeScanExecutor) advanceLead() bool {
	schema := e.tree.KeySchema()
	probe := make([]byte, schema.TotLen)
	buf, err := condValueBytes(&e.idx.Cols[0], e.leadValue(e.curLead))
	if err != nil {
		e.err = err
		return false
	}
	copy(probe, buf)
	schema.FillMax(probe, 1)

	iid, err := e.tree.UpperBoundIid(probe)
	if err != nil {
		e.err = err
		return false
	}
	end, err := e.tree.EndIid()
	if err != nil {
		e.err = err
		return false
	}
	if iid == end {
		return false
	}
	peek := e.tree.Scan(iid, end)
	if !peek.Next() {
		e.err = peek.Err()
		return false
	}
	next := leadingInt(peek.Key(), e.idx.Cols[0].Type)
	if next > e.leadUpper {
		return false
	}
	e.curLead = next
	return true
}

func leadingInt(key []byte, t common.ColType) int64 {
	if t == common.TypeInt {
		return int64(int32(binary.LittleEndian.Uint32(key)))
	}
	return int64(binary.LittleEndian.Uint64(key))
}

func (e *IndexRangeScanExecutor) Next() bool {
	if e.err != nil || e.done {
		return false
	}
	for {
		for e.scan.Next() {
			rec, err := e.heap.Get(e.ctx.Txn, e.scan.Rid())
			if err != nil {
				e.err = err
				return false
			}
			ok, err := EvalConds(e.Columns(), e.conds, rec)
			if err != nil {
				e.err = err
				return false
			}
			if ok {
				e.cur = rec
				e.rid = e.scan.Rid()
				return true
			}
		}
		if e.scan.Err() != nil {
			e.err = e.scan.Err()
			return false
		}
		if !e.advanceLead() {
			e.done = true
			return false
		}
		if err := e.openSubScan(); err != nil {
			return false
		}
	}
}

func (e *IndexRangeScanExecutor) Current() []byte {
	return e.cur
}

func (e *IndexRangeScanExecutor) Columns() []catalog.ColMeta {
	return e.heap.Meta().Cols
}

func (e *IndexRangeScanExecutor) TupleLen() int {
	return e.heap.RecordSize()
}

func (e *IndexRangeScanExecutor) Rid() common.Rid {
	return e.rid
}

func (e *IndexRangeScanExecutor) Err() error {
	return e.err
}

func (e *IndexRangeScanExecutor) Close() error {
	return nil
}
