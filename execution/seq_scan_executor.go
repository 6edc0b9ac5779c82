package execution

import (
	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
)

// SeqScanExecutor walks the table heap in Rid order under a shared
// table lock, applying the fed conditions as a residual filter.
type SeqScanExecutor struct {
	ctx   *ExecContext
	heap  *TableHeap
	conds []planner.Condition

	scan *HeapScan
	err  error
}

// NewSeqScanExecutor builds a sequential scan over the plan's table.
func NewSeqScanExecutor(ctx *ExecContext, plan *planner.ScanPlan) (*SeqScanExecutor, error) {
	heap, err := ctx.Tables.GetTable(plan.Table)
	if err != nil {
		return nil, err
	}
	return &SeqScanExecutor{ctx: ctx, heap: heap, conds: plan.Conds}, nil
}

func (e *SeqScanExecutor) Init() error {
	e.err = nil
	e.scan, e.err = e.heap.Scan(e.ctx.Txn)
	return e.err
}

func (e *SeqScanExecutor) Next() bool {
	common.Assert(e.scan != nil, "SeqScanExecutor.Init must run before Next")
	for e.scan.Next() {
		ok, err := EvalConds(e.Columns(), e.conds, e.scan.Record())
		if err != nil {
			e.err = err
			return false
		}
		if ok {
			return true
		}
	}
	e.err = e.scan.Err()
	return false
}

func (e *SeqScanExecutor) Current() []byte {
	return e.scan.Record()
}

func (e *SeqScanExecutor) Columns() []catalog.ColMeta {
	return e.heap.Meta().Cols
}

func (e *SeqScanExecutor) TupleLen() int {
	return e.heap.RecordSize()
}

func (e *SeqScanExecutor) Rid() common.Rid {
	return e.scan.Rid()
}

func (e *SeqScanExecutor) Err() error {
	return e.err
}

func (e *SeqScanExecutor) Close() error {
	return nil
}
