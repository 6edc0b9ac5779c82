package execution

import (
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
)

// BuildExecutor composes the operator tree for a physical plan.
func BuildExecutor(ctx *ExecContext, plan planner.Plan) (Executor, error) {
	switch p := plan.(type) {
	case *planner.ScanPlan:
		switch p.Kind {
		case planner.ScanSeq:
			return NewSeqScanExecutor(ctx, p)
		case planner.ScanIndex:
			return NewIndexScanExecutor(ctx, p)
		case planner.ScanIndexRange:
			return NewIndexRangeScanExecutor(ctx, p)
		}
	case *planner.JoinPlan:
		left, err := BuildExecutor(ctx, p.Left)
		if err != nil {
			return nil, err
		}
		right, err := BuildExecutor(ctx, p.Right)
		if err != nil {
			return nil, err
		}
		switch p.Kind {
		case planner.JoinNestedLoop:
			return NewNestedLoopJoinExecutor(left, right, p.Conds), nil
		case planner.JoinBlockNestedLoop:
			return NewBlockNestedLoopJoinExecutor(left, right, p.Conds, 0), nil
		case planner.JoinHash:
			return NewHashJoinExecutor(left, right, p.Conds)
		}
	case *planner.SortPlan:
		child, err := BuildExecutor(ctx, p.Child)
		if err != nil {
			return nil, err
		}
		return NewSortExecutor(child, p.OrderBy, p.Limit)
	case *planner.ProjectionPlan:
		child, err := BuildExecutor(ctx, p.Child)
		if err != nil {
			return nil, err
		}
		proj, err := NewProjectionExecutor(child, p.Cols)
		if err != nil {
			return nil, err
		}
		if proj.IsIdentityPrefix() {
			return NewProjectionNocopyExecutor(child, p.Cols)
		}
		return proj, nil
	case *planner.AggPlan:
		child, err := BuildExecutor(ctx, p.Child)
		if err != nil {
			return nil, err
		}
		return NewAggregateExecutor(child, p.Aggs)
	case *planner.InsertPlan:
		return NewInsertExecutor(ctx, p)
	case *planner.DeletePlan:
		child, err := BuildExecutor(ctx, p.Child)
		if err != nil {
			return nil, err
		}
		return NewDeletionExecutor(ctx, p.Table, child)
	case *planner.UpdatePlan:
		child, err := BuildExecutor(ctx, p.Child)
		if err != nil {
			return nil, err
		}
		return NewUpdateExecutor(ctx, p.Table, p.SetClauses, child)
	case *planner.SelectPlan:
		return BuildExecutor(ctx, p.Child)
	case *planner.LoadPlan:
		return NewLoadExecutor(ctx, p)
	}
	return nil, common.NewError(common.InternalError, "unknown plan node %T", plan)
}
