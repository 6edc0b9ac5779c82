package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
)

// The compaction scan shines when the leading column is a dense key
// and the later columns are selective: it must produce exactly what a
// filtered sequential scan produces.
func TestIndexRangeScanMatchesSeqScan(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "t2", []catalog.ColMeta{
		{Name: "a", Type: common.TypeInt, Len: 4},
		{Name: "b", Type: common.TypeInt, Len: 4},
	})
	require.NoError(t, env.tables.CreateIndex("t2", []string{"a", "b"}))
	ctx := NewExecContext(nil, env.tables)

	heap, err := env.tables.GetTable("t2")
	require.NoError(t, err)
	for a := int32(0); a < 30; a++ {
		for b := int32(0); b < 3; b++ {
			rec, err := serializeRow(heap.Meta(), []common.Value{
				common.NewIntValue(a),
				common.NewIntValue(b),
			})
			require.NoError(t, err)
			_, err = insertRow(ctx, heap, rec)
			require.NoError(t, err)
		}
	}

	conds := []planner.Condition{
		{LhsCol: planner.TabCol{TabName: "t2", ColName: "a"}, Op: planner.OpGe, IsRhsVal: true, RhsVal: common.NewIntValue(5)},
		{LhsCol: planner.TabCol{TabName: "t2", ColName: "a"}, Op: planner.OpLt, IsRhsVal: true, RhsVal: common.NewIntValue(25)},
		{LhsCol: planner.TabCol{TabName: "t2", ColName: "b"}, Op: planner.OpEq, IsRhsVal: true, RhsVal: common.NewIntValue(1)},
	}

	seq, err := NewSeqScanExecutor(ctx, &planner.ScanPlan{Kind: planner.ScanSeq, Table: "t2", Conds: conds})
	require.NoError(t, err)
	want := runQuery(t, seq)
	require.Len(t, want, 20)

	rangeScan, err := NewIndexRangeScanExecutor(ctx, &planner.ScanPlan{
		Kind:      planner.ScanIndexRange,
		Table:     "t2",
		IndexCols: []string{"a", "b"},
		Conds:     conds,
	})
	require.NoError(t, err)
	got := runQuery(t, rangeScan)

	assert.ElementsMatch(t, want, got)
	// The index delivers the rows ordered by the leading column.
	for i := 1; i < len(got); i++ {
		assert.Less(t,
			common.ReadValue(common.TypeInt, got[i-1], 4).IntValue(),
			common.ReadValue(common.TypeInt, got[i], 4).IntValue())
	}
}
