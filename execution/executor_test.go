package execution

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/planner"
	"github.com/ZeitHaum/rmdb/transaction"
)

// setupTable creates t(a INT, b CHAR(4)) with a unique index on (a).
func setupTable(env *testEnv, t *testing.T) *TableHeap {
	heap := env.createTable(t, "t", intCharCols())
	require.NoError(t, env.tables.CreateIndex("t", []string{"a"}))
	return heap
}

func insertRowValues(t *testing.T, env *testEnv, ctx *ExecContext, a int32, b string) error {
	t.Helper()
	exec, err := NewInsertExecutor(ctx, &planner.InsertPlan{
		Table:  "t",
		Values: []common.Value{common.NewIntValue(a), common.NewStringValue(b)},
	})
	require.NoError(t, err)
	require.NoError(t, exec.Init())
	for exec.Next() {
	}
	return exec.Err()
}

func runQuery(t *testing.T, exec Executor) [][]byte {
	t.Helper()
	require.NoError(t, exec.Init())
	var rows [][]byte
	for exec.Next() {
		row := make([]byte, exec.TupleLen())
		copy(row, exec.Current())
		rows = append(rows, row)
	}
	require.NoError(t, exec.Err())
	return rows
}

func colA(row []byte) int32 {
	return common.ReadValue(common.TypeInt, row, 4).IntValue()
}

func colB(row []byte) string {
	return common.ReadValue(common.TypeString, row[4:], 4).StringValue()
}

func cond(col string, op planner.CompOp, val common.Value) planner.Condition {
	return planner.Condition{
		LhsCol:   planner.TabCol{TabName: "t", ColName: col},
		Op:       op,
		IsRhsVal: true,
		RhsVal:   val,
	}
}

func TestSelectWithFilterAndOrder(t *testing.T) {
	env := newTestEnv(t)
	setupTable(env, t)
	ctx := NewExecContext(nil, env.tables)

	require.NoError(t, insertRowValues(t, env, ctx, 3, "ef"))
	require.NoError(t, insertRowValues(t, env, ctx, 1, "ab"))
	require.NoError(t, insertRowValues(t, env, ctx, 2, "cd"))

	scan, err := NewSeqScanExecutor(ctx, &planner.ScanPlan{
		Kind:  planner.ScanSeq,
		Table: "t",
		Conds: []planner.Condition{cond("a", planner.OpGe, common.NewIntValue(2))},
	})
	require.NoError(t, err)
	sortExec, err := NewSortExecutor(scan, []planner.OrderByCol{
		{Col: planner.TabCol{TabName: "t", ColName: "a"}},
	}, planner.NoLimit)
	require.NoError(t, err)

	rows := runQuery(t, sortExec)
	require.Len(t, rows, 2)
	assert.Equal(t, int32(2), colA(rows[0]))
	assert.Equal(t, "cd", colB(rows[0]))
	assert.Equal(t, int32(3), colA(rows[1]))
	assert.Equal(t, "ef", colB(rows[1]))
}

func TestDuplicateInsertFails(t *testing.T) {
	env := newTestEnv(t)
	setupTable(env, t)
	ctx := NewExecContext(nil, env.tables)

	require.NoError(t, insertRowValues(t, env, ctx, 1, "ab"))
	err := insertRowValues(t, env, ctx, 1, "zz")
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.IndexInsertDuplicated))

	// The first row survives untouched.
	scan, err := NewSeqScanExecutor(ctx, &planner.ScanPlan{Kind: planner.ScanSeq, Table: "t"})
	require.NoError(t, err)
	rows := runQuery(t, scan)
	require.Len(t, rows, 1)
	assert.Equal(t, "ab", colB(rows[0]))
}

func TestIndexScanEqualityAndRange(t *testing.T) {
	env := newTestEnv(t)
	setupTable(env, t)
	ctx := NewExecContext(nil, env.tables)

	for i := int32(0); i < 50; i++ {
		require.NoError(t, insertRowValues(t, env, ctx, i, "xx"))
	}

	// Full-key equality takes the single-read hot path.
	eqScan, err := NewIndexScanExecutor(ctx, &planner.ScanPlan{
		Kind:      planner.ScanIndex,
		Table:     "t",
		IndexCols: []string{"a"},
		Conds:     []planner.Condition{cond("a", planner.OpEq, common.NewIntValue(7))},
	})
	require.NoError(t, err)
	rows := runQuery(t, eqScan)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(7), colA(rows[0]))

	// Range with both bounds.
	rangeScan, err := NewIndexScanExecutor(ctx, &planner.ScanPlan{
		Kind:      planner.ScanIndex,
		Table:     "t",
		IndexCols: []string{"a"},
		Conds: []planner.Condition{
			cond("a", planner.OpGt, common.NewIntValue(10)),
			cond("a", planner.OpLe, common.NewIntValue(14)),
		},
	})
	require.NoError(t, err)
	rows = runQuery(t, rangeScan)
	require.Len(t, rows, 4)
	assert.Equal(t, int32(11), colA(rows[0]))
	assert.Equal(t, int32(14), colA(rows[3]))
}

func TestUpdateAbortRestoresValue(t *testing.T) {
	env := newTestEnv(t)
	setupTable(env, t)
	setupCtx := NewExecContext(nil, env.tables)
	require.NoError(t, insertRowValues(t, env, setupCtx, 1, "ab"))
	require.NoError(t, insertRowValues(t, env, setupCtx, 2, "cd"))

	txn, err := env.txnMgr.Begin(nil)
	require.NoError(t, err)
	ctx := NewExecContext(txn, env.tables)

	child, err := NewSeqScanExecutor(ctx, &planner.ScanPlan{
		Kind:  planner.ScanSeq,
		Table: "t",
		Conds: []planner.Condition{cond("a", planner.OpEq, common.NewIntValue(2))},
	})
	require.NoError(t, err)
	update, err := NewUpdateExecutor(ctx, "t", []planner.SetClause{{
		Col: planner.TabCol{TabName: "t", ColName: "a"},
		Op:  planner.SetPlus,
		Val: common.NewIntValue(10),
	}}, child)
	require.NoError(t, err)
	require.NoError(t, update.Init())
	for update.Next() {
	}
	require.NoError(t, update.Err())
	assert.Equal(t, 1, update.Count())

	require.NoError(t, env.txnMgr.Abort(txn))

	// SELECT a FROM t WHERE a = 2 sees the original row again.
	checkCtx := NewExecContext(nil, env.tables)
	scan, err := NewSeqScanExecutor(checkCtx, &planner.ScanPlan{
		Kind:  planner.ScanSeq,
		Table: "t",
		Conds: []planner.Condition{cond("a", planner.OpEq, common.NewIntValue(2))},
	})
	require.NoError(t, err)
	rows := runQuery(t, scan)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(2), colA(rows[0]))
}

func TestNoWaitAbortsConflictingTransaction(t *testing.T) {
	env := newTestEnv(t)
	heap := setupTable(env, t)

	t1, err := env.txnMgr.Begin(nil)
	require.NoError(t, err)
	t2, err := env.txnMgr.Begin(nil)
	require.NoError(t, err)

	// T1 scans (table S); T2's whole-table delete requests X and must
	// abort immediately.
	scan, err := heap.Scan(t1)
	require.NoError(t, err)
	_ = scan

	err = env.lockMgr.Lock(t2, transaction.NewTableLockTag(heap.Fd()), transaction.LockModeX)
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.DeadlockPrevention))

	require.NoError(t, env.txnMgr.Abort(t2))
	require.NoError(t, env.txnMgr.Commit(t1))
}

func TestAggregates(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "t", intCharCols())
	ctx := NewExecContext(nil, env.tables)

	heap, err := env.tables.GetTable("t")
	require.NoError(t, err)
	for _, v := range []int32{-5, 7, 7, 9} {
		_, err := heap.Insert(nil, rowOf(t, heap, v, "xx"))
		require.NoError(t, err)
	}

	scan, err := NewSeqScanExecutor(ctx, &planner.ScanPlan{Kind: planner.ScanSeq, Table: "t"})
	require.NoError(t, err)
	agg, err := NewAggregateExecutor(scan, []planner.AggClause{
		{Type: planner.AggMax, Col: planner.TabCol{TabName: "t", ColName: "a"}, Alias: "m"},
		{Type: planner.AggCountAll, Alias: "c"},
		{Type: planner.AggSum, Col: planner.TabCol{TabName: "t", ColName: "a"}, Alias: "s"},
	})
	require.NoError(t, err)

	rows := runQuery(t, agg)
	require.Len(t, rows, 1)
	cols := agg.Columns()
	assert.Equal(t, int32(9), common.ReadValue(common.TypeInt, rows[0][cols[0].Offset:], 4).IntValue())
	assert.Equal(t, int32(4), common.ReadValue(common.TypeInt, rows[0][cols[1].Offset:], 4).IntValue())
	assert.Equal(t, int32(18), common.ReadValue(common.TypeInt, rows[0][cols[2].Offset:], 4).IntValue())
}

func TestCountMatchesFilteredSeqScan(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "t", intCharCols())
	ctx := NewExecContext(nil, env.tables)
	heap, err := env.tables.GetTable("t")
	require.NoError(t, err)
	for i := int32(0); i < 20; i++ {
		_, err := heap.Insert(nil, rowOf(t, heap, i, "yy"))
		require.NoError(t, err)
	}

	filter := []planner.Condition{cond("a", planner.OpLt, common.NewIntValue(5))}
	scan1, err := NewSeqScanExecutor(ctx, &planner.ScanPlan{Kind: planner.ScanSeq, Table: "t", Conds: filter})
	require.NoError(t, err)
	direct := len(runQuery(t, scan1))

	scan2, err := NewSeqScanExecutor(ctx, &planner.ScanPlan{Kind: planner.ScanSeq, Table: "t", Conds: filter})
	require.NoError(t, err)
	agg, err := NewAggregateExecutor(scan2, []planner.AggClause{{Type: planner.AggCountAll, Alias: "c"}})
	require.NoError(t, err)
	rows := runQuery(t, agg)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(direct), common.ReadValue(common.TypeInt, rows[0], 4).IntValue())
}

func TestSortLimits(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "t", intCharCols())
	ctx := NewExecContext(nil, env.tables)
	heap, err := env.tables.GetTable("t")
	require.NoError(t, err)
	for i := int32(0); i < 5; i++ {
		_, err := heap.Insert(nil, rowOf(t, heap, i, "aa"))
		require.NoError(t, err)
	}

	newSort := func(limit int) *SortExecutor {
		scan, err := NewSeqScanExecutor(ctx, &planner.ScanPlan{Kind: planner.ScanSeq, Table: "t"})
		require.NoError(t, err)
		s, err := NewSortExecutor(scan, []planner.OrderByCol{
			{Col: planner.TabCol{TabName: "t", ColName: "a"}, Desc: true},
		}, limit)
		require.NoError(t, err)
		return s
	}

	assert.Empty(t, runQuery(t, newSort(0)))
	assert.Len(t, runQuery(t, newSort(100)), 5)
	assert.Len(t, runQuery(t, newSort(planner.NoLimit)), 5)

	rows := runQuery(t, newSort(2))
	require.Len(t, rows, 2)
	assert.Equal(t, int32(4), colA(rows[0]))
	assert.Equal(t, int32(3), colA(rows[1]))
}

func TestUpdateNoMatchesTouchesNothing(t *testing.T) {
	env := newTestEnv(t)
	setupTable(env, t)
	setupCtx := NewExecContext(nil, env.tables)
	require.NoError(t, insertRowValues(t, env, setupCtx, 1, "ab"))

	txn, err := env.txnMgr.Begin(nil)
	require.NoError(t, err)
	ctx := NewExecContext(txn, env.tables)
	before := env.logMgr.GlobalLSN()

	child, err := NewSeqScanExecutor(ctx, &planner.ScanPlan{
		Kind:  planner.ScanSeq,
		Table: "t",
		Conds: []planner.Condition{cond("a", planner.OpEq, common.NewIntValue(99))},
	})
	require.NoError(t, err)
	update, err := NewUpdateExecutor(ctx, "t", []planner.SetClause{{
		Col: planner.TabCol{TabName: "t", ColName: "a"},
		Op:  planner.SetAssign,
		Val: common.NewIntValue(5),
	}}, child)
	require.NoError(t, err)
	require.NoError(t, update.Init())
	for update.Next() {
	}
	require.NoError(t, update.Err())
	assert.Zero(t, update.Count())
	assert.Equal(t, before, env.logMgr.GlobalLSN(), "no mutation WAL records for an empty match set")
	require.NoError(t, env.txnMgr.Commit(txn))
}

func newPairTables(t *testing.T, env *testEnv) {
	t.Helper()
	env.createTable(t, "l", []catalog.ColMeta{
		{Name: "id", Type: common.TypeInt, Len: 4},
		{Name: "lv", Type: common.TypeString, Len: 4},
	})
	env.createTable(t, "r", []catalog.ColMeta{
		{Name: "rid", Type: common.TypeInt, Len: 4},
		{Name: "rv", Type: common.TypeString, Len: 4},
	})
	lheap, err := env.tables.GetTable("l")
	require.NoError(t, err)
	rheap, err := env.tables.GetTable("r")
	require.NoError(t, err)

	for i := int32(1); i <= 3; i++ {
		rec, err := serializeRow(lheap.Meta(), []common.Value{common.NewIntValue(i), common.NewStringValue("L")})
		require.NoError(t, err)
		_, err = lheap.Insert(nil, rec)
		require.NoError(t, err)
	}
	for _, i := range []int32{2, 3, 3, 4} {
		rec, err := serializeRow(rheap.Meta(), []common.Value{common.NewIntValue(i), common.NewStringValue("R")})
		require.NoError(t, err)
		_, err = rheap.Insert(nil, rec)
		require.NoError(t, err)
	}
}

func joinEqCond() []planner.Condition {
	return []planner.Condition{{
		LhsCol: planner.TabCol{TabName: "l", ColName: "id"},
		Op:     planner.OpEq,
		RhsCol: planner.TabCol{TabName: "r", ColName: "rid"},
	}}
}

func joinPairs(t *testing.T, exec Executor) [][2]int32 {
	t.Helper()
	cols := exec.Columns()
	var out [][2]int32
	for _, row := range runQuery(t, exec) {
		var pair [2]int32
		for _, col := range cols {
			if col.Name == "id" {
				pair[0] = common.ReadValue(common.TypeInt, row[col.Offset:], 4).IntValue()
			}
			if col.Name == "rid" {
				pair[1] = common.ReadValue(common.TypeInt, row[col.Offset:], 4).IntValue()
			}
		}
		out = append(out, pair)
	}
	return out
}

func TestJoinAlgorithmsAgree(t *testing.T) {
	env := newTestEnv(t)
	newPairTables(t, env)
	ctx := NewExecContext(nil, env.tables)

	newScan := func(table string) Executor {
		scan, err := NewSeqScanExecutor(ctx, &planner.ScanPlan{Kind: planner.ScanSeq, Table: table})
		require.NoError(t, err)
		return scan
	}

	want := [][2]int32{{2, 2}, {3, 3}, {3, 3}}

	nl := NewNestedLoopJoinExecutor(newScan("l"), newScan("r"), joinEqCond())
	assert.ElementsMatch(t, want, joinPairs(t, nl))

	bnl := NewBlockNestedLoopJoinExecutor(newScan("l"), newScan("r"), joinEqCond(), 1<<12)
	assert.ElementsMatch(t, want, joinPairs(t, bnl))

	hash, err := NewHashJoinExecutor(newScan("l"), newScan("r"), joinEqCond())
	require.NoError(t, err)
	assert.ElementsMatch(t, want, joinPairs(t, hash))
}

func TestProjection(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "t", intCharCols())
	ctx := NewExecContext(nil, env.tables)
	heap, err := env.tables.GetTable("t")
	require.NoError(t, err)
	_, err = heap.Insert(nil, rowOf(t, heap, 5, "hi"))
	require.NoError(t, err)

	scan, err := NewSeqScanExecutor(ctx, &planner.ScanPlan{Kind: planner.ScanSeq, Table: "t"})
	require.NoError(t, err)
	proj, err := NewProjectionExecutor(scan, []planner.TabCol{{TabName: "t", ColName: "b"}})
	require.NoError(t, err)
	assert.False(t, proj.IsIdentityPrefix())

	rows := runQuery(t, proj)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, proj.TupleLen())
	assert.Equal(t, "hi", common.ReadValue(common.TypeString, rows[0], 4).StringValue())
}

func TestCSVLoad(t *testing.T) {
	env := newTestEnv(t)
	setupTable(env, t)
	ctx := NewExecContext(nil, env.tables)

	path := env.dir + "/input.csv"
	require.NoError(t, os.WriteFile(path, []byte("1,ab\n2,cd\n3,ef\n"), 0644))

	load, err := NewLoadExecutor(ctx, &planner.LoadPlan{Table: "t", Path: path})
	require.NoError(t, err)
	require.NoError(t, load.Init())
	for load.Next() {
	}
	require.NoError(t, load.Err())
	assert.Equal(t, 3, load.Count())

	scan, err := NewSeqScanExecutor(ctx, &planner.ScanPlan{Kind: planner.ScanSeq, Table: "t"})
	require.NoError(t, err)
	assert.Len(t, runQuery(t, scan), 3)
}
