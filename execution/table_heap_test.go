package execution

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/indexing"
	"github.com/ZeitHaum/rmdb/logging"
	"github.com/ZeitHaum/rmdb/storage"
	"github.com/ZeitHaum/rmdb/transaction"
)

// testEnv assembles the full storage stack over a temp directory.
type testEnv struct {
	dir     string
	catalog *catalog.Catalog
	disk    *storage.DiskManager
	pool    *storage.BufferPool
	logMgr  *logging.LogManager
	lockMgr *transaction.LockManager
	txnMgr  *transaction.TransactionManager
	idxMgr  *indexing.IndexManager
	tables  *TableManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return openEnv(t, t.TempDir())
}

func openEnv(t *testing.T, dir string) *testEnv {
	t.Helper()
	logMgr, err := logging.NewLogManager(dir)
	require.NoError(t, err)

	env := &testEnv{
		dir:     dir,
		catalog: catalog.NewCatalog("test"),
		disk:    storage.NewDiskManager(dir),
		logMgr:  logMgr,
		lockMgr: transaction.NewLockManager(),
	}
	if loaded, err := catalog.LoadCatalog(dir); err == nil {
		env.catalog = loaded
	}
	env.pool = storage.NewBufferPool(1024, env.disk, logMgr)
	env.txnMgr = transaction.NewTransactionManager(env.lockMgr, logMgr)
	env.idxMgr = indexing.NewIndexManager(env.pool)
	env.tables = NewTableManager(env.catalog, env.pool, logMgr, env.lockMgr, env.idxMgr)
	env.txnMgr.SetRollbackTarget(env.tables)
	return env
}

func (env *testEnv) createTable(t *testing.T, name string, cols []catalog.ColMeta) *TableHeap {
	t.Helper()
	require.NoError(t, env.tables.CreateTable(name, cols))
	heap, err := env.tables.GetTable(name)
	require.NoError(t, err)
	return heap
}

func intCharCols() []catalog.ColMeta {
	return []catalog.ColMeta{
		{Name: "a", Type: common.TypeInt, Len: 4},
		{Name: "b", Type: common.TypeString, Len: 4},
	}
}

func rowOf(t *testing.T, heap *TableHeap, a int32, b string) []byte {
	t.Helper()
	rec, err := serializeRow(heap.Meta(), []common.Value{
		common.NewIntValue(a),
		common.NewStringValue(b),
	})
	require.NoError(t, err)
	return rec
}

func TestHeapInsertGetDelete(t *testing.T) {
	env := newTestEnv(t)
	heap := env.createTable(t, "t", intCharCols())

	rid, err := heap.Insert(nil, rowOf(t, heap, 1, "ab"))
	require.NoError(t, err)

	rec, err := heap.Get(nil, rid)
	require.NoError(t, err)
	assert.Equal(t, int32(1), common.ReadValue(common.TypeInt, rec, 4).IntValue())
	assert.Equal(t, "ab", common.ReadValue(common.TypeString, rec[4:], 4).StringValue())

	require.NoError(t, heap.Delete(nil, rid))
	_, err = heap.Get(nil, rid)
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.PageNotExist))
}

func TestHeapSlotReuseAfterDelete(t *testing.T) {
	env := newTestEnv(t)
	heap := env.createTable(t, "t", intCharCols())

	rid1, err := heap.Insert(nil, rowOf(t, heap, 1, "aa"))
	require.NoError(t, err)
	_, err = heap.Insert(nil, rowOf(t, heap, 2, "bb"))
	require.NoError(t, err)

	require.NoError(t, heap.Delete(nil, rid1))
	rid3, err := heap.Insert(nil, rowOf(t, heap, 3, "cc"))
	require.NoError(t, err)
	assert.Equal(t, rid1, rid3, "the freed slot is the first zero bit again")
}

func TestHeapScanSingleRecord(t *testing.T) {
	env := newTestEnv(t)
	heap := env.createTable(t, "t", intCharCols())

	rid, err := heap.Insert(nil, rowOf(t, heap, 7, "xy"))
	require.NoError(t, err)

	scan, err := heap.Scan(nil)
	require.NoError(t, err)
	require.True(t, scan.Next())
	assert.Equal(t, rid, scan.Rid())
	assert.False(t, scan.Next())
	require.NoError(t, scan.Err())

	// After deleting the only record, the scan is empty.
	require.NoError(t, heap.Delete(nil, rid))
	scan, err = heap.Scan(nil)
	require.NoError(t, err)
	assert.False(t, scan.Next())
}

func TestHeapScanCrossesPages(t *testing.T) {
	env := newTestEnv(t)
	heap := env.createTable(t, "t", intCharCols())

	// More records than one page holds.
	n := recordsPerPage(heap.RecordSize())*2 + 5
	for i := 0; i < n; i++ {
		_, err := heap.Insert(nil, rowOf(t, heap, int32(i), "zz"))
		require.NoError(t, err)
	}

	scan, err := heap.Scan(nil)
	require.NoError(t, err)
	count := 0
	for scan.Next() {
		count++
	}
	require.NoError(t, scan.Err())
	assert.Equal(t, n, count)
}

func TestHeapInsertAtPanicsOnOccupiedSlot(t *testing.T) {
	env := newTestEnv(t)
	heap := env.createTable(t, "t", intCharCols())

	rid, err := heap.Insert(nil, rowOf(t, heap, 1, "aa"))
	require.NoError(t, err)
	assert.Panics(t, func() {
		_ = heap.InsertAt(rid, rowOf(t, heap, 2, "bb"))
	})
}

// TestHeapConcurrentInsertReadDelete drives the shared heap (and the
// buffer pool under it) from parallel workers: every worker inserts
// its own values, re-reads them, and deletes a third of them, all
// while the others contend for the same hint set and pages. The final
// scan must account for every surviving record exactly once.
func TestHeapConcurrentInsertReadDelete(t *testing.T) {
	env := newTestEnv(t)
	heap := env.createTable(t, "t", intCharCols())

	const numWorkers = 8
	const perWorker = 300
	var next atomic.Int32
	var wg sync.WaitGroup
	kept := make([]map[int32]bool, numWorkers)

	for w := 0; w < numWorkers; w++ {
		kept[w] = make(map[int32]bool, perWorker)
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v := next.Add(1)
				rid, err := heap.Insert(nil, rowOf(t, heap, v, "cc"))
				assert.NoError(t, err)

				// Read-your-writes under concurrent page traffic.
				rec, err := heap.Get(nil, rid)
				assert.NoError(t, err)
				assert.Equal(t, v, common.ReadValue(common.TypeInt, rec, 4).IntValue(),
					"record %v served wrong bytes", rid)

				if i%3 == 0 {
					assert.NoError(t, heap.Delete(nil, rid))
				} else {
					kept[worker][v] = true
				}
				runtime.Gosched()
			}
		}(w)
	}
	wg.Wait()

	want := make(map[int32]bool)
	for _, m := range kept {
		for v := range m {
			want[v] = true
		}
	}

	scan, err := heap.Scan(nil)
	require.NoError(t, err)
	seen := make(map[int32]bool)
	for scan.Next() {
		v := common.ReadValue(common.TypeInt, scan.Record(), 4).IntValue()
		assert.False(t, seen[v], "value %d scanned twice", v)
		seen[v] = true
		assert.True(t, want[v], "unexpected survivor %d", v)
	}
	require.NoError(t, scan.Err())
	assert.Len(t, seen, len(want))
}

func TestHeapTransactionalInsertWritesWAL(t *testing.T) {
	env := newTestEnv(t)
	heap := env.createTable(t, "t", intCharCols())

	txn, err := env.txnMgr.Begin(nil)
	require.NoError(t, err)
	before := env.logMgr.GlobalLSN()
	_, err = heap.Insert(txn, rowOf(t, heap, 1, "aa"))
	require.NoError(t, err)
	assert.Greater(t, env.logMgr.GlobalLSN(), before)
	require.Len(t, txn.WriteSet(), 1)
	assert.Equal(t, transaction.WriteInsert, txn.WriteSet()[0].Op)
	require.NoError(t, env.txnMgr.Commit(txn))
}
