package indexing

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/storage"
)

func intKeySchema() []catalog.ColMeta {
	return []catalog.ColMeta{{TabName: "t", Name: "a", Type: common.TypeInt, Len: 4}}
}

func newTestTree(t *testing.T, cols []catalog.ColMeta) *BPlusTree {
	t.Helper()
	dm := storage.NewDiskManager(t.TempDir())
	pool := storage.NewBufferPool(256, dm, nil)
	schema := NewKeySchema(cols)
	require.NoError(t, CreateIndexFile(dm, "t_a.idx", schema))
	tree, err := OpenBPlusTree(pool, "t_a.idx", schema)
	require.NoError(t, err)
	return tree
}

func intKey(v int32) []byte {
	key := make([]byte, 4)
	_ = common.NewIntValue(v).WriteTo(key, 4)
	return key
}

func ridFor(v int32) common.Rid {
	return common.Rid{PageNo: v/10 + 1, SlotNo: v % 10}
}

func TestBTreeInsertGet(t *testing.T) {
	tree := newTestTree(t, intKeySchema())
	require.NoError(t, tree.Insert(intKey(42), ridFor(42), nil))

	rid, found, err := tree.Get(intKey(42), nil)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ridFor(42), rid)

	_, found, err = tree.Get(intKey(43), nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBTreeDuplicateInsert(t *testing.T) {
	tree := newTestTree(t, intKeySchema())
	require.NoError(t, tree.Insert(intKey(1), ridFor(1), nil))
	err := tree.Insert(intKey(1), ridFor(2), nil)
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.IndexInsertDuplicated))

	// The original entry is untouched.
	rid, found, err := tree.Get(intKey(1), nil)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ridFor(1), rid)
}

// scanAll walks the leaf list and returns every key's leading int.
func scanAll(t *testing.T, tree *BPlusTree) []int32 {
	t.Helper()
	lower, err := tree.BeginIid()
	require.NoError(t, err)
	upper, err := tree.EndIid()
	require.NoError(t, err)
	var out []int32
	scan := tree.Scan(lower, upper)
	for scan.Next() {
		out = append(out, common.ReadValue(common.TypeInt, scan.Key(), 4).IntValue())
	}
	require.NoError(t, scan.Err())
	return out
}

func TestBTreeSplitKeepsLeafOrder(t *testing.T) {
	tree := newTestTree(t, intKeySchema())

	// Enough keys to force several levels of splits.
	const n = 3000
	for i := int32(0); i < n; i++ {
		v := (i * 7919) % 100003 // pseudo-shuffled, collision free
		require.NoError(t, tree.Insert(intKey(v), ridFor(v), nil))
	}

	keys := scanAll(t, tree)
	require.Len(t, keys, n)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i], "leaf chain must be strictly increasing")
	}
}

func TestBTreeDeleteMergesBackToEmpty(t *testing.T) {
	tree := newTestTree(t, intKeySchema())

	const n = 2000
	for i := int32(0); i < n; i++ {
		require.NoError(t, tree.Insert(intKey(i), ridFor(i), nil))
	}
	for i := int32(0); i < n; i++ {
		require.NoError(t, tree.Delete(intKey(i), ridFor(i), nil))
	}

	assert.Empty(t, scanAll(t, tree))
	first, err := tree.FirstIndexKey()
	require.NoError(t, err)
	last, err := tree.LastIndexKey()
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(0), last)
}

func TestBTreeInsertDeleteInterleaved(t *testing.T) {
	tree := newTestTree(t, intKeySchema())

	const n = 1200
	for i := int32(0); i < n; i++ {
		require.NoError(t, tree.Insert(intKey(i), ridFor(i), nil))
	}
	// Delete the odd keys in descending order to exercise both
	// redistribution directions.
	for i := int32(n - 1); i >= 0; i -= 2 {
		require.NoError(t, tree.Delete(intKey(i), ridFor(i), nil))
	}

	keys := scanAll(t, tree)
	require.Len(t, keys, n/2)
	for i, v := range keys {
		assert.Equal(t, int32(i*2), v)
	}
	for i := int32(0); i < n; i += 2 {
		rid, found, err := tree.Get(intKey(i), nil)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, ridFor(i), rid)
	}
}

func TestBTreeEmptyBoundaries(t *testing.T) {
	tree := newTestTree(t, intKeySchema())

	_, found, err := tree.Get(intKey(1), nil)
	require.NoError(t, err)
	assert.False(t, found)

	first, err := tree.FirstIndexKey()
	require.NoError(t, err)
	last, err := tree.LastIndexKey()
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(0), last)

	assert.Empty(t, scanAll(t, tree))
}

func TestBTreeFirstLastIndexKey(t *testing.T) {
	tree := newTestTree(t, intKeySchema())
	for _, v := range []int32{50, 10, 90, 30} {
		require.NoError(t, tree.Insert(intKey(v), ridFor(v), nil))
	}
	first, err := tree.FirstIndexKey()
	require.NoError(t, err)
	last, err := tree.LastIndexKey()
	require.NoError(t, err)
	assert.Equal(t, int64(10), first)
	assert.Equal(t, int64(90), last)
}

func TestBTreeRangeScanBounds(t *testing.T) {
	tree := newTestTree(t, intKeySchema())
	for i := int32(0); i < 100; i++ {
		require.NoError(t, tree.Insert(intKey(i), ridFor(i), nil))
	}

	lower, err := tree.LowerBoundIid(intKey(25))
	require.NoError(t, err)
	upper, err := tree.UpperBoundIid(intKey(74))
	require.NoError(t, err)

	var got []int32
	scan := tree.Scan(lower, upper)
	for scan.Next() {
		got = append(got, common.ReadValue(common.TypeInt, scan.Key(), 4).IntValue())
	}
	require.NoError(t, scan.Err())
	require.Len(t, got, 50)
	assert.Equal(t, int32(25), got[0])
	assert.Equal(t, int32(74), got[len(got)-1])
}

// TestBTreeConcurrentInsertGet drives the latch-coupled descent from
// many goroutines at once: each worker inserts a disjoint stride of
// keys, re-reading its own writes while the others split nodes under
// it. The tree must come out complete and strictly ordered.
func TestBTreeConcurrentInsertGet(t *testing.T) {
	tree := newTestTree(t, intKeySchema())

	const numWorkers = 8
	const perWorker = 400
	var wg sync.WaitGroup
	var inserted atomic.Int32

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int32) {
			defer wg.Done()
			for i := int32(0); i < perWorker; i++ {
				v := worker + i*numWorkers
				assert.NoError(t, tree.Insert(intKey(v), ridFor(v), nil))
				inserted.Add(1)

				// Read-your-writes under concurrent splits.
				rid, found, err := tree.Get(intKey(v), nil)
				assert.NoError(t, err)
				assert.True(t, found, "key %d vanished after insert", v)
				assert.Equal(t, ridFor(v), rid)
				if i > 0 {
					prev := worker + (i-1)*numWorkers
					_, found, err = tree.Get(intKey(prev), nil)
					assert.NoError(t, err)
					assert.True(t, found, "key %d vanished later", prev)
				}
				runtime.Gosched()
			}
		}(int32(w))
	}
	wg.Wait()
	require.Equal(t, int32(numWorkers*perWorker), inserted.Load())

	keys := scanAll(t, tree)
	require.Len(t, keys, numWorkers*perWorker)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i], "leaf chain must stay strictly increasing")
	}
}

// TestBTreeConcurrentDeleteGet prefills the tree, then deletes the odd
// keys from parallel workers (disjoint strides) while every worker
// also probes surviving even keys, exercising merge and redistribution
// under contention.
func TestBTreeConcurrentDeleteGet(t *testing.T) {
	tree := newTestTree(t, intKeySchema())

	const numWorkers = 8
	const n = numWorkers * 300
	for i := int32(0); i < n; i++ {
		require.NoError(t, tree.Insert(intKey(i), ridFor(i), nil))
	}

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int32) {
			defer wg.Done()
			// Worker w owns odd keys congruent to 2w+1 mod 2*numWorkers.
			for v := 2*worker + 1; v < n; v += 2 * numWorkers {
				assert.NoError(t, tree.Delete(intKey(v), ridFor(v), nil))

				// A neighboring even key must survive the rebalance.
				_, found, err := tree.Get(intKey(v-1), nil)
				assert.NoError(t, err)
				assert.True(t, found, "surviving key %d lost during delete storm", v-1)
				runtime.Gosched()
			}
		}(int32(w))
	}
	wg.Wait()

	keys := scanAll(t, tree)
	require.Len(t, keys, n/2)
	for i, v := range keys {
		assert.Equal(t, int32(i*2), v)
	}
}

func TestBTreeCompositeKeyOrdering(t *testing.T) {
	cols := []catalog.ColMeta{
		{TabName: "t", Name: "a", Type: common.TypeInt, Len: 4},
		{TabName: "t", Name: "b", Type: common.TypeString, Len: 4},
	}
	tree := newTestTree(t, cols)

	makeKey := func(a int32, b string) []byte {
		key := make([]byte, 8)
		_ = common.NewIntValue(a).WriteTo(key, 4)
		_ = common.NewStringValue(b).WriteTo(key[4:], 4)
		return key
	}

	require.NoError(t, tree.Insert(makeKey(1, "bb"), common.Rid{PageNo: 1, SlotNo: 0}, nil))
	require.NoError(t, tree.Insert(makeKey(1, "aa"), common.Rid{PageNo: 1, SlotNo: 1}, nil))
	require.NoError(t, tree.Insert(makeKey(-2, "zz"), common.Rid{PageNo: 1, SlotNo: 2}, nil))

	lower, err := tree.BeginIid()
	require.NoError(t, err)
	upper, err := tree.EndIid()
	require.NoError(t, err)
	scan := tree.Scan(lower, upper)

	var rids []common.Rid
	for scan.Next() {
		rids = append(rids, scan.Rid())
	}
	require.NoError(t, scan.Err())
	// -2/"zz" < 1/"aa" < 1/"bb": signed int first, then memcmp.
	assert.Equal(t, []common.Rid{
		{PageNo: 1, SlotNo: 2},
		{PageNo: 1, SlotNo: 1},
		{PageNo: 1, SlotNo: 0},
	}, rids)
}
