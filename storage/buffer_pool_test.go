package storage

import (
	"encoding/binary"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZeitHaum/rmdb/common"
)

func newTestPool(t *testing.T, frames int) (*BufferPool, common.FileID) {
	t.Helper()
	dm := NewDiskManager(t.TempDir())
	require.NoError(t, dm.CreateFile("t"))
	fd, err := dm.OpenFile("t")
	require.NoError(t, err)
	return NewBufferPool(frames, dm, nil), fd
}

func TestBufferPoolNewFetchRoundTrip(t *testing.T) {
	pool, fd := newTestPool(t, 4)

	frame, err := pool.NewPage(fd)
	require.NoError(t, err)
	pageID := frame.ID()
	copy(frame.Bytes[:], "hello")
	pool.UnpinPage(pageID, true)

	again, err := pool.FetchPage(pageID)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), again.Bytes[:5])
	pool.UnpinPage(pageID, false)
}

func TestBufferPoolEvictionWritesBack(t *testing.T) {
	pool, fd := newTestPool(t, 2)

	frame, err := pool.NewPage(fd)
	require.NoError(t, err)
	first := frame.ID()
	copy(frame.Bytes[:], "persist me")
	pool.UnpinPage(first, true)

	// Fill the pool so the first page is evicted.
	for i := 0; i < 3; i++ {
		f, err := pool.NewPage(fd)
		require.NoError(t, err)
		pool.UnpinPage(f.ID(), false)
	}

	// The page must read back from disk with its contents intact.
	again, err := pool.FetchPage(first)
	require.NoError(t, err)
	assert.Equal(t, []byte("persist me"), again.Bytes[:10])
	pool.UnpinPage(first, false)
}

func TestBufferPoolExhaustion(t *testing.T) {
	pool, fd := newTestPool(t, 2)

	a, err := pool.NewPage(fd)
	require.NoError(t, err)
	b, err := pool.NewPage(fd)
	require.NoError(t, err)

	_, err = pool.NewPage(fd)
	require.Error(t, err, "all frames pinned")

	pool.UnpinPage(a.ID(), false)
	pool.UnpinPage(b.ID(), false)
	c, err := pool.NewPage(fd)
	require.NoError(t, err)
	pool.UnpinPage(c.ID(), false)
}

func TestBufferPoolPinnedPagesAreNotVictims(t *testing.T) {
	pool, fd := newTestPool(t, 2)

	pinned, err := pool.NewPage(fd)
	require.NoError(t, err)
	pinnedID := pinned.ID()
	copy(pinned.Bytes[:], "pinned")

	other, err := pool.NewPage(fd)
	require.NoError(t, err)
	pool.UnpinPage(other.ID(), false)

	// Only the unpinned frame can be recycled.
	f, err := pool.NewPage(fd)
	require.NoError(t, err)
	assert.NotEqual(t, pinnedID, f.ID())
	assert.Equal(t, []byte("pinned"), pinned.Bytes[:6])
	pool.UnpinPage(f.ID(), false)
	pool.UnpinPage(pinnedID, false)
}

func TestBufferPoolFlushPage(t *testing.T) {
	dm := NewDiskManager(t.TempDir())
	require.NoError(t, dm.CreateFile("t"))
	fd, err := dm.OpenFile("t")
	require.NoError(t, err)
	pool := NewBufferPool(4, dm, nil)

	frame, err := pool.NewPage(fd)
	require.NoError(t, err)
	pageID := frame.ID()
	copy(frame.Bytes[:], "flush me")
	pool.UnpinPage(pageID, true)
	require.NoError(t, pool.FlushPage(pageID))

	var raw [common.PageSize]byte
	require.NoError(t, dm.ReadPage(fd, pageID.PageNo, raw[:]))
	assert.Equal(t, []byte("flush me"), raw[:8])
}

// TestBufferPoolConcurrentLostUpdate hammers one page with writer
// threads incrementing a counter mirrored at several offsets, reader
// threads asserting the mirrors never tear, and a background flusher
// racing evictions. After the storm the on-disk page must hold every
// increment.
func TestBufferPoolConcurrentLostUpdate(t *testing.T) {
	pool, fd := newTestPool(t, 4)

	frame, err := pool.NewPage(fd)
	require.NoError(t, err)
	pid := frame.ID()
	offsets := []int{8, 1000, 2000, 3000, 4088}
	pool.UnpinPage(pid, true)

	const numWriters = 4
	const iterations = 2000
	var workerWg sync.WaitGroup
	var flusherWg sync.WaitGroup
	var stopFlusher atomic.Bool

	for w := 0; w < numWriters; w++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for i := 0; i < iterations; i++ {
				f, err := pool.FetchPage(pid)
				assert.NoError(t, err)
				f.PageLatch.Lock()
				val := binary.LittleEndian.Uint64(f.Bytes[offsets[0]:])
				for _, off := range offsets {
					binary.LittleEndian.PutUint64(f.Bytes[off:], val+1)
					runtime.Gosched()
				}
				f.PageLatch.Unlock()
				pool.UnpinPage(pid, true)
			}
		}()
	}

	// Reader thread: all mirrors must always agree under the read latch.
	workerWg.Add(1)
	go func() {
		defer workerWg.Done()
		for i := 0; i < numWriters*iterations; i++ {
			f, err := pool.FetchPage(pid)
			assert.NoError(t, err)
			f.PageLatch.RLock()
			base := binary.LittleEndian.Uint64(f.Bytes[offsets[0]:])
			for idx, off := range offsets {
				curr := binary.LittleEndian.Uint64(f.Bytes[off:])
				assert.Equal(t, base, curr, "torn read at iter %d, offset idx %d", i, idx)
			}
			f.PageLatch.RUnlock()
			pool.UnpinPage(pid, false)
			runtime.Gosched()
		}
	}()

	flusherWg.Add(1)
	go func() {
		defer flusherWg.Done()
		for !stopFlusher.Load() {
			assert.NoError(t, pool.FlushAll(fd))
			time.Sleep(time.Millisecond)
		}
	}()

	workerWg.Wait()
	stopFlusher.Store(true)
	flusherWg.Wait()
	require.NoError(t, pool.FlushAll(fd))

	var raw [common.PageSize]byte
	require.NoError(t, pool.DiskManager().ReadPage(fd, pid.PageNo, raw[:]))
	for idx, off := range offsets {
		assert.Equal(t, uint64(numWriters*iterations), binary.LittleEndian.Uint64(raw[off:]),
			"lost update at offset idx %d", idx)
	}
}

// TestBufferPoolConcurrentEvictionStorm runs many threads over a
// working set larger than the pool, each pinning a random page,
// checking its signature, stamping it, and unpinning. Contention on
// the eviction path must neither hang nor hand a pinned frame to
// another page.
func TestBufferPoolConcurrentEvictionStorm(t *testing.T) {
	const numPages = 12
	pool, fd := newTestPool(t, 8)

	pids := make([]common.PageID, numPages)
	for i := 0; i < numPages; i++ {
		frame, err := pool.NewPage(fd)
		require.NoError(t, err)
		pids[i] = frame.ID()
		binary.LittleEndian.PutUint64(frame.Bytes[8:], uint64(i))
		pool.UnpinPage(pids[i], true)
	}

	// Each thread pins at most one frame at a time; staying below the
	// frame count keeps the pool from reporting exhaustion, which is
	// its specified behavior when every frame is pinned.
	numThreads := 6
	var wg sync.WaitGroup
	for th := 0; th < numThreads; th++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				idx := rng.Intn(numPages)
				f, err := pool.FetchPage(pids[idx])
				assert.NoError(t, err)
				f.PageLatch.Lock()
				// An evicted-then-reloaded page must carry the
				// signature it was stamped with.
				got := binary.LittleEndian.Uint64(f.Bytes[8:])
				assert.Equal(t, uint64(idx), got, "page %d served wrong contents", idx)
				binary.LittleEndian.PutUint64(f.Bytes[8:], uint64(idx))
				runtime.Gosched()
				f.PageLatch.Unlock()
				pool.UnpinPage(pids[idx], true)
			}
		}(int64(th))
	}
	wg.Wait()

	require.NoError(t, pool.FlushAll(fd))
	var raw [common.PageSize]byte
	for i, pid := range pids {
		require.NoError(t, pool.DiskManager().ReadPage(fd, pid.PageNo, raw[:]))
		assert.Equal(t, uint64(i), binary.LittleEndian.Uint64(raw[8:]))
	}
}

func TestLRUReplacerOrder(t *testing.T) {
	r := NewLRUReplacer()
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	r.Pin(2)

	v, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = r.Victim()
	require.True(t, ok)
	assert.Equal(t, 3, v)
	_, ok = r.Victim()
	assert.False(t, ok)
}
