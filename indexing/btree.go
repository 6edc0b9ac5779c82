package indexing

import (
	"encoding/binary"
	"sync"

	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/storage"
	"github.com/ZeitHaum/rmdb/transaction"
)

// Index file layout: page 0 is the file header, every other page is a
// tree node. The header caches the root and the two ends of the leaf
// linked list; it is flushed on close, and recovery rebuilds index
// files from heap scans, so the header does not participate in the WAL.
const (
	hdrOffsetRoot      = 0
	hdrOffsetFirstLeaf = 4
	hdrOffsetLastLeaf  = 8
)

type opKind int

const (
	opFind opKind = iota
	opInsert
	opDelete
)

// BPlusTree is a concurrent order-preserving index over fixed-length
// composite keys. Structure pointers are page numbers; node handles
// borrow pinned frames from the buffer pool. With lock crabbing
// enabled, every operation (with or without a transaction)
// latch-couples down the tree and retains latches on the unsafe
// ancestor chain; otherwise a tree-global mutex serializes every
// operation.
type BPlusTree struct {
	fd        common.FileID
	fileName  string
	pool      *storage.BufferPool
	keySchema *KeySchema

	maxSize int
	minSize int

	// mu is the fallback tree-global lock (crabbing disabled).
	mu sync.Mutex
	// rootMu serializes root identity changes against descents.
	rootMu sync.RWMutex
	// hdrMu guards the cached header fields.
	hdrMu     sync.Mutex
	root      int32
	firstLeaf int32
	lastLeaf  int32
}

// CreateIndexFile lays out an empty index file: the header page and a
// single empty leaf serving as the root.
func CreateIndexFile(disk *storage.DiskManager, fileName string, keySchema *KeySchema) error {
	if err := disk.CreateFile(fileName); err != nil {
		return err
	}
	fd, err := disk.OpenFile(fileName)
	if err != nil {
		return err
	}

	hdrPage, err := disk.AllocatePage(fd)
	if err != nil {
		return err
	}
	rootPage, err := disk.AllocatePage(fd)
	if err != nil {
		return err
	}
	common.Assert(hdrPage == 0 && rootPage == 1, "fresh index file must start at page 0")

	var buf [common.PageSize]byte
	binary.LittleEndian.PutUint32(buf[hdrOffsetRoot:], uint32(rootPage))
	binary.LittleEndian.PutUint32(buf[hdrOffsetFirstLeaf:], uint32(rootPage))
	binary.LittleEndian.PutUint32(buf[hdrOffsetLastLeaf:], uint32(rootPage))
	if err := disk.WritePage(fd, hdrPage, buf[:]); err != nil {
		return err
	}

	clear(buf[:])
	buf[nodeOffsetIsLeaf] = 1
	invalidPageNo := common.InvalidPageNo
	binary.LittleEndian.PutUint32(buf[nodeOffsetParent:], uint32(invalidPageNo))
	binary.LittleEndian.PutUint32(buf[nodeOffsetPrevLeaf:], uint32(invalidPageNo))
	binary.LittleEndian.PutUint32(buf[nodeOffsetNextLeaf:], uint32(invalidPageNo))
	return disk.WritePage(fd, rootPage, buf[:])
}

// OpenBPlusTree opens an existing index file.
func OpenBPlusTree(pool *storage.BufferPool, fileName string, keySchema *KeySchema) (*BPlusTree, error) {
	fd, err := pool.DiskManager().OpenFile(fileName)
	if err != nil {
		return nil, err
	}
	t := &BPlusTree{
		fd:        fd,
		fileName:  fileName,
		pool:      pool,
		keySchema: keySchema,
		maxSize:   treeMaxSize(keySchema.TotLen),
	}
	t.minSize = t.maxSize / 2

	var buf [common.PageSize]byte
	if err := pool.DiskManager().ReadPage(fd, 0, buf[:]); err != nil {
		return nil, err
	}
	t.root = int32(binary.LittleEndian.Uint32(buf[hdrOffsetRoot:]))
	t.firstLeaf = int32(binary.LittleEndian.Uint32(buf[hdrOffsetFirstLeaf:]))
	t.lastLeaf = int32(binary.LittleEndian.Uint32(buf[hdrOffsetLastLeaf:]))
	return t, nil
}

// Fd returns the file handle of the index file.
func (t *BPlusTree) Fd() common.FileID {
	return t.fd
}

// KeySchema returns the composite key description.
func (t *BPlusTree) KeySchema() *KeySchema {
	return t.keySchema
}

// Close flushes the header and every dirty page, then drops the file
// from the buffer pool and closes it.
func (t *BPlusTree) Close() error {
	if err := t.writeHeader(); err != nil {
		return err
	}
	if err := t.pool.EvictFile(t.fd); err != nil {
		return err
	}
	return t.pool.DiskManager().CloseFile(t.fd)
}

func (t *BPlusTree) writeHeader() error {
	t.hdrMu.Lock()
	root, first, last := t.root, t.firstLeaf, t.lastLeaf
	t.hdrMu.Unlock()

	var buf [common.PageSize]byte
	binary.LittleEndian.PutUint32(buf[hdrOffsetRoot:], uint32(root))
	binary.LittleEndian.PutUint32(buf[hdrOffsetFirstLeaf:], uint32(first))
	binary.LittleEndian.PutUint32(buf[hdrOffsetLastLeaf:], uint32(last))
	return t.pool.DiskManager().WritePage(t.fd, 0, buf[:])
}

func (t *BPlusTree) fetchNode(pageNo int32) (node, error) {
	frame, err := t.pool.FetchPage(common.PageID{Fd: t.fd, PageNo: pageNo})
	if err != nil {
		return node{}, err
	}
	return node{tree: t, frame: frame}, nil
}

func (t *BPlusTree) unpin(n node, dirty bool) {
	t.pool.UnpinPage(n.frame.ID(), dirty)
}

func (t *BPlusTree) newNode() (node, error) {
	frame, err := t.pool.NewPage(t.fd)
	if err != nil {
		return node{}, err
	}
	n := node{tree: t, frame: frame}
	n.setParent(common.InvalidPageNo)
	n.setPrevLeaf(common.InvalidPageNo)
	n.setNextLeaf(common.InvalidPageNo)
	return n, nil
}

// crabbing reports whether operations run latch-coupled. The two
// concurrency modes are mutually exclusive by build configuration:
// with crabbing disabled, the tree-global mutex guards every
// operation instead.
func crabbing() bool {
	return common.EnableLockCrabbing
}

// safe reports whether the node cannot propagate a structural change
// upward under the operation.
func (t *BPlusTree) safe(n node, op opKind) bool {
	switch op {
	case opFind:
		return true
	case opInsert:
		return n.numKeys()+1 < t.maxSize
	default:
		min := t.minSize
		if n.pageNo() == t.rootPageNo() {
			// The root shrinks only when an internal root loses its
			// last separator.
			if n.isLeaf() {
				min = 1
			} else {
				min = 2
			}
		}
		return n.numKeys()-1 >= min
	}
}

func (t *BPlusTree) rootPageNo() int32 {
	t.hdrMu.Lock()
	defer t.hdrMu.Unlock()
	return t.root
}

// descentStack tracks the pinned (and, when crabbing, latched) chain
// from the root to the current node. Ancestors are released as soon as
// the current node is safe; every retained resource is released on
// exit through release().
type descentStack struct {
	tree     *BPlusTree
	crab     bool
	write    bool
	rootHeld bool
	nodes    []node
}

func (s *descentStack) latch(n node) {
	if !s.crab {
		return
	}
	if s.write {
		n.frame.PageLatch.Lock()
	} else {
		n.frame.PageLatch.RLock()
	}
}

func (s *descentStack) unlatch(n node) {
	if !s.crab {
		return
	}
	if s.write {
		n.frame.PageLatch.Unlock()
	} else {
		n.frame.PageLatch.RUnlock()
	}
}

func (s *descentStack) releaseRoot() {
	if !s.rootHeld {
		return
	}
	s.rootHeld = false
	if s.write {
		s.tree.rootMu.Unlock()
	} else {
		s.tree.rootMu.RUnlock()
	}
}

// releaseAncestors drops everything above the current node.
func (s *descentStack) releaseAncestors(dirty bool) {
	for i := 0; i < len(s.nodes)-1; i++ {
		s.unlatch(s.nodes[i])
		s.tree.unpin(s.nodes[i], dirty)
	}
	if len(s.nodes) > 0 {
		s.nodes = []node{s.nodes[len(s.nodes)-1]}
	}
	s.releaseRoot()
}

// release drops every retained node.
func (s *descentStack) release(dirty bool) {
	for _, n := range s.nodes {
		s.unlatch(n)
		s.tree.unpin(n, dirty)
	}
	s.nodes = nil
	s.releaseRoot()
}

// current returns the bottom of the stack.
func (s *descentStack) current() node {
	return s.nodes[len(s.nodes)-1]
}

// pop removes and returns the bottom of the stack, leaving its parent
// as the new current node.
func (s *descentStack) pop() node {
	n := s.current()
	s.nodes = s.nodes[:len(s.nodes)-1]
	return n
}

// findLeaf descends from the root to the leaf covering key. The
// returned stack holds the leaf and every retained unsafe ancestor.
func (t *BPlusTree) findLeaf(key []byte, op opKind, txn *transaction.Transaction) (*descentStack, error) {
	_ = txn // latching policy is fixed by build config; txn is kept for API parity
	s := &descentStack{tree: t, crab: crabbing(), write: op != opFind}
	if !s.crab {
		t.mu.Lock()
	} else {
		if s.write {
			t.rootMu.Lock()
		} else {
			t.rootMu.RLock()
		}
		s.rootHeld = true
	}

	cur, err := t.fetchNode(t.rootPageNo())
	if err != nil {
		s.releaseRoot()
		if !s.crab {
			t.mu.Unlock()
		}
		return nil, err
	}
	s.latch(cur)
	s.nodes = append(s.nodes, cur)
	if t.safe(cur, op) {
		s.releaseAncestors(false)
	}

	for !cur.isLeaf() {
		child, err := t.fetchNode(cur.internalLookup(key))
		if err != nil {
			s.release(false)
			if !s.crab {
				t.mu.Unlock()
			}
			return nil, err
		}
		s.latch(child)
		s.nodes = append(s.nodes, child)
		if t.safe(child, op) {
			s.releaseAncestors(false)
		}
		cur = child
	}
	return s, nil
}

// finish releases the descent and, in single-mutex mode, the tree lock.
func (t *BPlusTree) finish(s *descentStack, dirty bool) {
	s.release(dirty)
	if !s.crab {
		t.mu.Unlock()
	}
}

// Get returns the Rid stored under key, if present.
func (t *BPlusTree) Get(key []byte, txn *transaction.Transaction) (common.Rid, bool, error) {
	s, err := t.findLeaf(key, opFind, txn)
	if err != nil {
		return common.Rid{}, false, err
	}
	leaf := s.current()
	pos := leaf.lowerBound(key)
	found := pos < leaf.numKeys() && t.keySchema.Compare(leaf.key(pos), key) == 0
	var rid common.Rid
	if found {
		rid = leaf.rid(pos)
	}
	t.finish(s, false)
	return rid, found, nil
}

// Insert adds (key, rid). A duplicate key fails with
// IndexInsertDuplicated and leaves the tree unchanged.
func (t *BPlusTree) Insert(key []byte, rid common.Rid, txn *transaction.Transaction) error {
	s, err := t.findLeaf(key, opInsert, txn)
	if err != nil {
		return err
	}
	leaf := s.current()

	newFirst := leaf.numKeys() > 0 && t.keySchema.Compare(key, leaf.key(0)) < 0
	if _, err := leaf.leafInsert(key, rid); err != nil {
		t.finish(s, false)
		return err
	}
	if newFirst {
		t.maintainParent(s, leaf)
	}

	if leaf.numKeys() == t.maxSize {
		if err := t.splitAndPropagate(s); err != nil {
			t.finish(s, true)
			return err
		}
	}
	t.finish(s, true)
	return nil
}

// maintainParent refreshes the ancestor separator naming the subtree
// minimum after the node's first key changed. Separators are lower
// bounds, so skipping the update when the ancestor chain was already
// released as safe keeps lookups correct; retained ancestors are
// updated in place.
func (t *BPlusTree) maintainParent(s *descentStack, n node) {
	common.Assert(s.current().pageNo() == n.pageNo(), "maintainParent must start at the bottom of the descent")
	child := n
	for j := len(s.nodes) - 2; j >= 0; j-- {
		parent := s.nodes[j]
		idx := parent.childIndex(child.pageNo())
		if idx > 0 {
			parent.setKey(idx-1, n.key(0))
			return
		}
		child = parent
	}
}

// splitAndPropagate splits the overfull bottom node of the stack and
// inserts separators upward, growing a new root if the split reaches
// the top of the retained chain.
func (t *BPlusTree) splitAndPropagate(s *descentStack) error {
	for len(s.nodes) > 0 {
		n := s.current()
		if n.numKeys() < t.maxSize {
			return nil
		}

		right, sepKey, err := t.splitNode(n)
		if err != nil {
			return err
		}

		if len(s.nodes) == 1 {
			// n is the top of the retained chain; it must be the root
			// (an unsafe node always retains its parent).
			common.Assert(n.pageNo() == t.rootPageNo(), "split reached a released ancestor")
			if err := t.growRoot(n, right, sepKey); err != nil {
				t.unpin(right, true)
				return err
			}
			t.unpin(right, true)
			return nil
		}

		parent := s.nodes[len(s.nodes)-2]
		parent.internalInsert(sepKey, right.pageNo())
		right.setParent(parent.pageNo())
		t.unpin(right, true)

		// Drop the split node from the stack and continue with the
		// parent.
		done := s.pop()
		s.unlatch(done)
		t.unpin(done, true)
	}
	return nil
}

// splitNode moves the upper half of n into a fresh right sibling and
// returns the sibling (pinned) plus the separator key for the parent.
func (t *BPlusTree) splitNode(n node) (node, []byte, error) {
	// The new node is invisible until linked into the parent, so it
	// needs no latch.
	right, err := t.newNode()
	if err != nil {
		return node{}, nil, err
	}

	sepKey := make([]byte, t.keySchema.TotLen)
	total := n.numKeys()

	if n.isLeaf() {
		keep := total - total/2
		move := total - keep
		right.setLeaf(true)
		for i := 0; i < move; i++ {
			right.setKey(i, n.key(keep+i))
			right.setRid(i, n.rid(keep+i))
		}
		right.setNumKeys(move)
		n.setNumKeys(keep)
		copy(sepKey, right.key(0))

		// Stitch the leaf list.
		right.setNextLeaf(n.nextLeaf())
		right.setPrevLeaf(n.pageNo())
		n.setNextLeaf(right.pageNo())
		right.setParent(n.parent())
		if right.nextLeaf() != common.InvalidPageNo {
			next, err := t.fetchNode(right.nextLeaf())
			if err != nil {
				return node{}, nil, err
			}
			next.frame.PageLatch.Lock()
			next.setPrevLeaf(right.pageNo())
			next.frame.PageLatch.Unlock()
			t.unpin(next, true)
		}
		t.hdrMu.Lock()
		if t.lastLeaf == n.pageNo() {
			t.lastLeaf = right.pageNo()
		}
		t.hdrMu.Unlock()
		return right, sepKey, nil
	}

	// Internal node: the middle separator moves up, it does not stay
	// in either half.
	mid := total / 2
	copy(sepKey, n.key(mid))
	move := total - mid - 1
	right.setLeaf(false)
	for i := 0; i < move; i++ {
		right.setKey(i, n.key(mid+1+i))
	}
	for i := 0; i <= move; i++ {
		right.setRid(i, n.rid(mid+1+i))
	}
	right.setNumKeys(move)
	n.setNumKeys(mid)
	right.setParent(n.parent())

	// The moved children now hang off the right node.
	for i := 0; i <= move; i++ {
		child, err := t.fetchNode(right.child(i))
		if err != nil {
			return node{}, nil, err
		}
		child.setParent(right.pageNo())
		t.unpin(child, true)
	}
	return right, sepKey, nil
}

// growRoot installs a fresh internal root over the two halves of a
// split root.
func (t *BPlusTree) growRoot(left, right node, sepKey []byte) error {
	newRoot, err := t.newNode()
	if err != nil {
		return err
	}
	newRoot.setLeaf(false)
	newRoot.setNumKeys(1)
	newRoot.setKey(0, sepKey)
	newRoot.setChild(0, left.pageNo())
	newRoot.setChild(1, right.pageNo())
	left.setParent(newRoot.pageNo())
	right.setParent(newRoot.pageNo())

	t.hdrMu.Lock()
	t.root = newRoot.pageNo()
	t.hdrMu.Unlock()
	t.unpin(newRoot, true)
	return nil
}

// Delete removes key from the tree. The stored rid must match the
// supplied one; a missing key is IndexNotFound.
func (t *BPlusTree) Delete(key []byte, rid common.Rid, txn *transaction.Transaction) error {
	s, err := t.findLeaf(key, opDelete, txn)
	if err != nil {
		return err
	}
	leaf := s.current()
	pos := leaf.lowerBound(key)
	if pos == leaf.numKeys() || t.keySchema.Compare(leaf.key(pos), key) != 0 {
		t.finish(s, false)
		return common.NewError(common.IndexNotFound, "key not present in index")
	}
	common.Assert(leaf.rid(pos) == rid, "index entry rid mismatch on delete")

	leaf.leafRemoveAt(pos)
	if pos == 0 && leaf.numKeys() > 0 {
		t.maintainParent(s, leaf)
	}

	if err := t.rebalanceAfterDelete(s); err != nil {
		t.finish(s, true)
		return err
	}
	t.finish(s, true)
	return nil
}

// rebalanceAfterDelete restores minimum occupancy along the retained
// chain, merging or redistributing with siblings and shrinking the
// root when an internal root loses its last separator.
func (t *BPlusTree) rebalanceAfterDelete(s *descentStack) error {
	for len(s.nodes) > 0 {
		n := s.current()

		if n.pageNo() == t.rootPageNo() {
			if n.isLeaf() || n.numKeys() > 0 {
				return nil
			}
			// An internal root lost its last separator: its only child
			// becomes the new root. Release the old root's pin before
			// returning its page.
			childPage := n.child(0)
			root := s.pop()
			s.unlatch(root)
			t.unpin(root, true)
			return t.shrinkRoot(root.pageNo(), childPage)
		}
		if n.numKeys() >= t.minSize {
			return nil
		}

		common.Assert(len(s.nodes) >= 2, "underfull node retained without its parent")
		parent := s.nodes[len(s.nodes)-2]
		idx := parent.childIndex(n.pageNo())

		// Prefer the left sibling for redistribution.
		if idx > 0 {
			left, err := t.fetchNode(parent.child(idx - 1))
			if err != nil {
				return err
			}
			left.frame.PageLatch.Lock()
			if left.numKeys()+n.numKeys() >= 2*t.minSize {
				t.redistributeFromLeft(left, n, parent, idx)
				left.frame.PageLatch.Unlock()
				t.unpin(left, true)
				return nil
			}
			// Coalesce n into the left sibling.
			if err := t.coalesce(left, n, parent, idx); err != nil {
				left.frame.PageLatch.Unlock()
				t.unpin(left, true)
				return err
			}
			left.frame.PageLatch.Unlock()
			t.unpin(left, true)

			// n is gone; continue rebalancing at the parent.
			gone := s.pop()
			s.unlatch(gone)
			t.unpin(gone, true)
			if err := t.pool.DeletePage(common.PageID{Fd: t.fd, PageNo: gone.pageNo()}); err != nil {
				return err
			}
			continue
		}

		right, err := t.fetchNode(parent.child(idx + 1))
		if err != nil {
			return err
		}
		right.frame.PageLatch.Lock()
		if right.numKeys()+n.numKeys() >= 2*t.minSize {
			t.redistributeFromRight(n, right, parent, idx)
			right.frame.PageLatch.Unlock()
			t.unpin(right, true)
			return nil
		}
		// Coalesce the right sibling into n.
		if err := t.coalesce(n, right, parent, idx+1); err != nil {
			right.frame.PageLatch.Unlock()
			t.unpin(right, true)
			return err
		}
		rightPage := right.pageNo()
		right.frame.PageLatch.Unlock()
		t.unpin(right, true)
		if err := t.pool.DeletePage(common.PageID{Fd: t.fd, PageNo: rightPage}); err != nil {
			return err
		}

		// n absorbed the sibling and is no longer underfull; the
		// parent lost an entry, continue there.
		kept := s.pop()
		s.unlatch(kept)
		t.unpin(kept, true)
	}
	return nil
}

// shrinkRoot hands the root role to the old root's only child and
// returns the old root page to the free list. An empty leaf root is
// never shrunk; it remains as the empty tree.
func (t *BPlusTree) shrinkRoot(oldRootPage, childPage int32) error {
	child, err := t.fetchNode(childPage)
	if err != nil {
		return err
	}
	child.setParent(common.InvalidPageNo)
	t.unpin(child, true)

	t.hdrMu.Lock()
	t.root = childPage
	t.hdrMu.Unlock()
	return t.pool.DeletePage(common.PageID{Fd: t.fd, PageNo: oldRootPage})
}

// redistributeFromLeft moves the left sibling's last entry into n and
// refreshes the separator between them.
func (t *BPlusTree) redistributeFromLeft(left, n, parent node, idx int) {
	last := left.numKeys() - 1
	if n.isLeaf() {
		n.insertKeyAt(0, left.key(last))
		n.insertRidAt(0, left.rid(last), n.numKeys())
		n.setNumKeys(n.numKeys() + 1)
		left.setNumKeys(last)
		parent.setKey(idx-1, n.key(0))
		return
	}

	// Internal rotation: the old separator drops into n, the left
	// sibling's last key replaces it.
	movedChild := left.child(left.numKeys())
	n.insertKeyAt(0, parent.key(idx-1))
	n.insertRidAt(0, common.Rid{PageNo: movedChild, SlotNo: 0}, n.numKeys()+1)
	n.setNumKeys(n.numKeys() + 1)
	parent.setKey(idx-1, left.key(last))
	left.setNumKeys(last)
	t.reparent(movedChild, n.pageNo())
}

// redistributeFromRight moves the right sibling's first entry into n
// and refreshes the separator between them.
func (t *BPlusTree) redistributeFromRight(n, right, parent node, idx int) {
	if n.isLeaf() {
		n.setKey(n.numKeys(), right.key(0))
		n.setRid(n.numKeys(), right.rid(0))
		n.setNumKeys(n.numKeys() + 1)
		right.leafRemoveAt(0)
		parent.setKey(idx, right.key(0))
		return
	}

	movedChild := right.child(0)
	n.setKey(n.numKeys(), parent.key(idx))
	n.setChild(n.numKeys()+1, movedChild)
	n.setNumKeys(n.numKeys() + 1)
	parent.setKey(idx, right.key(0))
	right.removeKeyAt(0)
	right.removeRidAt(0, right.numKeys()+1)
	right.setNumKeys(right.numKeys() - 1)
	t.reparent(movedChild, n.pageNo())
}

func (t *BPlusTree) reparent(childPage, parentPage int32) {
	child, err := t.fetchNode(childPage)
	common.Assert(err == nil, "fetch of resident child %d failed: %v", childPage, err)
	child.setParent(parentPage)
	t.unpin(child, true)
}

// coalesce merges the right node into its left sibling and removes the
// separating entry from the parent. rightIdx is the child slot of
// right within the parent.
func (t *BPlusTree) coalesce(left, right, parent node, rightIdx int) error {
	if left.isLeaf() {
		base := left.numKeys()
		for i := 0; i < right.numKeys(); i++ {
			left.setKey(base+i, right.key(i))
			left.setRid(base+i, right.rid(i))
		}
		left.setNumKeys(base + right.numKeys())

		left.setNextLeaf(right.nextLeaf())
		if right.nextLeaf() != common.InvalidPageNo {
			next, err := t.fetchNode(right.nextLeaf())
			if err != nil {
				return err
			}
			next.frame.PageLatch.Lock()
			next.setPrevLeaf(left.pageNo())
			next.frame.PageLatch.Unlock()
			t.unpin(next, true)
		}
		t.hdrMu.Lock()
		if t.lastLeaf == right.pageNo() {
			t.lastLeaf = left.pageNo()
		}
		t.hdrMu.Unlock()
	} else {
		// The separator carries the minimum of the right subtree and
		// rejoins the merged node.
		base := left.numKeys()
		left.setKey(base, parent.key(rightIdx-1))
		for i := 0; i < right.numKeys(); i++ {
			left.setKey(base+1+i, right.key(i))
		}
		for i := 0; i <= right.numKeys(); i++ {
			movedChild := right.child(i)
			left.setChild(base+1+i, movedChild)
			t.reparent(movedChild, left.pageNo())
		}
		left.setNumKeys(base + 1 + right.numKeys())
	}

	parent.removeKeyAt(rightIdx - 1)
	parent.removeRidAt(rightIdx, parent.numKeys()+1)
	parent.setNumKeys(parent.numKeys() - 1)
	return nil
}

// FirstLeaf returns the page number of the minimum leaf.
func (t *BPlusTree) FirstLeaf() int32 {
	t.hdrMu.Lock()
	defer t.hdrMu.Unlock()
	return t.firstLeaf
}

// LastLeaf returns the page number of the maximum leaf.
func (t *BPlusTree) LastLeaf() int32 {
	t.hdrMu.Lock()
	defer t.hdrMu.Unlock()
	return t.lastLeaf
}

func leadingIntFromKey(key []byte, t common.ColType) int64 {
	switch t {
	case common.TypeInt:
		return int64(int32(binary.LittleEndian.Uint32(key)))
	case common.TypeBigint:
		return int64(binary.LittleEndian.Uint64(key))
	}
	common.Assert(false, "leading index column is not an integer type")
	return 0
}

// FirstIndexKey returns the minimum value of the leading integer
// column; an empty tree returns 1 (so that first > last signals
// emptiness).
func (t *BPlusTree) FirstIndexKey() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	leaf, err := t.fetchNode(t.FirstLeaf())
	if err != nil {
		return 0, err
	}
	defer t.unpin(leaf, false)
	leaf.frame.PageLatch.RLock()
	defer leaf.frame.PageLatch.RUnlock()
	if leaf.numKeys() == 0 {
		return 1, nil
	}
	return leadingIntFromKey(leaf.key(0), t.keySchema.Types[0]), nil
}

// LastIndexKey returns the maximum value of the leading integer
// column; an empty tree returns 0.
func (t *BPlusTree) LastIndexKey() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	leaf, err := t.fetchNode(t.LastLeaf())
	if err != nil {
		return 0, err
	}
	defer t.unpin(leaf, false)
	leaf.frame.PageLatch.RLock()
	defer leaf.frame.PageLatch.RUnlock()
	if leaf.numKeys() == 0 {
		return 0, nil
	}
	return leadingIntFromKey(leaf.key(leaf.numKeys()-1), t.keySchema.Types[0]), nil
}

// LowerBoundIid positions at the first entry with key >= key.
func (t *BPlusTree) LowerBoundIid(key []byte) (common.Iid, error) {
	return t.boundIid(key, false)
}

// UpperBoundIid positions just past the last entry with key <= key.
func (t *BPlusTree) UpperBoundIid(key []byte) (common.Iid, error) {
	return t.boundIid(key, true)
}

func (t *BPlusTree) boundIid(key []byte, upper bool) (common.Iid, error) {
	s, err := t.findLeaf(key, opFind, nil)
	if err != nil {
		return common.Iid{}, err
	}
	leaf := s.current()
	var pos int
	if upper {
		pos = leaf.upperBound(key)
	} else {
		pos = leaf.lowerBound(key)
	}
	iid := common.Iid{PageNo: leaf.pageNo(), SlotNo: int32(pos)}
	if pos == leaf.numKeys() && leaf.nextLeaf() != common.InvalidPageNo {
		// Normalize the one-past-the-end slot to the head of the next
		// leaf so scans compare Iids directly.
		iid = common.Iid{PageNo: leaf.nextLeaf(), SlotNo: 0}
	}
	t.finish(s, false)
	return iid, nil
}

// EndIid returns the Iid one past the maximum entry.
func (t *BPlusTree) EndIid() (common.Iid, error) {
	last := t.LastLeaf()
	leaf, err := t.fetchNode(last)
	if err != nil {
		return common.Iid{}, err
	}
	leaf.frame.PageLatch.RLock()
	iid := common.Iid{PageNo: last, SlotNo: int32(leaf.numKeys())}
	leaf.frame.PageLatch.RUnlock()
	t.unpin(leaf, false)
	return iid, nil
}

// BeginIid returns the Iid of the minimum entry.
func (t *BPlusTree) BeginIid() (common.Iid, error) {
	first := t.FirstLeaf()
	leaf, err := t.fetchNode(first)
	if err != nil {
		return common.Iid{}, err
	}
	leaf.frame.PageLatch.RLock()
	empty := leaf.numKeys() == 0
	leaf.frame.PageLatch.RUnlock()
	t.unpin(leaf, false)
	if empty {
		return t.EndIid()
	}
	return common.Iid{PageNo: first, SlotNo: 0}, nil
}
