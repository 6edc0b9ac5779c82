package indexing

import (
	"encoding/binary"

	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/storage"
)

// BTree node page layout:
// is_leaf (1) | pad (3) | num_keys (4) | parent (4) | prev_leaf (4) | next_leaf (4)
// followed by the keys array (maxSize slots of keyLen bytes) and the
// rids array (maxSize+1 slots of 8 bytes). Internal nodes use rids as
// child page numbers (num_keys+1 of them); leaves use rids[0..num_keys)
// as heap record locators.
const (
	nodeOffsetIsLeaf   = 0
	nodeOffsetNumKeys  = 4
	nodeOffsetParent   = 8
	nodeOffsetPrevLeaf = 12
	nodeOffsetNextLeaf = 16
	nodeHeaderSize     = 20
)

const ridSize = 8

// treeMaxSize derives the node capacity from the page and key sizes so
// a full node fits in one page.
func treeMaxSize(keyLen int) int {
	maxSize := (common.PageSize - nodeHeaderSize - ridSize) / (keyLen + ridSize)
	common.Assert(maxSize >= 4, "key of %d bytes leaves node capacity %d below the minimum", keyLen, maxSize)
	return maxSize
}

// node is a transient handle over a pinned B+tree page: parsed views
// of the header plus accessors into the keys and rids arrays. The
// caller owns the pin and latch discipline.
type node struct {
	tree  *BPlusTree
	frame *storage.PageFrame
}

func (n node) pageNo() int32 {
	return n.frame.ID().PageNo
}

func (n node) isLeaf() bool {
	return n.frame.Bytes[nodeOffsetIsLeaf] != 0
}

func (n node) setLeaf(leaf bool) {
	if leaf {
		n.frame.Bytes[nodeOffsetIsLeaf] = 1
	} else {
		n.frame.Bytes[nodeOffsetIsLeaf] = 0
	}
}

func (n node) numKeys() int {
	return int(int32(binary.LittleEndian.Uint32(n.frame.Bytes[nodeOffsetNumKeys:])))
}

func (n node) setNumKeys(numKeys int) {
	binary.LittleEndian.PutUint32(n.frame.Bytes[nodeOffsetNumKeys:], uint32(numKeys))
}

func (n node) parent() int32 {
	return int32(binary.LittleEndian.Uint32(n.frame.Bytes[nodeOffsetParent:]))
}

func (n node) setParent(pageNo int32) {
	binary.LittleEndian.PutUint32(n.frame.Bytes[nodeOffsetParent:], uint32(pageNo))
}

func (n node) prevLeaf() int32 {
	return int32(binary.LittleEndian.Uint32(n.frame.Bytes[nodeOffsetPrevLeaf:]))
}

func (n node) setPrevLeaf(pageNo int32) {
	binary.LittleEndian.PutUint32(n.frame.Bytes[nodeOffsetPrevLeaf:], uint32(pageNo))
}

func (n node) nextLeaf() int32 {
	return int32(binary.LittleEndian.Uint32(n.frame.Bytes[nodeOffsetNextLeaf:]))
}

func (n node) setNextLeaf(pageNo int32) {
	binary.LittleEndian.PutUint32(n.frame.Bytes[nodeOffsetNextLeaf:], uint32(pageNo))
}

func (n node) keyLen() int {
	return n.tree.keySchema.TotLen
}

func (n node) key(i int) []byte {
	off := nodeHeaderSize + i*n.keyLen()
	return n.frame.Bytes[off : off+n.keyLen()]
}

func (n node) setKey(i int, key []byte) {
	copy(n.key(i), key)
}

func (n node) ridOffset(i int) int {
	return nodeHeaderSize + n.tree.maxSize*n.keyLen() + i*ridSize
}

func (n node) rid(i int) common.Rid {
	off := n.ridOffset(i)
	return common.Rid{
		PageNo: int32(binary.LittleEndian.Uint32(n.frame.Bytes[off:])),
		SlotNo: int32(binary.LittleEndian.Uint32(n.frame.Bytes[off+4:])),
	}
}

func (n node) setRid(i int, rid common.Rid) {
	off := n.ridOffset(i)
	binary.LittleEndian.PutUint32(n.frame.Bytes[off:], uint32(rid.PageNo))
	binary.LittleEndian.PutUint32(n.frame.Bytes[off+4:], uint32(rid.SlotNo))
}

func (n node) child(i int) int32 {
	common.Assert(!n.isLeaf(), "child lookup on a leaf node")
	return n.rid(i).PageNo
}

func (n node) setChild(i int, pageNo int32) {
	n.setRid(i, common.Rid{PageNo: pageNo, SlotNo: 0})
}

// lowerBound returns the first slot whose key is >= target.
func (n node) lowerBound(target []byte) int {
	lo, hi := 0, n.numKeys()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.tree.keySchema.Compare(n.key(mid), target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// upperBound returns the first slot whose key is > target.
func (n node) upperBound(target []byte) int {
	lo, hi := 0, n.numKeys()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.tree.keySchema.Compare(n.key(mid), target) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// internalLookup returns the child page covering target: child i holds
// keys in [key(i-1), key(i)) with open ends.
func (n node) internalLookup(target []byte) int32 {
	return n.child(n.upperBound(target))
}

// insertKeyAt shifts keys [i, numKeys) right by one and writes key at i.
// The caller adjusts numKeys.
func (n node) insertKeyAt(i int, key []byte) {
	keyLen := n.keyLen()
	start := nodeHeaderSize + i*keyLen
	end := nodeHeaderSize + n.numKeys()*keyLen
	copy(n.frame.Bytes[start+keyLen:end+keyLen], n.frame.Bytes[start:end])
	n.setKey(i, key)
}

// removeKeyAt shifts keys (i, numKeys) left by one over slot i.
func (n node) removeKeyAt(i int) {
	keyLen := n.keyLen()
	start := nodeHeaderSize + i*keyLen
	end := nodeHeaderSize + n.numKeys()*keyLen
	copy(n.frame.Bytes[start:end-keyLen], n.frame.Bytes[start+keyLen:end])
}

// insertRidAt shifts rids [i, count) right by one and writes rid at i.
func (n node) insertRidAt(i int, rid common.Rid, count int) {
	start := n.ridOffset(i)
	end := n.ridOffset(count)
	copy(n.frame.Bytes[start+ridSize:end+ridSize], n.frame.Bytes[start:end])
	n.setRid(i, rid)
}

// removeRidAt shifts rids (i, count) left by one over slot i.
func (n node) removeRidAt(i int, count int) {
	start := n.ridOffset(i)
	end := n.ridOffset(count)
	copy(n.frame.Bytes[start:end-ridSize], n.frame.Bytes[start+ridSize:end])
}

// leafInsert places (key, rid) in sorted position. Duplicate keys are
// rejected with IndexInsertDuplicated.
func (n node) leafInsert(key []byte, rid common.Rid) (int, error) {
	pos := n.lowerBound(key)
	if pos < n.numKeys() && n.tree.keySchema.Compare(n.key(pos), key) == 0 {
		return -1, common.NewError(common.IndexInsertDuplicated, "duplicate index key")
	}
	n.insertKeyAt(pos, key)
	n.insertRidAt(pos, rid, n.numKeys())
	n.setNumKeys(n.numKeys() + 1)
	return pos, nil
}

// leafRemoveAt drops the entry at pos.
func (n node) leafRemoveAt(pos int) {
	n.removeKeyAt(pos)
	n.removeRidAt(pos, n.numKeys())
	n.setNumKeys(n.numKeys() - 1)
}

// internalInsert places a separator and its right child after a split
// of the child covering key.
func (n node) internalInsert(key []byte, childPageNo int32) {
	pos := n.upperBound(key)
	n.insertKeyAt(pos, key)
	n.insertRidAt(pos+1, common.Rid{PageNo: childPageNo, SlotNo: 0}, n.numKeys()+1)
	n.setNumKeys(n.numKeys() + 1)
}

// childIndex returns the slot of the child within this internal node.
func (n node) childIndex(childPageNo int32) int {
	for i := 0; i <= n.numKeys(); i++ {
		if n.child(i) == childPageNo {
			return i
		}
	}
	common.Assert(false, "page %d is not a child of page %d", childPageNo, n.pageNo())
	return -1
}
