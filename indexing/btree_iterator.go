package indexing

import (
	"github.com/ZeitHaum/rmdb/common"
)

// IxScan walks leaf entries between a lower and an upper Iid bound,
// crossing leaf boundaries through the next-leaf links. Each access
// pins and read-latches exactly one leaf; the surrounding table lock
// keeps the structure stable for the lifetime of the scan.
type IxScan struct {
	tree  *BPlusTree
	iid   common.Iid
	end   common.Iid
	first bool
	err   error

	key []byte
	rid common.Rid
}

// Scan creates an iterator over [lower, upper). Call Next to position
// on the first entry.
func (t *BPlusTree) Scan(lower, upper common.Iid) *IxScan {
	return &IxScan{
		tree:  t,
		iid:   lower,
		end:   upper,
		first: true,
		key:   make([]byte, t.keySchema.TotLen),
	}
}

// IsEnd reports whether the scan is exhausted.
func (s *IxScan) IsEnd() bool {
	return s.err != nil || s.iid == s.end
}

// Next advances to the next entry; the first call positions on the
// lower bound. It returns false when the scan is exhausted.
func (s *IxScan) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.first {
		if s.iid == s.end {
			return false
		}
		s.iid.SlotNo++
	}
	s.first = false
	return s.load()
}

// load resolves the current Iid to a key and rid, hopping to the next
// leaf when the slot runs off the current one.
func (s *IxScan) load() bool {
	for {
		if s.iid == s.end {
			return false
		}
		leaf, err := s.tree.fetchNode(s.iid.PageNo)
		if err != nil {
			s.err = err
			return false
		}
		leaf.frame.PageLatch.RLock()
		if int(s.iid.SlotNo) < leaf.numKeys() {
			copy(s.key, leaf.key(int(s.iid.SlotNo)))
			s.rid = leaf.rid(int(s.iid.SlotNo))
			leaf.frame.PageLatch.RUnlock()
			s.tree.unpin(leaf, false)
			return true
		}
		next := leaf.nextLeaf()
		leaf.frame.PageLatch.RUnlock()
		s.tree.unpin(leaf, false)
		if next == common.InvalidPageNo {
			s.iid = s.end
			return false
		}
		s.iid = common.Iid{PageNo: next, SlotNo: 0}
	}
}

// Iid returns the current cursor position.
func (s *IxScan) Iid() common.Iid {
	return s.iid
}

// Key returns the key at the cursor; valid until the next call to Next.
func (s *IxScan) Key() []byte {
	return s.key
}

// Rid returns the heap locator at the cursor.
func (s *IxScan) Rid() common.Rid {
	return s.rid
}

// Err returns the first error encountered by the scan.
func (s *IxScan) Err() error {
	return s.err
}
