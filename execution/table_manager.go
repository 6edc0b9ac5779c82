package execution

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/indexing"
	"github.com/ZeitHaum/rmdb/logging"
	"github.com/ZeitHaum/rmdb/storage"
	"github.com/ZeitHaum/rmdb/transaction"
)

// TableManager owns the runtime table objects: it opens heap files on
// demand, creates and drops tables and indexes, and inverts heap
// mutations during transaction rollback (implementing
// transaction.RollbackTarget).
type TableManager struct {
	catalog  *catalog.Catalog
	pool     *storage.BufferPool
	logMgr   *logging.LogManager
	lockMgr  *transaction.LockManager
	indexMgr *indexing.IndexManager

	heaps *xsync.MapOf[string, *TableHeap]
}

// NewTableManager creates the table registry.
func NewTableManager(c *catalog.Catalog, pool *storage.BufferPool, logMgr *logging.LogManager, lockMgr *transaction.LockManager, indexMgr *indexing.IndexManager) *TableManager {
	return &TableManager{
		catalog:  c,
		pool:     pool,
		logMgr:   logMgr,
		lockMgr:  lockMgr,
		indexMgr: indexMgr,
		heaps:    xsync.NewMapOf[string, *TableHeap](),
	}
}

// Catalog returns the schema catalog.
func (tm *TableManager) Catalog() *catalog.Catalog {
	return tm.catalog
}

// IndexManager returns the index registry.
func (tm *TableManager) IndexManager() *indexing.IndexManager {
	return tm.indexMgr
}

// GetTable returns the open heap of the named table.
func (tm *TableManager) GetTable(name string) (*TableHeap, error) {
	if heap, ok := tm.heaps.Load(name); ok {
		return heap, nil
	}
	meta, err := tm.catalog.GetTable(name)
	if err != nil {
		return nil, err
	}
	heap, err := OpenTableHeap(tm.pool, tm.logMgr, tm.lockMgr, meta)
	if err != nil {
		return nil, err
	}
	actual, loaded := tm.heaps.LoadOrStore(name, heap)
	if loaded {
		_ = heap.Close()
		return actual, nil
	}
	return heap, nil
}

// CreateTable registers the table, computes column offsets, and lays
// out its heap file. DDL statements are serialized by the caller.
func (tm *TableManager) CreateTable(name string, cols []catalog.ColMeta) error {
	if tm.catalog.HasTable(name) {
		return common.NewError(common.TableExists, "table '%s' already exists", name)
	}
	offset := 0
	for i := range cols {
		cols[i].TabName = name
		cols[i].Offset = offset
		offset += cols[i].Len
	}
	meta := &catalog.TabMeta{Name: name, Cols: cols}
	if err := CreateTableFile(tm.pool.DiskManager(), meta); err != nil {
		return err
	}
	if err := tm.catalog.AddTable(meta); err != nil {
		return err
	}
	return tm.catalog.Save(tm.pool.DiskManager().Root())
}

// DropTable removes the table, its indexes and its files. Every pin on
// the table's pages must have been released.
func (tm *TableManager) DropTable(name string) error {
	meta, err := tm.catalog.GetTable(name)
	if err != nil {
		return err
	}
	for i := range meta.Indexes {
		if err := tm.indexMgr.DestroyIndex(&meta.Indexes[i]); err != nil {
			return err
		}
	}
	if heap, ok := tm.heaps.LoadAndDelete(name); ok {
		if err := heap.Close(); err != nil {
			return err
		}
	}
	if err := tm.pool.DiskManager().DestroyFile(meta.FileName()); err != nil {
		return err
	}
	if err := tm.catalog.RemoveTable(name); err != nil {
		return err
	}
	return tm.catalog.Save(tm.pool.DiskManager().Root())
}

// CreateIndex builds an index on the ordered columns and backfills it
// from the existing records.
func (tm *TableManager) CreateIndex(tabName string, colNames []string) error {
	meta, err := tm.catalog.GetTable(tabName)
	if err != nil {
		return err
	}
	if meta.HasIndex(colNames) {
		return common.NewError(common.IndexExists, "index on '%s' over these columns already exists", tabName)
	}
	idx := catalog.IndexMeta{TabName: tabName}
	for _, colName := range colNames {
		col, err := meta.GetCol(colName)
		if err != nil {
			return err
		}
		idx.Cols = append(idx.Cols, *col)
		idx.ColTotLen += col.Len
		col.Index = true
	}
	if err := tm.indexMgr.CreateIndex(&idx); err != nil {
		return err
	}
	meta.Indexes = append(meta.Indexes, idx)

	// Backfill from the heap.
	tree, err := tm.indexMgr.GetIndex(&idx)
	if err != nil {
		return err
	}
	heap, err := tm.GetTable(tabName)
	if err != nil {
		return err
	}
	key := make([]byte, idx.ColTotLen)
	scan, err := heap.Scan(nil)
	if err != nil {
		return err
	}
	for scan.Next() {
		BuildIndexKey(key, &idx, scan.Record())
		if err := tree.Insert(key, scan.Rid(), nil); err != nil {
			return err
		}
	}
	if err := scan.Err(); err != nil {
		return err
	}
	return tm.catalog.Save(tm.pool.DiskManager().Root())
}

// DropIndex removes the index on the ordered columns.
func (tm *TableManager) DropIndex(tabName string, colNames []string) error {
	meta, err := tm.catalog.GetTable(tabName)
	if err != nil {
		return err
	}
	idx := meta.FindIndex(colNames)
	if idx == nil {
		return common.NewError(common.IndexNotFound, "no index on '%s' over the given columns", tabName)
	}
	if err := tm.indexMgr.DestroyIndex(idx); err != nil {
		return err
	}
	for i := range meta.Indexes {
		if &meta.Indexes[i] == idx {
			meta.Indexes = append(meta.Indexes[:i], meta.Indexes[i+1:]...)
			break
		}
	}
	return tm.catalog.Save(tm.pool.DiskManager().Root())
}

// CloseAll flushes and closes every open heap.
func (tm *TableManager) CloseAll() error {
	var firstErr error
	tm.heaps.Range(func(name string, heap *TableHeap) bool {
		if err := heap.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		tm.heaps.Delete(name)
		return true
	})
	return firstErr
}

// BuildIndexKey serializes the record's key columns into key in index
// column order.
func BuildIndexKey(key []byte, idx *catalog.IndexMeta, rec []byte) {
	offset := 0
	for _, col := range idx.Cols {
		copy(key[offset:offset+col.Len], rec[col.Offset:col.Offset+col.Len])
		offset += col.Len
	}
}

// indexesOf returns every open index of the table.
func (tm *TableManager) indexesOf(meta *catalog.TabMeta) ([]*indexing.BPlusTree, error) {
	trees := make([]*indexing.BPlusTree, len(meta.Indexes))
	for i := range meta.Indexes {
		tree, err := tm.indexMgr.GetIndex(&meta.Indexes[i])
		if err != nil {
			return nil, err
		}
		trees[i] = tree
	}
	return trees, nil
}

// RollbackInsert implements transaction.RollbackTarget: the inserted
// record and its index entries disappear.
func (tm *TableManager) RollbackInsert(txn *transaction.Transaction, table string, rid common.Rid) error {
	heap, err := tm.GetTable(table)
	if err != nil {
		return err
	}
	rec, err := heap.GetNoLock(rid)
	if err != nil {
		return err
	}
	meta := heap.Meta()
	trees, err := tm.indexesOf(meta)
	if err != nil {
		return err
	}
	for i, tree := range trees {
		key := make([]byte, meta.Indexes[i].ColTotLen)
		BuildIndexKey(key, &meta.Indexes[i], rec)
		if err := tree.Delete(key, rid, nil); err != nil {
			return err
		}
	}
	return heap.UndoInsert(txn, rid)
}

// RollbackDelete implements transaction.RollbackTarget: the deleted
// record reappears at its original Rid with its index entries.
func (tm *TableManager) RollbackDelete(txn *transaction.Transaction, table string, rid common.Rid, image []byte) error {
	heap, err := tm.GetTable(table)
	if err != nil {
		return err
	}
	if err := heap.UndoDelete(txn, rid, image); err != nil {
		return err
	}
	meta := heap.Meta()
	trees, err := tm.indexesOf(meta)
	if err != nil {
		return err
	}
	for i, tree := range trees {
		key := make([]byte, meta.Indexes[i].ColTotLen)
		BuildIndexKey(key, &meta.Indexes[i], image)
		if err := tree.Insert(key, rid, nil); err != nil {
			return err
		}
	}
	return nil
}

// RollbackUpdate implements transaction.RollbackTarget: the pre-image
// is restored and changed index entries swap back.
func (tm *TableManager) RollbackUpdate(txn *transaction.Transaction, table string, rid common.Rid, preImage []byte) error {
	heap, err := tm.GetTable(table)
	if err != nil {
		return err
	}
	current, err := heap.GetNoLock(rid)
	if err != nil {
		return err
	}
	meta := heap.Meta()
	trees, err := tm.indexesOf(meta)
	if err != nil {
		return err
	}
	for i, tree := range trees {
		idx := &meta.Indexes[i]
		newKey := make([]byte, idx.ColTotLen)
		oldKey := make([]byte, idx.ColTotLen)
		BuildIndexKey(newKey, idx, current)
		BuildIndexKey(oldKey, idx, preImage)
		if tree.KeySchema().Compare(newKey, oldKey) == 0 {
			continue
		}
		if err := tree.Delete(newKey, rid, nil); err != nil {
			return err
		}
		if err := tree.Insert(oldKey, rid, nil); err != nil {
			return err
		}
	}
	return heap.UndoUpdate(txn, rid, preImage)
}
