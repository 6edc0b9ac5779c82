package indexing

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/storage"
)

// IndexManager owns the lifecycle of index files: creation, opening,
// destruction, and the cache of open trees keyed by file name.
type IndexManager struct {
	pool *storage.BufferPool
	open *xsync.MapOf[string, *BPlusTree]
}

// NewIndexManager creates an IndexManager over the buffer pool.
func NewIndexManager(pool *storage.BufferPool) *IndexManager {
	return &IndexManager{
		pool: pool,
		open: xsync.NewMapOf[string, *BPlusTree](),
	}
}

// CreateIndex lays out a new, empty index file for the metadata.
func (im *IndexManager) CreateIndex(meta *catalog.IndexMeta) error {
	return CreateIndexFile(im.pool.DiskManager(), meta.FileName(), NewKeySchema(meta.Cols))
}

// GetIndex returns the open tree for the metadata, opening it on first
// use.
func (im *IndexManager) GetIndex(meta *catalog.IndexMeta) (*BPlusTree, error) {
	name := meta.FileName()
	if tree, ok := im.open.Load(name); ok {
		return tree, nil
	}
	tree, err := OpenBPlusTree(im.pool, name, NewKeySchema(meta.Cols))
	if err != nil {
		return nil, err
	}
	actual, loaded := im.open.LoadOrStore(name, tree)
	if loaded {
		_ = tree.Close()
		return actual, nil
	}
	return tree, nil
}

// DestroyIndex closes and removes the index file.
func (im *IndexManager) DestroyIndex(meta *catalog.IndexMeta) error {
	name := meta.FileName()
	if tree, ok := im.open.LoadAndDelete(name); ok {
		if err := tree.Close(); err != nil {
			return err
		}
	}
	if !im.pool.DiskManager().IsFile(name) {
		return common.NewError(common.IndexNotFound, "index file '%s' does not exist", name)
	}
	return im.pool.DiskManager().DestroyFile(name)
}

// CloseAll flushes and closes every open index.
func (im *IndexManager) CloseAll() error {
	var firstErr error
	im.open.Range(func(name string, tree *BPlusTree) bool {
		if err := tree.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		im.open.Delete(name)
		return true
	})
	return firstErr
}
