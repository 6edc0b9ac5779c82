package recovery

import (
	"github.com/sirupsen/logrus"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/execution"
	"github.com/ZeitHaum/rmdb/indexing"
	"github.com/ZeitHaum/rmdb/logging"
	"github.com/ZeitHaum/rmdb/transaction"
)

// RecoveryManager replays the WAL against the storage layer at
// startup: Analysis builds the record list and the loser set, Redo
// reapplies every mutation the pages missed, Undo rolls the losers
// back (writing compensation records), and finally every index is
// rebuilt from its heap because index files do not participate in the
// WAL.
type RecoveryManager struct {
	logMgr   *logging.LogManager
	tables   *execution.TableManager
	catalog  *catalog.Catalog
	indexMgr *indexing.IndexManager
}

// NewRecoveryManager wires the recovery pipeline.
func NewRecoveryManager(logMgr *logging.LogManager, tables *execution.TableManager, c *catalog.Catalog, indexMgr *indexing.IndexManager) *RecoveryManager {
	return &RecoveryManager{
		logMgr:   logMgr,
		tables:   tables,
		catalog:  c,
		indexMgr: indexMgr,
	}
}

// Recover runs Analysis, Redo and Undo, then rebuilds every index.
// Log corruption or a failed inversion is fatal: recovery must be
// deterministic.
func (rm *RecoveryManager) Recover() error {
	records, losers, err := rm.analysis()
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"records": len(records),
		"losers":  len(losers),
	}).Info("recovery: analysis complete")

	if err := rm.redo(records); err != nil {
		return err
	}
	logrus.Info("recovery: redo complete")

	if err := rm.undo(records, losers); err != nil {
		return err
	}
	logrus.Info("recovery: undo complete")

	if err := rm.rebuildIndexes(); err != nil {
		return err
	}
	logrus.Info("recovery: indexes rebuilt")
	return nil
}

// analysis reads the whole log in order and computes the loser set:
// transactions with a BEGIN but no COMMIT or ABORT.
func (rm *RecoveryManager) analysis() ([]*logging.LogRecord, map[common.TxnID]bool, error) {
	if err := rm.logMgr.Flush(); err != nil {
		return nil, nil, err
	}
	iter, err := rm.logMgr.Iterator()
	if err != nil {
		return nil, nil, err
	}
	defer iter.Close()

	var records []*logging.LogRecord
	losers := make(map[common.TxnID]bool)
	for iter.Next() {
		r := iter.Record()
		records = append(records, r)
		switch r.Type {
		case logging.LogBegin:
			losers[r.TxnID] = true
		case logging.LogCommit, logging.LogAbort:
			delete(losers, r.TxnID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, nil, err
	}
	return records, losers, nil
}

// redo reapplies every mutation in log order. The heap allocates pages
// the crash lost; page-LSN gating keeps the replay idempotent.
func (rm *RecoveryManager) redo(records []*logging.LogRecord) error {
	for _, r := range records {
		if !r.IsMutation() {
			continue
		}
		if !rm.catalog.HasTable(r.TableName) {
			// The table was dropped after the mutation; nothing to redo.
			continue
		}
		heap, err := rm.tables.GetTable(r.TableName)
		if err != nil {
			return err
		}
		switch r.Type {
		case logging.LogInsert:
			err = heap.RedoInsert(r.Rid, r.Image, r.LSN)
		case logging.LogDelete:
			err = heap.RedoDelete(r.Rid, r.LSN)
		case logging.LogUpdate:
			err = heap.RedoUpdate(r.Rid, r.Image, r.LSN)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// undo walks the log backwards inverting every loser mutation, writing
// the compensating record for each inversion and an ABORT when the
// loser's BEGIN is reached. Indexes are ignored here: they are rebuilt
// from scratch afterwards.
func (rm *RecoveryManager) undo(records []*logging.LogRecord, losers map[common.TxnID]bool) error {
	// Loser contexts are reconstructed under their original ids so the
	// compensation records and final ABORTs carry them.
	active := make(map[common.TxnID]*transaction.Transaction)

	for i := len(records) - 1; i >= 0 && len(losers) > 0; i-- {
		r := records[i]
		if !losers[r.TxnID] {
			continue
		}
		txn := active[r.TxnID]
		if txn == nil {
			txn = transaction.RestartForRecovery(r.TxnID)
			active[r.TxnID] = txn
		}

		switch r.Type {
		case logging.LogBegin:
			lsn, err := rm.logMgr.Append(logging.NewAbortRecord(txn.ID(), txn.PrevLSN()))
			if err != nil {
				return err
			}
			txn.SetPrevLSN(lsn)
			delete(losers, r.TxnID)
			delete(active, r.TxnID)
			continue
		case logging.LogInsert:
			heap, err := rm.tables.GetTable(r.TableName)
			if err != nil {
				return err
			}
			if err := heap.UndoInsert(txn, r.Rid); err != nil {
				return err
			}
		case logging.LogDelete:
			heap, err := rm.tables.GetTable(r.TableName)
			if err != nil {
				return err
			}
			if err := heap.UndoDelete(txn, r.Rid, r.Image); err != nil {
				return err
			}
		case logging.LogUpdate:
			heap, err := rm.tables.GetTable(r.TableName)
			if err != nil {
				return err
			}
			if err := heap.UndoUpdate(txn, r.Rid, r.OldImage); err != nil {
				return err
			}
		}
	}
	common.Assert(len(losers) == 0, "undo finished with %d unresolved transactions", len(losers))

	// Hint sets went stale behind the direct page edits.
	for _, tab := range rm.catalog.Tables() {
		heap, err := rm.tables.GetTable(tab.Name)
		if err != nil {
			return err
		}
		if err := heap.RebuildHints(); err != nil {
			return err
		}
	}
	return rm.logMgr.Flush()
}

// rebuildIndexes drops and recreates every index file from a heap
// scan. The index file LSN mechanism does not cover structural
// mutations, so a full rebuild is the only safe restoration.
func (rm *RecoveryManager) rebuildIndexes() error {
	for _, tab := range rm.catalog.Tables() {
		if len(tab.Indexes) == 0 {
			continue
		}
		heap, err := rm.tables.GetTable(tab.Name)
		if err != nil {
			return err
		}
		for i := range tab.Indexes {
			idx := &tab.Indexes[i]
			// The file may be missing after a crash mid-create; a
			// failed destroy is fine either way.
			_ = rm.indexMgr.DestroyIndex(idx)
			if err := rm.indexMgr.CreateIndex(idx); err != nil {
				return err
			}
			tree, err := rm.indexMgr.GetIndex(idx)
			if err != nil {
				return err
			}
			key := make([]byte, idx.ColTotLen)
			scan, err := heap.Scan(nil)
			if err != nil {
				return err
			}
			for scan.Next() {
				execution.BuildIndexKey(key, idx, scan.Record())
				if err := tree.Insert(key, scan.Rid(), nil); err != nil {
					return err
				}
			}
			if err := scan.Err(); err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"table": tab.Name,
				"index": idx.FileName(),
			}).Debug("recovery: index rebuilt")
		}
	}
	return nil
}
