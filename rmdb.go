// Package rmdb assembles the storage and execution stack of a
// single-node relational database engine: disk manager, buffer pool,
// write-ahead log, hierarchical lock manager, transaction manager,
// catalog, on-disk B+tree indexes and the volcano executors, with
// ARIES-style crash recovery running before the catalog is usable.
package rmdb

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/execution"
	"github.com/ZeitHaum/rmdb/indexing"
	"github.com/ZeitHaum/rmdb/logging"
	"github.com/ZeitHaum/rmdb/recovery"
	"github.com/ZeitHaum/rmdb/storage"
	"github.com/ZeitHaum/rmdb/transaction"
)

// RMDB is the top-level container for the database system. Components
// are constructed leaves-first at startup and torn down in reverse
// order by Close.
type RMDB struct {
	Catalog            *catalog.Catalog
	DiskManager        *storage.DiskManager
	BufferPool         *storage.BufferPool
	LogManager         *logging.LogManager
	LockManager        *transaction.LockManager
	TransactionManager *transaction.TransactionManager
	IndexManager       *indexing.IndexManager
	TableManager       *execution.TableManager
}

// Open loads (or initializes) the database in dir, runs crash recovery
// and returns the ready system. bufferPoolSize <= 0 selects the
// default frame count.
func Open(dir string, bufferPoolSize int) (*RMDB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, common.NewError(common.IoError, "create database directory: %v", err)
	}
	if bufferPoolSize <= 0 {
		bufferPoolSize = common.BufferPoolSize
	}

	c, err := catalog.LoadCatalog(dir)
	if common.IsCode(err, common.FileNotFound) {
		c = catalog.NewCatalog(filepath.Base(dir))
		if err := c.Save(dir); err != nil {
			return nil, err
		}
		logrus.WithField("db", c.Name).Info("initialized new database")
	} else if err != nil {
		return nil, err
	}

	logManager, err := logging.NewLogManager(dir)
	if err != nil {
		return nil, err
	}

	diskManager := storage.NewDiskManager(dir)
	bufferPool := storage.NewBufferPool(bufferPoolSize, diskManager, logManager)
	lockManager := transaction.NewLockManager()
	transactionManager := transaction.NewTransactionManager(lockManager, logManager)
	indexManager := indexing.NewIndexManager(bufferPool)
	tableManager := execution.NewTableManager(c, bufferPool, logManager, lockManager, indexManager)
	transactionManager.SetRollbackTarget(tableManager)

	recoveryManager := recovery.NewRecoveryManager(logManager, tableManager, c, indexManager)
	if err := recoveryManager.Recover(); err != nil {
		logrus.WithError(err).Fatal("crash recovery failed")
	}

	logrus.WithFields(logrus.Fields{
		"db":     c.Name,
		"tables": len(c.Tables()),
		"frames": bufferPoolSize,
	}).Info("database open")

	return &RMDB{
		Catalog:            c,
		DiskManager:        diskManager,
		BufferPool:         bufferPool,
		LogManager:         logManager,
		LockManager:        lockManager,
		TransactionManager: transactionManager,
		IndexManager:       indexManager,
		TableManager:       tableManager,
	}, nil
}

// Close flushes every table, index and the log, tearing components
// down in reverse construction order.
func (db *RMDB) Close() error {
	if err := db.TableManager.CloseAll(); err != nil {
		return err
	}
	if err := db.IndexManager.CloseAll(); err != nil {
		return err
	}
	if err := db.Catalog.Save(db.DiskManager.Root()); err != nil {
		return err
	}
	return db.LogManager.Close()
}
