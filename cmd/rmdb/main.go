package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ZeitHaum/rmdb"
	"github.com/ZeitHaum/rmdb/execution"
	"github.com/ZeitHaum/rmdb/planner"
)

var dataDir string

func openDB() (*rmdb.RMDB, error) {
	return rmdb.Open(dataDir, 0)
}

var rootCmd = &cobra.Command{
	Use:   "rmdb",
	Short: "rmdb administers a single-node relational database directory",
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Open the database, replay the write-ahead log and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		return db.Close()
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <table> <csv-file>",
	Short: "Bulk-load a CSV file into a table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		txn, err := db.TransactionManager.Begin(nil)
		if err != nil {
			return err
		}
		ctx := execution.NewExecContext(txn, db.TableManager)
		exec, err := execution.BuildExecutor(ctx, &planner.LoadPlan{Table: args[0], Path: args[1]})
		if err != nil {
			_ = db.TransactionManager.Abort(txn)
			return err
		}
		if err := exec.Init(); err != nil {
			_ = db.TransactionManager.Abort(txn)
			return err
		}
		for exec.Next() {
		}
		if err := exec.Err(); err != nil {
			_ = db.TransactionManager.Abort(txn)
			return err
		}
		if err := db.TransactionManager.Commit(txn); err != nil {
			return err
		}
		loader := exec.(*execution.LoadExecutor)
		logrus.WithFields(logrus.Fields{
			"table": args[0],
			"rows":  loader.Count(),
		}).Info("load complete")
		return nil
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Print the schema of every table",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		for _, tab := range db.Catalog.Tables() {
			fmt.Printf("%s\n", tab.Name)
			for _, col := range tab.Cols {
				fmt.Printf("  %s %s(%d)\n", col.Name, col.Type, col.Len)
			}
			for _, idx := range tab.Indexes {
				fmt.Printf("  index (%v)\n", idx.ColNames())
			}
		}
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data", "d", ".", "database directory")
	rootCmd.AddCommand(recoverCmd, loadCmd, tablesCmd)
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
