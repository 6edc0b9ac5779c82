package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZeitHaum/rmdb/common"
)

// MetaFileName is the database metadata file within the database
// directory. It is a line-oriented UTF-8 text file: database name,
// table count, then per table its name, column count, one column per
// line, the index count and per index a header line followed by one
// line per included column.
const MetaFileName = "db.meta"

// ColMeta describes one column of a table.
type ColMeta struct {
	TabName string
	Name    string
	Type    common.ColType
	Len     int
	Offset  int
	Index   bool
}

func (c ColMeta) String() string {
	flag := 0
	if c.Index {
		flag = 1
	}
	return fmt.Sprintf("%s %s %d %d %d %d", c.TabName, c.Name, int(c.Type), c.Len, c.Offset, flag)
}

// IndexMeta describes one index: the owning table, the ordered key
// columns, and the total key width.
type IndexMeta struct {
	TabName   string
	ColTotLen int
	Cols      []ColMeta
}

// ColNames returns the ordered names of the key columns.
func (im *IndexMeta) ColNames() []string {
	names := make([]string, len(im.Cols))
	for i, col := range im.Cols {
		names[i] = col.Name
	}
	return names
}

// FileName derives the index file name deterministically from the
// table name and the ordered key column names.
func (im *IndexMeta) FileName() string {
	return IndexFileName(im.TabName, im.ColNames())
}

// IndexFileName derives an index file name from a table and ordered
// column names.
func IndexFileName(tabName string, colNames []string) string {
	return tabName + "_" + strings.Join(colNames, "_") + ".idx"
}

// TabMeta describes one table: its ordered columns and indexes.
type TabMeta struct {
	Name    string
	Cols    []ColMeta
	Indexes []IndexMeta
}

// FileName returns the heap file name of the table.
func (tm *TabMeta) FileName() string {
	return tm.Name
}

// RecordSize returns the fixed width of a record of this table.
func (tm *TabMeta) RecordSize() int {
	size := 0
	for _, col := range tm.Cols {
		size += col.Len
	}
	return size
}

// HasCol reports whether the table has a column with the given name.
func (tm *TabMeta) HasCol(name string) bool {
	_, err := tm.GetCol(name)
	return err == nil
}

// GetCol returns the column with the given name.
func (tm *TabMeta) GetCol(name string) (*ColMeta, error) {
	for i := range tm.Cols {
		if tm.Cols[i].Name == name {
			return &tm.Cols[i], nil
		}
	}
	return nil, common.NewError(common.ColumnNotFound, "column '%s' does not exist in table '%s'", name, tm.Name)
}

// ColIndex returns the position of the column within the table.
func (tm *TabMeta) ColIndex(name string) int {
	for i := range tm.Cols {
		if tm.Cols[i].Name == name {
			return i
		}
	}
	return -1
}

// HasIndex reports whether an index on exactly the given ordered
// columns exists.
func (tm *TabMeta) HasIndex(colNames []string) bool {
	return tm.FindIndex(colNames) != nil
}

// FindIndex returns the index on exactly the given ordered columns.
func (tm *TabMeta) FindIndex(colNames []string) *IndexMeta {
	for i := range tm.Indexes {
		idx := &tm.Indexes[i]
		if len(idx.Cols) != len(colNames) {
			continue
		}
		match := true
		for j, col := range idx.Cols {
			if col.Name != colNames[j] {
				match = false
				break
			}
		}
		if match {
			return idx
		}
	}
	return nil
}

// Catalog holds the database schema: the database name and every
// table's metadata. DDL statements are serialized by the caller, so
// the catalog itself carries no lock.
type Catalog struct {
	Name   string
	tables []*TabMeta
	byName map[string]*TabMeta
}

// NewCatalog creates an empty catalog for a database of the given name.
func NewCatalog(name string) *Catalog {
	return &Catalog{
		Name:   name,
		byName: make(map[string]*TabMeta),
	}
}

// Tables returns the tables in creation order.
func (c *Catalog) Tables() []*TabMeta {
	return c.tables
}

// HasTable reports whether the table exists.
func (c *Catalog) HasTable(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// GetTable returns the metadata of the named table.
func (c *Catalog) GetTable(name string) (*TabMeta, error) {
	tab, ok := c.byName[name]
	if !ok {
		return nil, common.NewError(common.TableNotFound, "table '%s' does not exist", name)
	}
	return tab, nil
}

// AddTable registers a new table.
func (c *Catalog) AddTable(tab *TabMeta) error {
	if c.HasTable(tab.Name) {
		return common.NewError(common.TableExists, "table '%s' already exists", tab.Name)
	}
	c.tables = append(c.tables, tab)
	c.byName[tab.Name] = tab
	return nil
}

// RemoveTable drops a table from the catalog.
func (c *Catalog) RemoveTable(name string) error {
	if !c.HasTable(name) {
		return common.NewError(common.TableNotFound, "table '%s' does not exist", name)
	}
	delete(c.byName, name)
	for i, tab := range c.tables {
		if tab.Name == name {
			c.tables = append(c.tables[:i], c.tables[i+1:]...)
			break
		}
	}
	return nil
}

// ResolveColumn finds the table owning colName among tabNames. When
// tabName is empty the owning table is inferred; owning more than one
// candidate is AmbiguousColumn, none is ColumnNotFound.
func (c *Catalog) ResolveColumn(tabNames []string, tabName, colName string) (*ColMeta, error) {
	if tabName != "" {
		tab, err := c.GetTable(tabName)
		if err != nil {
			return nil, err
		}
		return tab.GetCol(colName)
	}

	var found *ColMeta
	for _, name := range tabNames {
		tab, err := c.GetTable(name)
		if err != nil {
			return nil, err
		}
		if !tab.HasCol(colName) {
			continue
		}
		if found != nil {
			return nil, common.NewError(common.AmbiguousColumn, "column '%s' is ambiguous", colName)
		}
		col, _ := tab.GetCol(colName)
		found = col
	}
	if found == nil {
		return nil, common.NewError(common.ColumnNotFound, "column '%s' does not exist", colName)
	}
	return found, nil
}

func writeCol(w *bufio.Writer, col ColMeta) {
	fmt.Fprintln(w, col.String())
}

func readCol(sc *bufio.Scanner) (ColMeta, error) {
	if !sc.Scan() {
		return ColMeta{}, common.NewError(common.IoError, "db.meta truncated inside a column entry")
	}
	var col ColMeta
	var typeVal, flag int
	if _, err := fmt.Sscan(sc.Text(), &col.TabName, &col.Name, &typeVal, &col.Len, &col.Offset, &flag); err != nil {
		return ColMeta{}, common.NewError(common.IoError, "db.meta malformed column entry: %v", err)
	}
	col.Type = common.ColType(typeVal)
	col.Index = flag != 0
	return col, nil
}

// Save writes the catalog to db.meta inside dir, atomically via a
// temporary file.
func (c *Catalog) Save(dir string) error {
	tmpPath := filepath.Join(dir, MetaFileName+".tmp")
	f, err := os.Create(tmpPath)
	if err != nil {
		return common.NewError(common.IoError, "create db.meta: %v", err)
	}
	w := bufio.NewWriter(f)

	fmt.Fprintln(w, c.Name)
	fmt.Fprintln(w, len(c.tables))
	for _, tab := range c.tables {
		fmt.Fprintln(w, tab.Name)
		fmt.Fprintln(w, len(tab.Cols))
		for _, col := range tab.Cols {
			writeCol(w, col)
		}
		fmt.Fprintln(w, len(tab.Indexes))
		for _, idx := range tab.Indexes {
			fmt.Fprintf(w, "%s %d %d\n", idx.TabName, idx.ColTotLen, len(idx.Cols))
			for _, col := range idx.Cols {
				writeCol(w, col)
			}
		}
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return common.NewError(common.IoError, "write db.meta: %v", err)
	}
	if err := f.Close(); err != nil {
		return common.NewError(common.IoError, "close db.meta: %v", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, MetaFileName)); err != nil {
		return common.NewError(common.IoError, "rename db.meta: %v", err)
	}
	return nil
}

// LoadCatalog reads db.meta from dir. A missing file is FileNotFound.
func LoadCatalog(dir string) (*Catalog, error) {
	f, err := os.Open(filepath.Join(dir, MetaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NewError(common.FileNotFound, "db.meta does not exist in '%s'", dir)
		}
		return nil, common.NewError(common.IoError, "open db.meta: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	scanLine := func() (string, error) {
		if !sc.Scan() {
			return "", common.NewError(common.IoError, "db.meta truncated")
		}
		return sc.Text(), nil
	}
	scanInt := func() (int, error) {
		line, err := scanLine()
		if err != nil {
			return 0, err
		}
		var n int
		if _, err := fmt.Sscan(line, &n); err != nil {
			return 0, common.NewError(common.IoError, "db.meta malformed count: %v", err)
		}
		return n, nil
	}

	name, err := scanLine()
	if err != nil {
		return nil, err
	}
	c := NewCatalog(name)

	tableCount, err := scanInt()
	if err != nil {
		return nil, err
	}
	for t := 0; t < tableCount; t++ {
		tabName, err := scanLine()
		if err != nil {
			return nil, err
		}
		tab := &TabMeta{Name: tabName}

		colCount, err := scanInt()
		if err != nil {
			return nil, err
		}
		for i := 0; i < colCount; i++ {
			col, err := readCol(sc)
			if err != nil {
				return nil, err
			}
			tab.Cols = append(tab.Cols, col)
		}

		indexCount, err := scanInt()
		if err != nil {
			return nil, err
		}
		for i := 0; i < indexCount; i++ {
			line, err := scanLine()
			if err != nil {
				return nil, err
			}
			var idx IndexMeta
			var colNum int
			if _, err := fmt.Sscan(line, &idx.TabName, &idx.ColTotLen, &colNum); err != nil {
				return nil, common.NewError(common.IoError, "db.meta malformed index entry: %v", err)
			}
			for j := 0; j < colNum; j++ {
				col, err := readCol(sc)
				if err != nil {
					return nil, err
				}
				idx.Cols = append(idx.Cols, col)
			}
			tab.Indexes = append(tab.Indexes, idx)
		}

		if err := c.AddTable(tab); err != nil {
			return nil, err
		}
	}
	return c, nil
}
