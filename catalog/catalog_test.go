package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZeitHaum/rmdb/common"
)

func sampleTable(name string) *TabMeta {
	return &TabMeta{
		Name: name,
		Cols: []ColMeta{
			{TabName: name, Name: "id", Type: common.TypeInt, Len: 4, Offset: 0, Index: true},
			{TabName: name, Name: "name", Type: common.TypeString, Len: 16, Offset: 4},
			{TabName: name, Name: "ts", Type: common.TypeDatetime, Len: 19, Offset: 20},
		},
		Indexes: []IndexMeta{{
			TabName:   name,
			ColTotLen: 4,
			Cols:      []ColMeta{{TabName: name, Name: "id", Type: common.TypeInt, Len: 4, Offset: 0, Index: true}},
		}},
	}
}

func TestCatalogSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := NewCatalog("testdb")
	require.NoError(t, c.AddTable(sampleTable("users")))
	require.NoError(t, c.AddTable(sampleTable("orders")))
	require.NoError(t, c.Save(dir))

	loaded, err := LoadCatalog(dir)
	require.NoError(t, err)
	assert.Equal(t, "testdb", loaded.Name)
	require.Len(t, loaded.Tables(), 2)

	users, err := loaded.GetTable("users")
	require.NoError(t, err)
	assert.Equal(t, 39, users.RecordSize())
	require.Len(t, users.Cols, 3)
	assert.Equal(t, common.TypeDatetime, users.Cols[2].Type)
	assert.Equal(t, 20, users.Cols[2].Offset)
	require.Len(t, users.Indexes, 1)
	assert.Equal(t, "users_id.idx", users.Indexes[0].FileName())
	assert.True(t, users.Cols[0].Index)
}

func TestCatalogMissingMeta(t *testing.T) {
	_, err := LoadCatalog(t.TempDir())
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.FileNotFound))
}

func TestCatalogDuplicateTable(t *testing.T) {
	c := NewCatalog("db")
	require.NoError(t, c.AddTable(sampleTable("t")))
	err := c.AddTable(sampleTable("t"))
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.TableExists))
}

func TestResolveColumn(t *testing.T) {
	c := NewCatalog("db")
	require.NoError(t, c.AddTable(sampleTable("a")))
	require.NoError(t, c.AddTable(sampleTable("b")))

	// Qualified reference resolves directly.
	col, err := c.ResolveColumn([]string{"a", "b"}, "a", "id")
	require.NoError(t, err)
	assert.Equal(t, "a", col.TabName)

	// Unqualified but present in both tables is ambiguous.
	_, err = c.ResolveColumn([]string{"a", "b"}, "", "id")
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.AmbiguousColumn))

	// Absent everywhere.
	_, err = c.ResolveColumn([]string{"a", "b"}, "", "nope")
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ColumnNotFound))
}

func TestFindIndexMatchesColumnOrder(t *testing.T) {
	tab := sampleTable("t")
	assert.NotNil(t, tab.FindIndex([]string{"id"}))
	assert.Nil(t, tab.FindIndex([]string{"name"}))
	assert.Nil(t, tab.FindIndex([]string{"id", "name"}))
}
