package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZeitHaum/rmdb/common"
)

func TestLogRecordRoundTrip(t *testing.T) {
	rid := common.Rid{PageNo: 3, SlotNo: 7}
	rec := NewUpdateRecord(9, 4, "accounts", rid, []byte("before"), []byte("after!"))
	rec.LSN = 5

	buf := make([]byte, rec.Size())
	rec.WriteTo(buf)

	parsed, err := ParseLogRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, LogUpdate, parsed.Type)
	assert.Equal(t, common.LSN(5), parsed.LSN)
	assert.Equal(t, common.TxnID(9), parsed.TxnID)
	assert.Equal(t, common.LSN(4), parsed.PrevLSN)
	assert.Equal(t, rid, parsed.Rid)
	assert.Equal(t, []byte("before"), parsed.OldImage)
	assert.Equal(t, []byte("after!"), parsed.Image)
	assert.Equal(t, "accounts", parsed.TableName)
}

func TestLogRecordCorruption(t *testing.T) {
	rec := NewBeginRecord(1, common.InvalidLSN)
	buf := make([]byte, rec.Size())
	rec.WriteTo(buf)

	// A total_len below the header size is corruption.
	buf[8] = 1
	buf[9], buf[10], buf[11] = 0, 0, 0
	_, err := ParseLogRecord(buf)
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.InternalError))
}

func TestLogManagerAppendFlushIterate(t *testing.T) {
	dir := t.TempDir()
	lm, err := NewLogManager(dir)
	require.NoError(t, err)

	lsn0, err := lm.Append(NewBeginRecord(1, common.InvalidLSN))
	require.NoError(t, err)
	lsn1, err := lm.Append(NewInsertRecord(1, lsn0, "t", common.Rid{PageNo: 1, SlotNo: 0}, []byte{0xAB}))
	require.NoError(t, err)
	lsn2, err := lm.Append(NewCommitRecord(1, lsn1))
	require.NoError(t, err)

	assert.Equal(t, common.LSN(0), lsn0)
	assert.Equal(t, common.LSN(2), lsn2)
	require.NoError(t, lm.Flush())
	assert.Equal(t, lsn2, lm.PersistLSN())

	iter, err := lm.Iterator()
	require.NoError(t, err)
	var types []LogRecordType
	for iter.Next() {
		types = append(types, iter.Record().Type)
	}
	require.NoError(t, iter.Err())
	require.NoError(t, iter.Close())
	assert.Equal(t, []LogRecordType{LogBegin, LogInsert, LogCommit}, types)
	require.NoError(t, lm.Close())
}

func TestLogManagerResumesLSNCounter(t *testing.T) {
	dir := t.TempDir()
	lm, err := NewLogManager(dir)
	require.NoError(t, err)
	_, err = lm.Append(NewBeginRecord(1, common.InvalidLSN))
	require.NoError(t, err)
	_, err = lm.Append(NewCommitRecord(1, 0))
	require.NoError(t, err)
	require.NoError(t, lm.Close())

	reopened, err := NewLogManager(dir)
	require.NoError(t, err)
	lsn, err := reopened.Append(NewBeginRecord(2, common.InvalidLSN))
	require.NoError(t, err)
	assert.Equal(t, common.LSN(2), lsn)
	require.NoError(t, reopened.Close())
}
