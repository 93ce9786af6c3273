package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/tx"
)

func readInt(t *testing.T, s *Store, blk file.BlockID, offset int) int {
	t.Helper()
	t1, err := s.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, t1.Pin(blk))
	v, err := t1.GetInt(blk, offset)
	require.NoError(t, err)
	require.NoError(t, t1.Commit())
	return v
}

func TestOpen_Defaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	cfg := s.Config()
	assert.Equal(t, DefaultBlockSize, cfg.BlockSize)
	assert.Equal(t, DefaultBufferCount, cfg.BufferCount)
	assert.Equal(t, DefaultLogFile, cfg.LogFile)
	assert.Equal(t, DefaultMaxWait, cfg.MaxWait)
	assert.True(t, s.FileManager().IsNew())
	assert.Equal(t, DefaultBufferCount, s.BufferPool().Available())
	assert.NotNil(t, s.LockTable())

	_, err = os.Stat(filepath.Join(dir, DefaultLogFile))
	assert.NoError(t, err)
}

func TestOpen_EmptyDir(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestStore_CrashRecovery(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	blk := file.NewBlockID("testfile", 1)

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { s.FileManager().Close() })

	t1, err := s.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, t1.Pin(blk))
	require.NoError(t, t1.SetInt(blk, 80, 999, true))
	require.NoError(t, t1.Commit())

	assert.Equal(t, 999, readInt(t, s, blk, 80))

	t3, err := s.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, t3.Pin(blk))
	require.NoError(t, t3.SetInt(blk, 80, 12345, true))
	// 脏页在崩溃前已被写回
	require.NoError(t, s.BufferPool().FlushAll(t3.TxNum()))

	p := file.NewPage(s.FileManager().BlockSize())
	require.NoError(t, s.FileManager().Read(blk, p))
	require.Equal(t, 12345, p.GetInt(80))

	// 崩溃: 既不提交也不回滚, 直接重新打开
	s2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s2.Close()
	assert.False(t, s2.FileManager().IsNew())

	assert.Equal(t, 999, readInt(t, s2, blk, 80))

	t4, err := s2.NewTransaction()
	require.NoError(t, err)
	assert.Greater(t, t4.TxNum(), t3.TxNum())
	require.NoError(t, t4.Rollback())
}

func TestStore_ReopenKeepsCommitted(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	blk := file.NewBlockID("accounts.tbl", 0)

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	t1, err := s.NewTransaction()
	require.NoError(t, err)
	appended, err := t1.Append("accounts.tbl")
	require.NoError(t, err)
	require.Equal(t, blk, appended)
	require.NoError(t, t1.Pin(blk))
	require.NoError(t, t1.SetString(blk, 0, "alice", true))
	require.NoError(t, t1.SetInt(blk, 40, 100, true))
	require.NoError(t, t1.Commit())
	require.NoError(t, s.Close())

	// 残留的临时表在重新打开时删除
	require.NoError(t, os.WriteFile(filepath.Join(dir, "temp7"), []byte("x"), 0644))

	s2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s2.Close()

	_, err = os.Stat(filepath.Join(dir, "temp7"))
	assert.True(t, os.IsNotExist(err))

	t2, err := s2.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, t2.Pin(blk))
	name, err := t2.GetString(blk, 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
	bal, err := t2.GetInt(blk, 40)
	require.NoError(t, err)
	assert.Equal(t, 100, bal)
	n, err := t2.Size("accounts.tbl")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, t2.Commit())
	assert.Equal(t, tx.TX_STATE_COMMITTED, t2.State())
}
