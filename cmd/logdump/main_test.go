package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-txstore/server/store"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
)

// newTestStore 创建一个包含一个已提交事务的存储目录
func newTestStore(t *testing.T) (string, int) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	s, err := store.Open(store.DefaultConfig(dir))
	require.NoError(t, err)

	blk := file.NewBlockID("testfile", 1)
	tx, err := s.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.Pin(blk))
	require.NoError(t, tx.SetInt(blk, 80, 999, true))
	require.NoError(t, tx.SetString(blk, 120, "hello", true))
	require.NoError(t, tx.Commit())
	require.NoError(t, s.Close())
	return dir, tx.TxNum()
}

func flags(dir string) LogFlags {
	return LogFlags{Dir: dir, BlockSize: store.DefaultBlockSize, LogFile: store.DefaultLogFile}
}

func TestRecordsCmd(t *testing.T) {
	dir, txNum := newTestStore(t)

	var out bytes.Buffer
	cmd := &RecordsCmd{LogFlags: flags(dir), Tx: -1}
	require.NoError(t, cmd.run(&out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 5)
	assert.Contains(t, lines[0], "<COMMIT")
	assert.Contains(t, out.String(), "<SETINT")
	assert.Contains(t, out.String(), "[file testfile, block 1] 80 0>")
	assert.Contains(t, out.String(), "<SETSTRING")
	assert.Contains(t, lines[len(lines)-1], "records")

	out.Reset()
	cmd = &RecordsCmd{LogFlags: flags(dir), Tx: txNum}
	require.NoError(t, cmd.run(&out))
	assert.Contains(t, out.String(), "-- 4 records")

	// 只读检查不能修改日志
	info, err := os.Stat(filepath.Join(dir, store.DefaultLogFile))
	require.NoError(t, err)
	assert.Equal(t, int64(store.DefaultBlockSize), info.Size())
}

func TestBlocksCmd(t *testing.T) {
	dir, _ := newTestStore(t)

	var out bytes.Buffer
	require.NoError(t, (&BlocksCmd{LogFlags: flags(dir)}).run(&out))
	assert.Contains(t, out.String(), "[file simpledb.log, block 0]")
	assert.Contains(t, out.String(), "xxhash")
	assert.Contains(t, out.String(), "-- 1 blocks of 400 bytes")
}

func TestCountRecords(t *testing.T) {
	p := file.NewPage(64)
	p.SetInt(0, 64)
	assert.Equal(t, "0", countRecords(p, 64))

	p.SetBytes(54, []byte("abcdef"))
	p.SetInt(0, 54)
	assert.Equal(t, "1", countRecords(p, 54))

	p.SetInt(54, 1000)
	assert.Equal(t, "?", countRecords(p, 54))
	assert.Equal(t, "?", countRecords(p, 0))
}

func TestArchiveCmd(t *testing.T) {
	dir, _ := newTestStore(t)
	out := filepath.Join(t.TempDir(), "log.sz")

	var msg bytes.Buffer
	require.NoError(t, (&ArchiveCmd{LogFlags: flags(dir), Out: out}).run(&msg))
	assert.Contains(t, msg.String(), "archived 400 bytes")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	restored, err := io.ReadAll(snappy.NewReader(f))
	require.NoError(t, err)

	original, err := os.ReadFile(filepath.Join(dir, store.DefaultLogFile))
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}
