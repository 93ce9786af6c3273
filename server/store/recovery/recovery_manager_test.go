package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-txstore/server/store/buffer_pool"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/logs"
)

var testBlock = file.NewBlockID("testfile", 1)

type testEnv struct {
	fm *file.FileManager
	lm *logs.LogManager
	bp *buffer_pool.BufferPool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fm, err := file.NewFileManager(t.TempDir(), 400)
	require.NoError(t, err)
	t.Cleanup(func() { fm.Close() })
	lm, err := logs.NewLogManager(fm, "simpledb.log")
	require.NoError(t, err)
	bp, err := buffer_pool.NewBufferPool(fm, lm, 8, time.Second)
	require.NoError(t, err)
	return &testEnv{fm: fm, lm: lm, bp: bp}
}

// poolTx is a minimal transaction: it pins through the pool and writes pages
// the way the transaction layer does, logging through its recovery manager.
type poolTx struct {
	t      *testing.T
	env    *testEnv
	txNum  int
	rm     *RecoveryManager
	pinned map[file.BlockID]*buffer_pool.Buffer
}

func (e *testEnv) begin(t *testing.T, txNum int) *poolTx {
	tx := &poolTx{t: t, env: e, txNum: txNum, pinned: make(map[file.BlockID]*buffer_pool.Buffer)}
	rm, err := NewRecoveryManager(tx, txNum, e.lm, e.bp)
	require.NoError(t, err)
	tx.rm = rm
	return tx
}

func (tx *poolTx) Pin(blk file.BlockID) error {
	buf, err := tx.env.bp.Pin(blk)
	if err != nil {
		return err
	}
	tx.pinned[blk] = buf
	return nil
}

func (tx *poolTx) Unpin(blk file.BlockID) error {
	tx.env.bp.Unpin(tx.pinned[blk])
	delete(tx.pinned, blk)
	return nil
}

func (tx *poolTx) SetInt(blk file.BlockID, offset int, val int, okToLog bool) error {
	buf := tx.pinned[blk]
	lsn := -1
	if okToLog {
		var err error
		if lsn, err = tx.rm.SetInt(buf, offset); err != nil {
			return err
		}
	}
	buf.Contents().SetInt(offset, val)
	buf.SetModified(tx.txNum, lsn)
	return nil
}

func (tx *poolTx) SetString(blk file.BlockID, offset int, val string, okToLog bool) error {
	buf := tx.pinned[blk]
	lsn := -1
	if okToLog {
		var err error
		if lsn, err = tx.rm.SetString(buf, offset); err != nil {
			return err
		}
	}
	buf.Contents().SetString(offset, val)
	buf.SetModified(tx.txNum, lsn)
	return nil
}

func (tx *poolTx) writeInt(blk file.BlockID, offset, val int) {
	require.NoError(tx.t, tx.Pin(blk))
	require.NoError(tx.t, tx.SetInt(blk, offset, val, true))
	require.NoError(tx.t, tx.Unpin(blk))
}

func (tx *poolTx) writeString(blk file.BlockID, offset int, val string) {
	require.NoError(tx.t, tx.Pin(blk))
	require.NoError(tx.t, tx.SetString(blk, offset, val, true))
	require.NoError(tx.t, tx.Unpin(blk))
}

func (e *testEnv) diskPage(t *testing.T, blk file.BlockID) *file.Page {
	p := file.NewPage(e.fm.BlockSize())
	require.NoError(t, e.fm.Read(blk, p))
	return p
}

func TestRecoveryManager_CommitForcesPages(t *testing.T) {
	env := newTestEnv(t)
	tx := env.begin(t, 1)
	tx.writeInt(testBlock, 80, 999)
	require.NoError(t, tx.rm.Commit())

	assert.Equal(t, 999, env.diskPage(t, testBlock).GetInt(80))
	assert.Equal(t, env.lm.LatestLSN(), env.lm.LastSavedLSN())
}

func TestRecoveryManager_Rollback(t *testing.T) {
	env := newTestEnv(t)

	t1 := env.begin(t, 1)
	t1.writeInt(testBlock, 80, 999)
	t1.writeString(testBlock, 200, "kept")
	require.NoError(t, t1.rm.Commit())

	t2 := env.begin(t, 2)
	t2.writeInt(testBlock, 80, 12345)
	t2.writeInt(testBlock, 80, 54321)
	t2.writeString(testBlock, 200, "scratch")
	require.NoError(t, t2.rm.Rollback())

	p := env.diskPage(t, testBlock)
	assert.Equal(t, 999, p.GetInt(80))
	assert.Equal(t, "kept", p.GetString(200))
}

func TestRecoveryManager_RecoverUndoesUnfinished(t *testing.T) {
	env := newTestEnv(t)

	t1 := env.begin(t, 1)
	t1.writeInt(testBlock, 80, 999)
	require.NoError(t, t1.rm.Commit())

	t2 := env.begin(t, 2)
	t2.writeInt(testBlock, 80, 12345)
	t2.writeString(testBlock, 120, "dirty")
	// 模拟崩溃前脏页已写回磁盘
	require.NoError(t, env.bp.FlushAll(2))
	require.Equal(t, 12345, env.diskPage(t, testBlock).GetInt(80))

	t3 := env.begin(t, 3)
	require.NoError(t, t3.rm.Recover())

	p := env.diskPage(t, testBlock)
	assert.Equal(t, 999, p.GetInt(80))
	assert.Equal(t, "", p.GetString(120))

	// 恢复以检查点结束
	it, err := env.lm.Iterator()
	require.NoError(t, err)
	b, err := it.Next()
	require.NoError(t, err)
	rec, err := DecodeLogRecord(b)
	require.NoError(t, err)
	assert.Equal(t, CHECKPOINT, rec.Op)
}

func TestRecoveryManager_RecoverRestoresStrings(t *testing.T) {
	env := newTestEnv(t)

	t1 := env.begin(t, 1)
	t1.writeString(testBlock, 120, "alpha")
	require.NoError(t, t1.rm.Commit())

	t2 := env.begin(t, 2)
	t2.writeString(testBlock, 120, "omega-dirty")
	t2.writeString(testBlock, 200, "scratch")
	require.NoError(t, env.bp.FlushAll(2))
	p := env.diskPage(t, testBlock)
	require.Equal(t, "omega-dirty", p.GetString(120))
	require.Equal(t, "scratch", p.GetString(200))

	// 崩溃后用新的缓冲池重新打开
	bp, err := buffer_pool.NewBufferPool(env.fm, env.lm, 8, time.Second)
	require.NoError(t, err)
	env.bp = bp
	t3 := env.begin(t, 3)
	require.NoError(t, t3.rm.Recover())

	p = env.diskPage(t, testBlock)
	assert.Equal(t, "alpha", p.GetString(120))
	assert.Equal(t, "", p.GetString(200))
	assert.Equal(t, 0, p.GetInt(200))
}

func TestRecoveryManager_SetStringRejectsBadPreImage(t *testing.T) {
	env := newTestEnv(t)
	tx := env.begin(t, 1)
	tx.writeInt(testBlock, 80, -1)

	require.NoError(t, tx.Pin(testBlock))
	before := env.lm.LatestLSN()
	_, err := tx.rm.SetString(tx.pinned[testBlock], 80)
	assert.True(t, file.IsOutOfRange(err))
	_, err = tx.rm.SetInt(tx.pinned[testBlock], 398)
	assert.True(t, file.IsOutOfRange(err))
	assert.Equal(t, before, env.lm.LatestLSN())
	require.NoError(t, tx.Unpin(testBlock))
}

func TestRecoveryManager_RecoverStopsAtCheckpoint(t *testing.T) {
	env := newTestEnv(t)

	t1 := env.begin(t, 1)
	t1.writeInt(testBlock, 80, 7)
	require.NoError(t, env.bp.FlushAll(1))
	_, err := WriteCheckpointToLog(env.lm)
	require.NoError(t, err)

	t2 := env.begin(t, 2)
	require.NoError(t, t2.rm.Recover())
	assert.Equal(t, 7, env.diskPage(t, testBlock).GetInt(80))
}

func TestRecoveryManager_CorruptTailEndsScan(t *testing.T) {
	env := newTestEnv(t)

	t1 := env.begin(t, 1)
	t1.writeInt(testBlock, 80, 999)
	require.NoError(t, t1.rm.Commit())

	// 半写的记录
	_, err := env.lm.Append([]byte{0, 0, 0, 4, 0, 0})
	require.NoError(t, err)

	t2 := env.begin(t, 2)
	require.NoError(t, t2.rm.Recover())
	assert.Equal(t, 999, env.diskPage(t, testBlock).GetInt(80))
}

func TestMaxTxNumber(t *testing.T) {
	env := newTestEnv(t)

	n, err := MaxTxNumber(env.lm)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, txNum := range []int{1, 5, 3} {
		env.begin(t, txNum)
	}
	_, err = WriteCheckpointToLog(env.lm)
	require.NoError(t, err)

	n, err = MaxTxNumber(env.lm)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
