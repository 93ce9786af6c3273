package tx

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-txstore/logger"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/buffer_pool"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/concurrency"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/logs"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/recovery"
)

var (
	// ErrTxNotActive 事务已提交或已回滚
	ErrTxNotActive = errors.New("transaction is not active")
	// ErrBlockNotPinned 事务未固定该块
	ErrBlockNotPinned = errors.New("block is not pinned by the transaction")
)

// 事务状态
const (
	TX_STATE_ACTIVE uint8 = iota
	TX_STATE_COMMITTED
	TX_STATE_ROLLED_BACK
)

// IsAbort reports whether err is a buffer or lock timeout. The transaction that
// got it must be rolled back.
func IsAbort(err error) bool {
	return buffer_pool.IsBufferAbort(err) || concurrency.IsLockAbort(err)
}

// Transaction gives one client serializable access to blocks. Reads take a
// shared lock, writes an exclusive lock and an undo record of the old value.
// Locks are held until Commit or Rollback.
//
// A Transaction is used by a single goroutine.
type Transaction struct {
	txNum int
	state uint8

	fm *file.FileManager
	bp *buffer_pool.BufferPool
	rm *recovery.RecoveryManager
	cm *concurrency.ConcurrencyManager

	buffers *BufferList
}

// NewTransaction starts a transaction and writes its START record.
func NewTransaction(fm *file.FileManager, lm *logs.LogManager, bp *buffer_pool.BufferPool, lt *concurrency.LockTable) (*Transaction, error) {
	tx := &Transaction{
		txNum:   NextTxNumber(),
		state:   TX_STATE_ACTIVE,
		fm:      fm,
		bp:      bp,
		cm:      concurrency.NewConcurrencyManager(lt),
		buffers: NewBufferList(bp),
	}
	rm, err := recovery.NewRecoveryManager(tx, tx.txNum, lm, bp)
	if err != nil {
		return nil, err
	}
	tx.rm = rm
	return tx, nil
}

// TxNum 事务号
func (tx *Transaction) TxNum() int {
	return tx.txNum
}

// State 事务状态
func (tx *Transaction) State() uint8 {
	return tx.state
}

// Commit forces the transaction's changes and COMMIT record to disk, then
// releases its locks and pins.
func (tx *Transaction) Commit() error {
	if err := tx.checkActive("commit"); err != nil {
		return err
	}
	if err := tx.rm.Commit(); err != nil {
		return err
	}
	tx.finish(TX_STATE_COMMITTED)
	logger.Debugf("transaction %d committed", tx.txNum)
	return nil
}

// Rollback undoes the transaction's changes, writes ROLLBACK, then releases
// its locks and pins.
func (tx *Transaction) Rollback() error {
	if err := tx.checkActive("rollback"); err != nil {
		return err
	}
	if err := tx.rm.Rollback(); err != nil {
		return err
	}
	tx.finish(TX_STATE_ROLLED_BACK)
	logger.Debugf("transaction %d rolled back", tx.txNum)
	return nil
}

// Recover undoes every unfinished transaction in the log. It is run by a
// dedicated transaction at startup, before any other transaction begins.
func (tx *Transaction) Recover() error {
	if err := tx.checkActive("recover"); err != nil {
		return err
	}
	if err := tx.bp.FlushAll(tx.txNum); err != nil {
		return err
	}
	if err := tx.rm.Recover(); err != nil {
		return err
	}
	tx.finish(TX_STATE_COMMITTED)
	return nil
}

// Pin pins blk for this transaction.
func (tx *Transaction) Pin(blk file.BlockID) error {
	if err := tx.checkActive("pin"); err != nil {
		return err
	}
	return tx.buffers.Pin(blk)
}

// Unpin releases one pin on blk.
func (tx *Transaction) Unpin(blk file.BlockID) error {
	if err := tx.checkActive("unpin"); err != nil {
		return err
	}
	return tx.buffers.Unpin(blk)
}

// GetInt reads the int at offset of the pinned block blk under a shared lock.
func (tx *Transaction) GetInt(blk file.BlockID, offset int) (int, error) {
	buf, err := tx.readBuffer(blk)
	if err != nil {
		return 0, err
	}
	if err := buf.Contents().CheckInt(offset); err != nil {
		return 0, err
	}
	return buf.Contents().GetInt(offset), nil
}

// GetString reads the string at offset of the pinned block blk under a shared lock.
func (tx *Transaction) GetString(blk file.BlockID, offset int) (string, error) {
	buf, err := tx.readBuffer(blk)
	if err != nil {
		return "", err
	}
	if err := buf.Contents().CheckBytes(offset); err != nil {
		return "", err
	}
	return buf.Contents().GetString(offset), nil
}

// SetInt writes val at offset of the pinned block blk under an exclusive lock.
// With okToLog the old value is logged first; without it the change cannot be
// undone, which suits formatting a brand-new block.
func (tx *Transaction) SetInt(blk file.BlockID, offset int, val int, okToLog bool) error {
	buf, err := tx.writeBuffer(blk)
	if err != nil {
		return err
	}
	if err := buf.Contents().CheckInt(offset); err != nil {
		return err
	}
	lsn := -1
	if okToLog {
		if lsn, err = tx.rm.SetInt(buf, offset); err != nil {
			return err
		}
	}
	buf.Contents().SetInt(offset, val)
	buf.SetModified(tx.txNum, lsn)
	return nil
}

// SetString writes val at offset of the pinned block blk under an exclusive lock.
// A value that does not fit in the block, or a logged overwrite of bytes that do
// not hold a string, fails with file.ErrOutOfRange and leaves the page unchanged.
func (tx *Transaction) SetString(blk file.BlockID, offset int, val string, okToLog bool) error {
	buf, err := tx.writeBuffer(blk)
	if err != nil {
		return err
	}
	if err := buf.Contents().CheckFits(offset, len(file.EncodeASCII(val))); err != nil {
		return err
	}
	lsn := -1
	if okToLog {
		if lsn, err = tx.rm.SetString(buf, offset); err != nil {
			return err
		}
	}
	buf.Contents().SetString(offset, val)
	buf.SetModified(tx.txNum, lsn)
	return nil
}

// Size returns the number of blocks in fileName. The shared lock on the
// end-of-file marker keeps other transactions from appending meanwhile.
func (tx *Transaction) Size(fileName string) (int, error) {
	if err := tx.checkActive("size"); err != nil {
		return 0, err
	}
	if err := tx.cm.SLock(file.EndOfFileBlock(fileName)); err != nil {
		return 0, err
	}
	return tx.fm.Length(fileName)
}

// Append extends fileName by one zeroed block and returns it.
func (tx *Transaction) Append(fileName string) (file.BlockID, error) {
	if err := tx.checkActive("append"); err != nil {
		return file.BlockID{}, err
	}
	if err := tx.cm.XLock(file.EndOfFileBlock(fileName)); err != nil {
		return file.BlockID{}, err
	}
	return tx.fm.Append(fileName)
}

// BlockSize 块大小
func (tx *Transaction) BlockSize() int {
	return tx.fm.BlockSize()
}

// AvailableBuffers 缓冲池中未固定的缓冲数
func (tx *Transaction) AvailableBuffers() int {
	return tx.bp.Available()
}

func (tx *Transaction) readBuffer(blk file.BlockID) (*buffer_pool.Buffer, error) {
	if err := tx.checkActive("read"); err != nil {
		return nil, err
	}
	buf, ok := tx.buffers.Buffer(blk)
	if !ok {
		return nil, errors.Wrapf(ErrBlockNotPinned, "tx %d read %s", tx.txNum, blk)
	}
	if err := tx.cm.SLock(blk); err != nil {
		return nil, err
	}
	return buf, nil
}

func (tx *Transaction) writeBuffer(blk file.BlockID) (*buffer_pool.Buffer, error) {
	if err := tx.checkActive("write"); err != nil {
		return nil, err
	}
	buf, ok := tx.buffers.Buffer(blk)
	if !ok {
		return nil, errors.Wrapf(ErrBlockNotPinned, "tx %d write %s", tx.txNum, blk)
	}
	if err := tx.cm.XLock(blk); err != nil {
		return nil, err
	}
	return buf, nil
}

func (tx *Transaction) checkActive(op string) error {
	if tx.state != TX_STATE_ACTIVE {
		return errors.Wrapf(ErrTxNotActive, "tx %d %s", tx.txNum, op)
	}
	return nil
}

func (tx *Transaction) finish(state uint8) {
	tx.cm.Release()
	tx.buffers.UnpinAll()
	tx.state = state
}
