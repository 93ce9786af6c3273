package recovery

import (
	jerrors "github.com/juju/errors"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-txstore/logger"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/buffer_pool"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/logs"
)

// ErrUnboundBuffer 缓冲未绑定任何块
var ErrUnboundBuffer = errors.New("buffer is not bound to a block")

// RecoveryManager logs the changes of one transaction and undoes them on rollback.
// Dirty pages are forced to disk before COMMIT is written, so recovery never redoes.
type RecoveryManager struct {
	tx    Undoer
	txNum int
	lm    *logs.LogManager
	bp    *buffer_pool.BufferPool
}

// NewRecoveryManager writes a START record for txNum.
func NewRecoveryManager(tx Undoer, txNum int, lm *logs.LogManager, bp *buffer_pool.BufferPool) (*RecoveryManager, error) {
	if _, err := WriteStartToLog(lm, txNum); err != nil {
		return nil, jerrors.Annotatef(err, "start tx %d", txNum)
	}
	return &RecoveryManager{tx: tx, txNum: txNum, lm: lm, bp: bp}, nil
}

// Commit flushes the transaction's pages, then writes and flushes COMMIT.
func (rm *RecoveryManager) Commit() error {
	if err := rm.bp.FlushAll(rm.txNum); err != nil {
		return jerrors.Annotatef(err, "commit tx %d", rm.txNum)
	}
	lsn, err := WriteCommitToLog(rm.lm, rm.txNum)
	if err != nil {
		return jerrors.Trace(err)
	}
	return rm.lm.Flush(lsn)
}

// Rollback undoes the transaction's changes, newest first, then writes ROLLBACK.
func (rm *RecoveryManager) Rollback() error {
	if err := rm.doRollback(); err != nil {
		return jerrors.Annotatef(err, "rollback tx %d", rm.txNum)
	}
	if err := rm.bp.FlushAll(rm.txNum); err != nil {
		return jerrors.Trace(err)
	}
	lsn, err := WriteRollbackToLog(rm.lm, rm.txNum)
	if err != nil {
		return jerrors.Trace(err)
	}
	return rm.lm.Flush(lsn)
}

// Recover undoes every unfinished transaction back to the last checkpoint and
// writes a new CHECKPOINT. It must run before any other transaction starts.
func (rm *RecoveryManager) Recover() error {
	if err := rm.doRecover(); err != nil {
		return jerrors.Annotate(err, "recover")
	}
	if err := rm.bp.FlushAll(rm.txNum); err != nil {
		return jerrors.Trace(err)
	}
	lsn, err := WriteCheckpointToLog(rm.lm)
	if err != nil {
		return jerrors.Trace(err)
	}
	return rm.lm.Flush(lsn)
}

// SetInt logs the int currently at offset of buf and returns the record's LSN.
// It must be called before the buffer is modified.
func (rm *RecoveryManager) SetInt(buf *buffer_pool.Buffer, offset int) (int, error) {
	blk, ok := buf.Block()
	if !ok {
		return -1, ErrUnboundBuffer
	}
	if err := buf.Contents().CheckInt(offset); err != nil {
		return -1, err
	}
	oldVal := buf.Contents().GetInt(offset)
	return WriteSetIntToLog(rm.lm, rm.txNum, blk, offset, oldVal)
}

// SetString logs the string currently at offset of buf and returns the record's LSN.
// It fails with file.ErrOutOfRange when no valid string is stored there.
func (rm *RecoveryManager) SetString(buf *buffer_pool.Buffer, offset int) (int, error) {
	blk, ok := buf.Block()
	if !ok {
		return -1, ErrUnboundBuffer
	}
	if err := buf.Contents().CheckBytes(offset); err != nil {
		return -1, err
	}
	oldVal := buf.Contents().GetString(offset)
	return WriteSetStringToLog(rm.lm, rm.txNum, blk, offset, oldVal)
}

func (rm *RecoveryManager) doRollback() error {
	return scanLog(rm.lm, func(rec *LogRecord) (bool, error) {
		if rec.TxNum != rm.txNum {
			return true, nil
		}
		if rec.Op == START {
			return false, nil
		}
		return true, rec.Undo(rm.tx)
	})
}

func (rm *RecoveryManager) doRecover() error {
	finished := make(map[int]struct{})
	undone := 0
	err := scanLog(rm.lm, func(rec *LogRecord) (bool, error) {
		switch rec.Op {
		case CHECKPOINT:
			return false, nil
		case COMMIT, ROLLBACK:
			finished[rec.TxNum] = struct{}{}
			return true, nil
		}
		if _, ok := finished[rec.TxNum]; ok {
			return true, nil
		}
		if rec.Op == SETINT || rec.Op == SETSTRING {
			undone++
		}
		return true, rec.Undo(rm.tx)
	})
	if err != nil {
		return err
	}
	logger.Infof("recovery undid %d updates, %d transactions finished since last checkpoint", undone, len(finished))
	return nil
}

// scanLog visits records newest first until fn returns false. A corrupt block or
// record ends the scan quietly since a crash may leave a half-written tail.
func scanLog(lm *logs.LogManager, fn func(*LogRecord) (bool, error)) error {
	it, err := lm.Iterator()
	if err != nil {
		if logs.IsCorrupt(err) {
			logger.Warnf("log unreadable, nothing to scan: %v", err)
			return nil
		}
		return err
	}
	for it.HasNext() {
		b, err := it.Next()
		if err != nil {
			if logs.IsCorrupt(err) {
				logger.Warnf("end of usable log: %v", err)
				return nil
			}
			return err
		}
		rec, err := DecodeLogRecord(b)
		if err != nil {
			logger.Warnf("end of usable log at %s: %v", it.Block(), err)
			return nil
		}
		more, err := fn(rec)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// MaxTxNumber scans the whole log and returns the largest transaction number in
// it, or 0 for an empty log.
func MaxTxNumber(lm *logs.LogManager) (int, error) {
	maxTx := 0
	err := scanLog(lm, func(rec *LogRecord) (bool, error) {
		if rec.TxNum > maxTx {
			maxTx = rec.TxNum
		}
		return true, nil
	})
	return maxTx, err
}
