package recovery

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/logs"
)

// Operator is the leading integer of every log record.
type Operator int

const (
	CHECKPOINT Operator = iota
	START
	COMMIT
	ROLLBACK
	SETINT
	SETSTRING
)

func (op Operator) String() string {
	switch op {
	case CHECKPOINT:
		return "CHECKPOINT"
	case START:
		return "START"
	case COMMIT:
		return "COMMIT"
	case ROLLBACK:
		return "ROLLBACK"
	case SETINT:
		return "SETINT"
	case SETSTRING:
		return "SETSTRING"
	default:
		return fmt.Sprintf("OP(%d)", int(op))
	}
}

// checkpointTxNum 检查点记录不属于任何事务
const checkpointTxNum = -1

// ErrCorruptRecord 日志记录无法解码
var ErrCorruptRecord = errors.New("corrupt log record")

// Undoer is what a record needs to put an old value back: the transaction that
// owns the undo, which pins the block and writes without logging.
type Undoer interface {
	Pin(blk file.BlockID) error
	Unpin(blk file.BlockID) error
	SetInt(blk file.BlockID, offset int, val int, okToLog bool) error
	SetString(blk file.BlockID, offset int, val string, okToLog bool) error
}

// LogRecord is one decoded log entry. Block, Offset and the value fields are set
// only for SETINT and SETSTRING; IntVal and StrVal hold the value before the update.
type LogRecord struct {
	Op     Operator
	TxNum  int
	Block  file.BlockID
	Offset int
	IntVal int
	StrVal string
}

func NewStartRecord(txNum int) *LogRecord {
	return &LogRecord{Op: START, TxNum: txNum}
}

func NewCommitRecord(txNum int) *LogRecord {
	return &LogRecord{Op: COMMIT, TxNum: txNum}
}

func NewRollbackRecord(txNum int) *LogRecord {
	return &LogRecord{Op: ROLLBACK, TxNum: txNum}
}

func NewCheckpointRecord() *LogRecord {
	return &LogRecord{Op: CHECKPOINT, TxNum: checkpointTxNum}
}

func NewSetIntRecord(txNum int, blk file.BlockID, offset, oldVal int) *LogRecord {
	return &LogRecord{Op: SETINT, TxNum: txNum, Block: blk, Offset: offset, IntVal: oldVal}
}

func NewSetStringRecord(txNum int, blk file.BlockID, offset int, oldVal string) *LogRecord {
	return &LogRecord{Op: SETSTRING, TxNum: txNum, Block: blk, Offset: offset, StrVal: oldVal}
}

// String renders the record as <OP tx ...>.
func (r *LogRecord) String() string {
	switch r.Op {
	case CHECKPOINT:
		return "<CHECKPOINT>"
	case SETINT:
		return fmt.Sprintf("<SETINT %d %s %d %d>", r.TxNum, r.Block, r.Offset, r.IntVal)
	case SETSTRING:
		return fmt.Sprintf("<SETSTRING %d %s %d %s>", r.TxNum, r.Block, r.Offset, r.StrVal)
	default:
		return fmt.Sprintf("<%s %d>", r.Op, r.TxNum)
	}
}

// Bytes encodes the record:
//
//	CHECKPOINT:               op
//	START/COMMIT/ROLLBACK:    op | tx
//	SETINT/SETSTRING:         op | tx | filename | block | offset | value
//
// Integers are 4-byte big-endian, strings carry a 4-byte length prefix.
func (r *LogRecord) Bytes() []byte {
	if r.Op == CHECKPOINT {
		b := make([]byte, file.IntSize)
		file.NewPageFromBytes(b).SetInt(0, int(CHECKPOINT))
		return b
	}

	tpos := file.IntSize
	fpos := tpos + file.IntSize
	if r.Op != SETINT && r.Op != SETSTRING {
		b := make([]byte, fpos)
		p := file.NewPageFromBytes(b)
		p.SetInt(0, int(r.Op))
		p.SetInt(tpos, r.TxNum)
		return b
	}

	bpos := fpos + file.MaxLength(len(r.Block.FileName))
	opos := bpos + file.IntSize
	vpos := opos + file.IntSize
	size := vpos + file.IntSize
	if r.Op == SETSTRING {
		size = vpos + file.MaxLength(len(r.StrVal))
	}
	b := make([]byte, size)
	p := file.NewPageFromBytes(b)
	p.SetInt(0, int(r.Op))
	p.SetInt(tpos, r.TxNum)
	p.SetString(fpos, r.Block.FileName)
	p.SetInt(bpos, r.Block.Number)
	p.SetInt(opos, r.Offset)
	if r.Op == SETINT {
		p.SetInt(vpos, r.IntVal)
	} else {
		p.SetString(vpos, r.StrVal)
	}
	return b
}

// Undo restores the old value of a SETINT or SETSTRING without logging the change.
// The other kinds carry nothing to undo.
func (r *LogRecord) Undo(u Undoer) error {
	if r.Op != SETINT && r.Op != SETSTRING {
		return nil
	}
	if err := u.Pin(r.Block); err != nil {
		return err
	}
	var err error
	if r.Op == SETINT {
		err = u.SetInt(r.Block, r.Offset, r.IntVal, false)
	} else {
		err = u.SetString(r.Block, r.Offset, r.StrVal, false)
	}
	if uerr := u.Unpin(r.Block); err == nil {
		err = uerr
	}
	return err
}

// DecodeLogRecord parses b by its leading operator. Truncated or unknown records
// return an error wrapping ErrCorruptRecord.
func DecodeLogRecord(b []byte) (*LogRecord, error) {
	rd := &recordReader{page: file.NewPageFromBytes(b), size: len(b)}
	rec := &LogRecord{Op: Operator(rd.readInt())}
	if rd.err != nil {
		return nil, rd.err
	}
	switch rec.Op {
	case CHECKPOINT:
		rec.TxNum = checkpointTxNum
		return rec, nil
	case START, COMMIT, ROLLBACK:
		rec.TxNum = rd.readInt()
	case SETINT, SETSTRING:
		rec.TxNum = rd.readInt()
		name := rd.readString()
		rec.Block = file.NewBlockID(name, rd.readInt())
		rec.Offset = rd.readInt()
		if rec.Op == SETINT {
			rec.IntVal = rd.readInt()
		} else {
			rec.StrVal = rd.readString()
		}
	default:
		return nil, errors.Wrapf(ErrCorruptRecord, "unknown operator %d", int(rec.Op))
	}
	if rd.err != nil {
		return nil, errors.WithMessagef(rd.err, "decode %s", rec.Op)
	}
	return rec, nil
}

// IsCorruptRecord 检查是否为记录解码错误
func IsCorruptRecord(err error) bool {
	return err != nil && errors.Cause(err) == ErrCorruptRecord
}

// recordReader reads fields in order, remembering the first out-of-range access.
type recordReader struct {
	page *file.Page
	size int
	pos  int
	err  error
}

func (rd *recordReader) readInt() int {
	if rd.err != nil {
		return 0
	}
	if rd.pos+file.IntSize > rd.size {
		rd.err = errors.Wrapf(ErrCorruptRecord, "int at %d past end of %d-byte record", rd.pos, rd.size)
		return 0
	}
	v := rd.page.GetInt(rd.pos)
	rd.pos += file.IntSize
	return v
}

func (rd *recordReader) readString() string {
	n := rd.readInt()
	if rd.err != nil {
		return ""
	}
	if n < 0 || rd.pos+n > rd.size {
		rd.err = errors.Wrapf(ErrCorruptRecord, "string of %d bytes at %d past end of %d-byte record", n, rd.pos, rd.size)
		return ""
	}
	s := rd.page.GetString(rd.pos - file.IntSize)
	rd.pos += n
	return s
}

func writeToLog(lm *logs.LogManager, r *LogRecord) (int, error) {
	return lm.Append(r.Bytes())
}

// WriteStartToLog appends a START record and returns its LSN.
func WriteStartToLog(lm *logs.LogManager, txNum int) (int, error) {
	return writeToLog(lm, NewStartRecord(txNum))
}

// WriteCommitToLog appends a COMMIT record and returns its LSN.
func WriteCommitToLog(lm *logs.LogManager, txNum int) (int, error) {
	return writeToLog(lm, NewCommitRecord(txNum))
}

// WriteRollbackToLog appends a ROLLBACK record and returns its LSN.
func WriteRollbackToLog(lm *logs.LogManager, txNum int) (int, error) {
	return writeToLog(lm, NewRollbackRecord(txNum))
}

// WriteCheckpointToLog appends a CHECKPOINT record and returns its LSN.
func WriteCheckpointToLog(lm *logs.LogManager) (int, error) {
	return writeToLog(lm, NewCheckpointRecord())
}

// WriteSetIntToLog logs the value found at offset of blk before it is overwritten.
func WriteSetIntToLog(lm *logs.LogManager, txNum int, blk file.BlockID, offset, oldVal int) (int, error) {
	return writeToLog(lm, NewSetIntRecord(txNum, blk, offset, oldVal))
}

// WriteSetStringToLog logs the string found at offset of blk before it is overwritten.
func WriteSetStringToLog(lm *logs.LogManager, txNum int, blk file.BlockID, offset int, oldVal string) (int, error) {
	return writeToLog(lm, NewSetStringRecord(txNum, blk, offset, oldVal))
}
