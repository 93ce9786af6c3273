package logs

import (
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
)

// LogIterator walks the log from the newest record to the oldest, one block at a
// time, moving to the previous block when the current one is exhausted.
type LogIterator struct {
	fm         *file.FileManager
	blk        file.BlockID
	page       *file.Page
	currentPos int
}

func newLogIterator(fm *file.FileManager, blk file.BlockID) (*LogIterator, error) {
	it := &LogIterator{
		fm:   fm,
		blk:  blk,
		page: file.NewPage(fm.BlockSize()),
	}
	if err := it.moveToBlock(blk); err != nil {
		return nil, err
	}
	return it, nil
}

// HasNext reports whether an older record remains.
func (it *LogIterator) HasNext() bool {
	return it.currentPos < it.fm.BlockSize() || it.blk.Number > 0
}

// Next returns the next older record. ErrCorruptLog is returned when the block
// layout cannot be trusted; callers treat it as the end of the usable log.
func (it *LogIterator) Next() ([]byte, error) {
	blockSize := it.fm.BlockSize()
	if it.currentPos >= blockSize {
		if it.blk.Number == 0 {
			return nil, jerrors.Annotatef(ErrCorruptLog, "read past the first log block")
		}
		it.blk = file.NewBlockID(it.blk.FileName, it.blk.Number-1)
		if err := it.moveToBlock(it.blk); err != nil {
			return nil, err
		}
		// 空块: 继续向前
		if it.currentPos >= blockSize {
			return it.Next()
		}
	}
	if it.currentPos+file.IntSize > blockSize {
		return nil, jerrors.Annotatef(ErrCorruptLog, "record header outside %s", it.blk)
	}
	length := it.page.GetInt(it.currentPos)
	if length < 0 || it.currentPos+file.IntSize+length > blockSize {
		return nil, jerrors.Annotatef(ErrCorruptLog, "record length %d at %d in %s", length, it.currentPos, it.blk)
	}
	rec := it.page.GetBytes(it.currentPos)
	it.currentPos += file.IntSize + len(rec)
	return rec, nil
}

// Block 当前所在的日志块
func (it *LogIterator) Block() file.BlockID {
	return it.blk
}

func (it *LogIterator) moveToBlock(blk file.BlockID) error {
	if err := it.fm.Read(blk, it.page); err != nil {
		return jerrors.Trace(err)
	}
	boundary := it.page.GetInt(0)
	if boundary < file.IntSize || boundary > it.fm.BlockSize() {
		return jerrors.Annotatef(ErrCorruptLog, "boundary %d in %s", boundary, blk)
	}
	it.currentPos = boundary
	return nil
}

// OpenIterator reads logFile without a LogManager, for tools that inspect a log
// they do not own. Nothing is written; an unwritten tail block reads as empty.
func OpenIterator(fm *file.FileManager, logFile string) (*LogIterator, error) {
	size, err := fm.Length(logFile)
	if err != nil {
		return nil, jerrors.Trace(err)
	}
	it := &LogIterator{
		fm:         fm,
		blk:        file.NewBlockID(logFile, 0),
		page:       file.NewPage(fm.BlockSize()),
		currentPos: fm.BlockSize(),
	}
	if size == 0 {
		return it, nil
	}
	it.blk = file.NewBlockID(logFile, size-1)
	if err := it.moveToBlock(it.blk); err != nil {
		if !IsCorrupt(err) {
			return nil, err
		}
		it.currentPos = fm.BlockSize()
	}
	return it, nil
}
