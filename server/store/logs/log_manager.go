package logs

import (
	"errors"
	"sync"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
)

var (
	// ErrRecordTooLarge 日志记录超过一个块的容量
	ErrRecordTooLarge = errors.New("log record does not fit in a block")
	// ErrCorruptLog 日志块边界或记录长度越界
	ErrCorruptLog = errors.New("corrupt log block")
)

// LogManager appends records to the log file. The tail block lives in an in-memory
// page; records are packed from the end of the page toward the boundary stored at
// offset 0, so a forward scan from the boundary yields the newest record first.
type LogManager struct {
	mu           sync.Mutex
	fm           *file.FileManager
	logFile      string
	logPage      *file.Page
	currentBlock file.BlockID
	latestLSN    int // 最近分配的LSN
	lastSavedLSN int // 最近落盘的LSN
}

// NewLogManager opens logFile, positioning at its last block or creating block 0.
func NewLogManager(fm *file.FileManager, logFile string) (*LogManager, error) {
	lm := &LogManager{
		fm:      fm,
		logFile: logFile,
		logPage: file.NewPage(fm.BlockSize()),
	}
	size, err := fm.Length(logFile)
	if err != nil {
		return nil, jerrors.Trace(err)
	}
	if size == 0 {
		if lm.currentBlock, err = lm.appendNewBlock(); err != nil {
			return nil, err
		}
		return lm, nil
	}
	lm.currentBlock = file.NewBlockID(logFile, size-1)
	if err := fm.Read(lm.currentBlock, lm.logPage); err != nil {
		return nil, jerrors.Trace(err)
	}
	// 尾块在写入边界前崩溃, 视为空块
	if boundary := lm.logPage.GetInt(0); boundary < file.IntSize || boundary > fm.BlockSize() {
		lm.resetPage()
	}
	return lm, nil
}

// IsCorrupt reports whether err marks the end of the usable log rather than an I/O failure.
func IsCorrupt(err error) bool {
	return err != nil && (errors.Is(err, ErrCorruptLog) || jerrors.Cause(err) == ErrCorruptLog)
}

// Append adds rec to the log and returns its LSN. The record is durable only
// after a Flush covering that LSN.
func (lm *LogManager) Append(rec []byte) (int, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	bytesNeeded := len(rec) + file.IntSize
	if bytesNeeded > lm.fm.BlockSize()-file.IntSize {
		return 0, jerrors.Annotatef(ErrRecordTooLarge, "record of %d bytes", len(rec))
	}
	boundary := lm.logPage.GetInt(0)
	if boundary-bytesNeeded < file.IntSize {
		// 当前块放不下, 写出并换到新块
		if err := lm.flush(); err != nil {
			return 0, err
		}
		blk, err := lm.appendNewBlock()
		if err != nil {
			return 0, err
		}
		lm.currentBlock = blk
		boundary = lm.logPage.GetInt(0)
	}
	recPos := boundary - bytesNeeded
	lm.logPage.SetBytes(recPos, rec)
	lm.logPage.SetInt(0, recPos)
	lm.latestLSN++
	return lm.latestLSN, nil
}

// Flush writes the tail page to disk unless lsn is older than the last flush.
func (lm *LogManager) Flush(lsn int) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lsn >= lm.lastSavedLSN {
		return lm.flush()
	}
	return nil
}

// Iterator flushes the log and returns an iterator positioned at the newest record.
func (lm *LogManager) Iterator() (*LogIterator, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if err := lm.flush(); err != nil {
		return nil, err
	}
	return newLogIterator(lm.fm, lm.currentBlock)
}

// LatestLSN 最近分配的LSN
func (lm *LogManager) LatestLSN() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.latestLSN
}

// LastSavedLSN 最近落盘的LSN
func (lm *LogManager) LastSavedLSN() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.lastSavedLSN
}

// CurrentBlock 当前日志尾块
func (lm *LogManager) CurrentBlock() file.BlockID {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.currentBlock
}

// LogFile 日志文件名
func (lm *LogManager) LogFile() string {
	return lm.logFile
}

// appendNewBlock extends the log by an empty block whose boundary is the block size.
func (lm *LogManager) appendNewBlock() (file.BlockID, error) {
	blk, err := lm.fm.Append(lm.logFile)
	if err != nil {
		return file.BlockID{}, jerrors.Trace(err)
	}
	lm.resetPage()
	if err := lm.fm.Write(blk, lm.logPage); err != nil {
		return file.BlockID{}, jerrors.Trace(err)
	}
	return blk, nil
}

func (lm *LogManager) resetPage() {
	page := lm.logPage.Contents()
	for i := range page {
		page[i] = 0
	}
	lm.logPage.SetInt(0, lm.fm.BlockSize())
}

func (lm *LogManager) flush() error {
	if err := lm.fm.Write(lm.currentBlock, lm.logPage); err != nil {
		return jerrors.Trace(err)
	}
	lm.lastSavedLSN = lm.latestLSN
	return nil
}
