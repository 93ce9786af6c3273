package buffer_pool

import (
	"sync"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/logs"
)

// Buffer is one slot of the pool: a page, the block it is bound to (if any), a pin
// count and the transaction that last modified it.
type Buffer struct {
	fm       *file.FileManager
	lm       *logs.LogManager
	contents *file.Page

	// 以下字段由缓冲池的latch保护
	block file.BlockID
	bound bool
	pins  int

	mu    sync.Mutex // 保护txNum和lsn
	txNum int        // 修改该页的事务, -1表示未修改
	lsn   int        // 保护脏数据的最新日志记录
}

func newBuffer(fm *file.FileManager, lm *logs.LogManager) *Buffer {
	return &Buffer{
		fm:       fm,
		lm:       lm,
		contents: file.NewPage(fm.BlockSize()),
		txNum:    -1,
		lsn:      -1,
	}
}

// Contents 缓冲中的页面
func (b *Buffer) Contents() *file.Page {
	return b.contents
}

// Block returns the bound block; ok is false for a buffer that was never assigned.
func (b *Buffer) Block() (blk file.BlockID, ok bool) {
	return b.block, b.bound
}

// IsPinned 是否被固定
func (b *Buffer) IsPinned() bool {
	return b.pins > 0
}

// Pins 当前固定次数
func (b *Buffer) Pins() int {
	return b.pins
}

// SetModified records that txNum changed the page. A negative lsn means the change
// was not logged and keeps the previous LSN.
func (b *Buffer) SetModified(txNum, lsn int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txNum = txNum
	if lsn >= 0 {
		b.lsn = lsn
	}
}

// ModifyingTx returns the modifying transaction, or -1 for a clean buffer.
func (b *Buffer) ModifyingTx() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txNum
}

// LSN 最新日志记录号
func (b *Buffer) LSN() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lsn
}

// assignToBlock flushes the current contents and loads blk.
func (b *Buffer) assignToBlock(blk file.BlockID) error {
	if err := b.flush(); err != nil {
		return err
	}
	b.block = blk
	b.bound = true
	b.pins = 0
	if err := b.fm.Read(blk, b.contents); err != nil {
		b.bound = false
		return jerrors.Trace(err)
	}
	return nil
}

// flush writes a dirty page to disk, forcing the log up to its LSN first.
func (b *Buffer) flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txNum < 0 {
		return nil
	}
	if err := b.lm.Flush(b.lsn); err != nil {
		return jerrors.Trace(err)
	}
	if err := b.fm.Write(b.block, b.contents); err != nil {
		return jerrors.Trace(err)
	}
	b.txNum = -1
	return nil
}

func (b *Buffer) pin() {
	b.pins++
}

func (b *Buffer) unpin() {
	b.pins--
}
