package tx

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-txstore/server/store/buffer_pool"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
)

// BufferList tracks the buffers pinned by one transaction. A block pinned several
// times holds a single pool pin, released when its local count drops to zero.
type BufferList struct {
	bp      *buffer_pool.BufferPool
	buffers map[file.BlockID]*buffer_pool.Buffer
	pins    map[file.BlockID]int
}

// NewBufferList 创建事务的缓冲列表
func NewBufferList(bp *buffer_pool.BufferPool) *BufferList {
	return &BufferList{
		bp:      bp,
		buffers: make(map[file.BlockID]*buffer_pool.Buffer),
		pins:    make(map[file.BlockID]int),
	}
}

// Buffer returns the buffer pinned for blk.
func (bl *BufferList) Buffer(blk file.BlockID) (*buffer_pool.Buffer, bool) {
	buf, ok := bl.buffers[blk]
	return buf, ok
}

// Pin pins blk, going to the pool only for the first local pin.
func (bl *BufferList) Pin(blk file.BlockID) error {
	if _, ok := bl.buffers[blk]; !ok {
		buf, err := bl.bp.Pin(blk)
		if err != nil {
			return err
		}
		bl.buffers[blk] = buf
	}
	bl.pins[blk]++
	return nil
}

// Unpin drops one local pin on blk.
func (bl *BufferList) Unpin(blk file.BlockID) error {
	buf, ok := bl.buffers[blk]
	if !ok {
		return errors.Wrapf(ErrBlockNotPinned, "unpin %s", blk)
	}
	bl.pins[blk]--
	if bl.pins[blk] == 0 {
		bl.bp.Unpin(buf)
		delete(bl.buffers, blk)
		delete(bl.pins, blk)
	}
	return nil
}

// PinCount 事务对blk的固定次数
func (bl *BufferList) PinCount(blk file.BlockID) int {
	return bl.pins[blk]
}

// UnpinAll releases every buffer still pinned by the transaction.
func (bl *BufferList) UnpinAll() {
	for _, buf := range bl.buffers {
		bl.bp.Unpin(buf)
	}
	bl.buffers = make(map[file.BlockID]*buffer_pool.Buffer)
	bl.pins = make(map[file.BlockID]int)
}
