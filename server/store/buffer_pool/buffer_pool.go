package buffer_pool

import (
	"sync/atomic"
	"time"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-txstore/logger"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/latch"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/logs"
)

// DefaultMaxWait 默认的最长等待时间
const DefaultMaxWait = 10 * time.Second

// BufferPool is a fixed array of buffers created once. A buffer is reassigned to a
// new block only when nobody pins it; the first unpinned buffer found is chosen.
type BufferPool struct {
	latch *latch.Latch
	cond  *latch.TimedCond

	buffers      []*Buffer
	numAvailable int
	maxWait      time.Duration

	// Statistics
	hitCount      uint64 // 命中已绑定的缓冲
	missCount     uint64 // 需要从磁盘读取
	evictionCount uint64 // 重新绑定了已绑定的缓冲
	timeoutCount  uint64 // 等待超时次数
}

// BufferPoolStats 缓冲池统计信息
type BufferPoolStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Timeouts  uint64
}

// HitRatio returns the cache hit ratio
func (s BufferPoolStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// NewBufferPool creates numBuffers buffers. maxWait bounds how long Pin waits for
// a buffer to become free; zero selects DefaultMaxWait.
func NewBufferPool(fm *file.FileManager, lm *logs.LogManager, numBuffers int, maxWait time.Duration) (*BufferPool, error) {
	if numBuffers <= 0 {
		return nil, jerrors.Annotatef(ErrInvalidConfig, "buffer count %d", numBuffers)
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	l := latch.NewLatch()
	bp := &BufferPool{
		latch:        l,
		cond:         latch.NewTimedCond(l),
		buffers:      make([]*Buffer, numBuffers),
		numAvailable: numBuffers,
		maxWait:      maxWait,
	}
	for i := range bp.buffers {
		bp.buffers[i] = newBuffer(fm, lm)
	}
	return bp, nil
}

// Available returns the number of unpinned buffers.
func (bp *BufferPool) Available() int {
	bp.latch.Lock()
	defer bp.latch.Unlock()
	return bp.numAvailable
}

// Size 缓冲总数
func (bp *BufferPool) Size() int {
	return len(bp.buffers)
}

// FlushAll writes every buffer modified by txNum to disk.
func (bp *BufferPool) FlushAll(txNum int) error {
	bp.latch.Lock()
	defer bp.latch.Unlock()
	for _, buf := range bp.buffers {
		if buf.ModifyingTx() == txNum {
			if err := buf.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Unpin releases one pin on buf and wakes waiters when it becomes free.
func (bp *BufferPool) Unpin(buf *Buffer) {
	bp.latch.Lock()
	defer bp.latch.Unlock()
	if !buf.IsPinned() {
		blk, _ := buf.Block()
		logger.Warnf("unpin of unpinned buffer %s ignored", blk)
		return
	}
	buf.unpin()
	if !buf.IsPinned() {
		bp.numAvailable++
		bp.cond.Broadcast()
	}
}

// Pin binds a buffer to blk and pins it, waiting up to maxWait for a free buffer.
// On timeout it returns ErrBufferAbort and the calling transaction must roll back.
func (bp *BufferPool) Pin(blk file.BlockID) (*Buffer, error) {
	bp.latch.Lock()
	defer bp.latch.Unlock()

	deadline := time.Now().Add(bp.maxWait)
	buf, err := bp.tryToPin(blk)
	for buf == nil && err == nil && bp.cond.WaitUntil(deadline) {
		buf, err = bp.tryToPin(blk)
	}
	if err != nil {
		return nil, NewError("pin", blk, err)
	}
	if buf == nil {
		atomic.AddUint64(&bp.timeoutCount, 1)
		logger.Warnf("no buffer available for %s after %s", blk, bp.maxWait)
		return nil, NewError("pin", blk, ErrBufferAbort)
	}
	return buf, nil
}

// Stats 返回统计信息快照
func (bp *BufferPool) Stats() BufferPoolStats {
	return BufferPoolStats{
		Hits:      atomic.LoadUint64(&bp.hitCount),
		Misses:    atomic.LoadUint64(&bp.missCount),
		Evictions: atomic.LoadUint64(&bp.evictionCount),
		Timeouts:  atomic.LoadUint64(&bp.timeoutCount),
	}
}

// tryToPin returns nil without error when every buffer is pinned. Caller holds the latch.
func (bp *BufferPool) tryToPin(blk file.BlockID) (*Buffer, error) {
	buf := bp.findExistingBuffer(blk)
	if buf != nil {
		atomic.AddUint64(&bp.hitCount, 1)
	} else {
		buf = bp.chooseUnpinnedBuffer()
		if buf == nil {
			return nil, nil
		}
		if _, bound := buf.Block(); bound {
			atomic.AddUint64(&bp.evictionCount, 1)
		}
		atomic.AddUint64(&bp.missCount, 1)
		if err := buf.assignToBlock(blk); err != nil {
			return nil, err
		}
	}
	if !buf.IsPinned() {
		bp.numAvailable--
	}
	buf.pin()
	return buf, nil
}

func (bp *BufferPool) findExistingBuffer(blk file.BlockID) *Buffer {
	for _, buf := range bp.buffers {
		if b, ok := buf.Block(); ok && b == blk {
			return buf
		}
	}
	return nil
}

func (bp *BufferPool) chooseUnpinnedBuffer() *Buffer {
	for _, buf := range bp.buffers {
		if !buf.IsPinned() {
			return buf
		}
	}
	return nil
}
