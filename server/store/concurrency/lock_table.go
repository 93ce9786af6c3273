package concurrency

import (
	"errors"
	"sync/atomic"
	"time"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-txstore/logger"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/latch"
)

// DefaultMaxWait 默认锁等待时间
const DefaultMaxWait = 10 * time.Second

// 锁表中的状态值
const (
	lockFree      = 0  // 空闲
	lockExclusive = -1 // 排他持有
)

// ErrLockAbort 锁等待超时, 调用方必须回滚事务
var ErrLockAbort = errors.New("lock wait timed out")

// LockStats 锁统计信息
type LockStats struct {
	SharedGrants    uint64 // 共享锁授予次数
	ExclusiveGrants uint64 // 排他锁授予次数
	Timeouts        uint64 // 锁超时次数
}

// LockTable maps each locked block to its state: N>0 shared holders or -1 for a
// single exclusive holder. One latch guards the whole map and every release
// wakes all waiters, which then re-check their own condition.
type LockTable struct {
	latch   *latch.Latch
	cond    *latch.TimedCond
	locks   map[file.BlockID]int
	maxWait time.Duration

	sharedGrants    uint64
	exclusiveGrants uint64
	timeouts        uint64
}

// NewLockTable creates an empty table; zero maxWait selects DefaultMaxWait.
func NewLockTable(maxWait time.Duration) *LockTable {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	l := latch.NewLatch()
	return &LockTable{
		latch:   l,
		cond:    latch.NewTimedCond(l),
		locks:   make(map[file.BlockID]int),
		maxWait: maxWait,
	}
}

// IsLockAbort 检查是否为锁超时错误
func IsLockAbort(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrLockAbort) || jerrors.Cause(err) == ErrLockAbort
}

// SLock grants a shared lock on blk, waiting while another transaction holds it
// exclusively.
func (lt *LockTable) SLock(blk file.BlockID) error {
	lt.latch.Lock()
	defer lt.latch.Unlock()

	deadline := time.Now().Add(lt.maxWait)
	for lt.locks[blk] == lockExclusive {
		if !lt.cond.WaitUntil(deadline) && lt.locks[blk] == lockExclusive {
			return lt.abort("slock", blk)
		}
	}
	lt.locks[blk]++
	atomic.AddUint64(&lt.sharedGrants, 1)
	return nil
}

// XLock upgrades the caller's shared lock on blk to exclusive. The caller must
// already hold a shared lock, so the table waits until that lock is the only one.
func (lt *LockTable) XLock(blk file.BlockID) error {
	lt.latch.Lock()
	defer lt.latch.Unlock()

	deadline := time.Now().Add(lt.maxWait)
	for lt.hasOtherHolders(blk) {
		if !lt.cond.WaitUntil(deadline) && lt.hasOtherHolders(blk) {
			return lt.abort("xlock", blk)
		}
	}
	lt.locks[blk] = lockExclusive
	atomic.AddUint64(&lt.exclusiveGrants, 1)
	return nil
}

// Unlock releases one hold on blk and wakes every waiter.
func (lt *LockTable) Unlock(blk file.BlockID) {
	lt.latch.Lock()
	defer lt.latch.Unlock()

	if v := lt.locks[blk]; v > 1 {
		lt.locks[blk] = v - 1
	} else {
		delete(lt.locks, blk)
	}
	lt.cond.Broadcast()
}

// LockValue returns the raw state of blk: 0 free, N shared holders, -1 exclusive.
func (lt *LockTable) LockValue(blk file.BlockID) int {
	lt.latch.RLock()
	defer lt.latch.RUnlock()
	return lt.locks[blk]
}

// Stats 返回统计信息快照
func (lt *LockTable) Stats() LockStats {
	return LockStats{
		SharedGrants:    atomic.LoadUint64(&lt.sharedGrants),
		ExclusiveGrants: atomic.LoadUint64(&lt.exclusiveGrants),
		Timeouts:        atomic.LoadUint64(&lt.timeouts),
	}
}

// hasOtherHolders 除调用方自己的共享锁外是否还有持有者
func (lt *LockTable) hasOtherHolders(blk file.BlockID) bool {
	v := lt.locks[blk]
	if v == lockExclusive {
		return true
	}
	return v-1 > lockFree
}

func (lt *LockTable) abort(op string, blk file.BlockID) error {
	atomic.AddUint64(&lt.timeouts, 1)
	logger.Warnf("%s on %s timed out after %s", op, blk, lt.maxWait)
	return jerrors.Annotatef(ErrLockAbort, "%s %s", op, blk)
}
