package concurrency

import (
	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
)

// LockType 事务持有的锁类型
type LockType uint8

const (
	LOCK_S LockType = iota + 1 // 共享锁
	LOCK_X                     // 排他锁
)

func (t LockType) String() string {
	switch t {
	case LOCK_S:
		return "S"
	case LOCK_X:
		return "X"
	default:
		return "NONE"
	}
}

// ConcurrencyManager is the per-transaction view of the lock table. It remembers
// what the transaction holds so each block is locked at most once, and Release
// drops everything at the end of the transaction.
type ConcurrencyManager struct {
	lockTable *LockTable
	locks     map[file.BlockID]LockType
}

// NewConcurrencyManager 创建事务的并发管理器
func NewConcurrencyManager(lt *LockTable) *ConcurrencyManager {
	return &ConcurrencyManager{
		lockTable: lt,
		locks:     make(map[file.BlockID]LockType),
	}
}

// SLock obtains a shared lock on blk unless the transaction already holds a lock on it.
func (cm *ConcurrencyManager) SLock(blk file.BlockID) error {
	if _, ok := cm.locks[blk]; ok {
		return nil
	}
	if err := cm.lockTable.SLock(blk); err != nil {
		return err
	}
	cm.locks[blk] = LOCK_S
	return nil
}

// XLock obtains an exclusive lock on blk, taking a shared lock first.
func (cm *ConcurrencyManager) XLock(blk file.BlockID) error {
	if cm.hasXLock(blk) {
		return nil
	}
	if err := cm.SLock(blk); err != nil {
		return err
	}
	if err := cm.lockTable.XLock(blk); err != nil {
		return err
	}
	cm.locks[blk] = LOCK_X
	return nil
}

// Release unlocks every block held by the transaction.
func (cm *ConcurrencyManager) Release() {
	for blk := range cm.locks {
		cm.lockTable.Unlock(blk)
	}
	cm.locks = make(map[file.BlockID]LockType)
}

// Holds returns the lock type held on blk, or 0 when none.
func (cm *ConcurrencyManager) Holds(blk file.BlockID) LockType {
	return cm.locks[blk]
}

// Count 持有的锁数
func (cm *ConcurrencyManager) Count() int {
	return len(cm.locks)
}

func (cm *ConcurrencyManager) hasXLock(blk file.BlockID) bool {
	return cm.locks[blk] == LOCK_X
}
