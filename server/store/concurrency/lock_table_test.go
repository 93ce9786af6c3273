package concurrency

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
)

var testBlock = file.NewBlockID("testfile", 1)

func TestLockTable_SharedLocksStack(t *testing.T) {
	lt := NewLockTable(time.Second)
	require.NoError(t, lt.SLock(testBlock))
	require.NoError(t, lt.SLock(testBlock))
	assert.Equal(t, 2, lt.LockValue(testBlock))

	lt.Unlock(testBlock)
	assert.Equal(t, 1, lt.LockValue(testBlock))
	lt.Unlock(testBlock)
	assert.Equal(t, 0, lt.LockValue(testBlock))
}

func TestLockTable_UpgradeWithSoleShared(t *testing.T) {
	lt := NewLockTable(time.Second)
	require.NoError(t, lt.SLock(testBlock))
	require.NoError(t, lt.XLock(testBlock))
	assert.Equal(t, -1, lt.LockValue(testBlock))

	lt.Unlock(testBlock)
	assert.Equal(t, 0, lt.LockValue(testBlock))
}

func TestLockTable_XLockExcludesOtherShared(t *testing.T) {
	lt := NewLockTable(50 * time.Millisecond)
	// 另一个事务持有共享锁
	require.NoError(t, lt.SLock(testBlock))
	// 本事务持有共享锁后申请排他锁
	require.NoError(t, lt.SLock(testBlock))

	err := lt.XLock(testBlock)
	require.Error(t, err)
	assert.True(t, IsLockAbort(err))
	assert.Equal(t, 2, lt.LockValue(testBlock))
	assert.Equal(t, uint64(1), lt.Stats().Timeouts)
}

func TestLockTable_SLockTimesOutOnExclusive(t *testing.T) {
	lt := NewLockTable(50 * time.Millisecond)
	require.NoError(t, lt.SLock(testBlock))
	require.NoError(t, lt.XLock(testBlock))

	start := time.Now()
	err := lt.SLock(testBlock)
	assert.True(t, IsLockAbort(err))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestConcurrencyManager_SharedBlocksExclusiveUntilRelease(t *testing.T) {
	lt := NewLockTable(5 * time.Second)
	reader := NewConcurrencyManager(lt)
	writer := NewConcurrencyManager(lt)

	require.NoError(t, reader.SLock(testBlock))

	var granted int32
	var g errgroup.Group
	g.Go(func() error {
		if err := writer.XLock(testBlock); err != nil {
			return err
		}
		atomic.StoreInt32(&granted, 1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&granted), "exclusive lock granted while shared lock held")

	reader.Release()
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), atomic.LoadInt32(&granted))
	assert.Equal(t, LOCK_X, writer.Holds(testBlock))
	assert.Equal(t, -1, lt.LockValue(testBlock))

	writer.Release()
	assert.Equal(t, 0, lt.LockValue(testBlock))
}

func TestConcurrencyManager_ExclusiveIsExclusive(t *testing.T) {
	lt := NewLockTable(5 * time.Second)

	var inside, maxInside int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			cm := NewConcurrencyManager(lt)
			if err := cm.XLock(testBlock); err != nil {
				return err
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			cm.Release()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
	assert.Equal(t, 0, lt.LockValue(testBlock))
}

func TestConcurrencyManager_LocksOnce(t *testing.T) {
	lt := NewLockTable(time.Second)
	cm := NewConcurrencyManager(lt)

	require.NoError(t, cm.SLock(testBlock))
	require.NoError(t, cm.SLock(testBlock))
	assert.Equal(t, 1, lt.LockValue(testBlock))
	assert.Equal(t, LOCK_S, cm.Holds(testBlock))

	require.NoError(t, cm.XLock(testBlock))
	require.NoError(t, cm.XLock(testBlock))
	require.NoError(t, cm.SLock(testBlock))
	assert.Equal(t, -1, lt.LockValue(testBlock))
	assert.Equal(t, 1, cm.Count())

	cm.Release()
	assert.Equal(t, 0, cm.Count())
	assert.Equal(t, LockType(0), cm.Holds(testBlock))
	assert.Equal(t, 0, lt.LockValue(testBlock))
}
