package latch

import (
	"sync"
	"time"
)

// Latch 提供了一个简单的锁机制
type Latch struct {
	mu sync.RWMutex
}

// NewLatch 创建一个新的锁
func NewLatch() *Latch {
	return &Latch{}
}

// Lock 获取写锁
func (l *Latch) Lock() {
	l.mu.Lock()
}

// Unlock 释放写锁
func (l *Latch) Unlock() {
	l.mu.Unlock()
}

// RLock 获取读锁
func (l *Latch) RLock() {
	l.mu.RLock()
}

// RUnlock 释放读锁
func (l *Latch) RUnlock() {
	l.mu.RUnlock()
}

// TimedCond is a condition variable whose waits are bounded by a deadline.
// Broadcast wakes every waiter; each waiter re-checks its predicate itself.
type TimedCond struct {
	L  sync.Locker
	ch chan struct{} // 由L保护, Broadcast时关闭并替换
}

// NewTimedCond 创建一个绑定到l的条件变量
func NewTimedCond(l sync.Locker) *TimedCond {
	return &TimedCond{L: l, ch: make(chan struct{})}
}

// Broadcast wakes all goroutines waiting on c. The caller must hold c.L.
func (c *TimedCond) Broadcast() {
	if c.ch != nil {
		close(c.ch)
	}
	c.ch = make(chan struct{})
}

// WaitUntil releases c.L, waits for a Broadcast or for the deadline, and re-acquires
// c.L before returning. It returns false when the deadline passed without a wake-up.
// The caller must hold c.L.
func (c *TimedCond) WaitUntil(deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	if c.ch == nil {
		c.ch = make(chan struct{})
	}
	ch := c.ch

	c.L.Unlock()
	timer := time.NewTimer(remaining)
	var woken bool
	select {
	case <-ch:
		woken = true
	case <-timer.C:
	}
	timer.Stop()
	c.L.Lock()
	return woken
}
