//go:build linux

package shmframe

import (
	"fmt"
	"sync/atomic"
)

// lockWrite acquires the cross-process write lock. The lock word holds the
// holder's pid; a holder that died while holding it poisons the block and
// the caller gets ErrPoisoned instead of waiting forever. Callers hold b.mu.
func (b *Block) lockWrite() error {
	h := b.seg.hdr
	for {
		if atomic.CompareAndSwapUint32(&h.lock, 0, b.pid) {
			return nil
		}
		holder := atomic.LoadUint32(&h.lock)
		if holder == 0 {
			continue
		}
		if !processAlive(int(holder), 0) {
			return newError(CodePoisoned, b.name, fmt.Sprintf("write lock held by dead pid %d", holder), nil)
		}
		if b.closing.Load() {
			return newError(CodeClosed, b.name, "handle is closed", nil)
		}
		atomic.AddUint32(&h.lockWaiters, 1)
		_ = futexWait(&h.lock, holder, b.cfg.livenessInterval)
		atomic.AddUint32(&h.lockWaiters, ^uint32(0))
	}
}

func (b *Block) unlockWrite() {
	h := b.seg.hdr
	atomic.StoreUint32(&h.lock, 0)
	if atomic.LoadUint32(&h.lockWaiters) > 0 {
		_ = futexWakeAll(&h.lock)
	}
}
