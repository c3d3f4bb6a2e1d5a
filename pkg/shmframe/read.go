//go:build linux

package shmframe

import (
	"context"
	"sync/atomic"
)

// Read fetches the next frame into f. See ReadContext.
func (b *Block) Read(f *Frame, wait bool) Status {
	return b.ReadContext(context.Background(), f, wait)
}

// ReadContext fetches the frame after the last one this handle returned.
// If the reader fell behind by more than SlotCount frames it skips to the
// oldest frame still retained; with WithLatestOnly it always jumps to the
// newest.
//
// On success f.Data is a zero-copy view into the block and stays intact
// until the producer writes SlotCount-1 further frames; check f.Valid or use
// f.CopyTo before trusting it after that.
//
// When nothing new is available and wait is false the result is
// StatusNoNewFrame. With wait the call sleeps until a frame is published,
// the block is deactivated, the producer is found dead, or ctx is done
// (StatusNoNewFrame).
func (b *Block) ReadContext(ctx context.Context, f *Frame, wait bool) Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.seg == nil {
		return StatusBlockNotActive
	}
	h := b.seg.hdr

	for {
		if b.closing.Load() {
			return StatusBlockNotActive
		}
		seq := atomic.LoadUint32(&h.notify)
		if !h.isActive() {
			return StatusBlockNotActive
		}

		last := b.lastUID.Load()
		if newest := h.latestUID(); newest > last {
			if b.load(f, last, newest) {
				return StatusSuccess
			}
			// Every candidate slot was being rewritten; re-evaluate.
			continue
		}

		if !wait || ctx.Err() != nil {
			return StatusNoNewFrame
		}

		atomic.AddUint32(&h.waiters, 1)
		_ = futexWait(&h.notify, seq, b.cfg.livenessInterval)
		atomic.AddUint32(&h.waiters, ^uint32(0))

		if atomic.LoadUint32(&h.notify) == seq && !b.ownerAlive() {
			b.logger.Debug("Producer is gone while waiting for a frame")
			return StatusBlockNotActive
		}
	}
}

// load copies the metadata of the first intact frame in [target, newest]
// into f. A slot whose seq is odd or whose uid moved on is skipped: the
// writer is in it, or died in it.
func (b *Block) load(f *Frame, last, newest uint64) bool {
	h := b.seg.hdr
	target := newest
	if !b.cfg.latestOnly {
		target = last + 1
		if newest >= SlotCount && newest-SlotCount+1 > target {
			target = newest - SlotCount + 1
		}
	}

	for uid := target; uid <= newest; uid++ {
		slot := int(uid % SlotCount)
		m := &h.slots[slot]
		seq := atomic.LoadUint32(&m.seq)
		if seq&1 != 0 {
			continue
		}
		frameUID := atomic.LoadUint64(&m.frameUID)
		acquired := atomic.LoadUint64(&m.acquisitionTime)
		if atomic.LoadUint32(&m.seq) != seq || frameUID != uid {
			continue
		}

		*f = Frame{
			Width:           int(h.width),
			Height:          int(h.height),
			Depth:           int(h.depth),
			AcquisitionTime: acquired,
			FrameUID:        uid,
			Data:            b.views[slot],
			block:           b,
			meta:            m,
			seq:             seq,
		}
		b.lastUID.Store(uid)
		return true
	}
	return false
}
