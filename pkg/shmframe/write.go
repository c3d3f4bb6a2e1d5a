//go:build linux

package shmframe

import "sync/atomic"

// Write publishes one frame. The shape must equal the block geometry and data
// must hold at least width*height*depth bytes. Only the owner handle may
// write; any other handle, or a deactivated block, yields
// StatusBlockNotActive.
//
// The pixels are copied into the slot after the latest frame, so a reader
// holding a view of an older frame is unaffected for SlotCount-1 writes.
func (b *Block) Write(width, height, depth int, acquisitionTime uint64, data []byte) Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.seg == nil || b.closing.Load() {
		return StatusBlockNotActive
	}
	h := b.seg.hdr

	if width <= 0 || height <= 0 || depth <= 0 ||
		uint64(width) != h.width || uint64(height) != h.height || uint64(depth) != h.depth ||
		uint64(len(data)) < h.imageSize {
		return StatusFrameSizeMismatch
	}
	if !b.owner || !h.isActive() {
		return StatusBlockNotActive
	}

	if err := b.lockWrite(); err != nil {
		b.logger.Warn("Write lock unavailable", "error", err)
		return StatusBlockNotActive
	}
	uid := h.latestUID() + 1
	slot := int(uid % SlotCount)
	m := &h.slots[slot]

	atomic.AddUint32(&m.seq, 1)
	copy(b.views[slot], data[:h.imageSize])
	atomic.StoreUint64(&m.acquisitionTime, acquisitionTime)
	atomic.StoreUint64(&m.frameUID, uid)
	atomic.AddUint32(&m.seq, 1)

	atomic.StoreUint64(&h.frameUID, uid)
	b.unlockWrite()
	h.publish()
	return StatusSuccess
}
