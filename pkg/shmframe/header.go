//go:build linux

package shmframe

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	headerMagic   uint32 = 0x424d5246 // "FRMB" little-endian
	layoutVersion uint32 = 1

	// SlotCount is the number of frames retained in a block. The writer
	// fills slots round-robin, so a zero-copy view stays intact for at least
	// SlotCount-1 further writes.
	SlotCount = 3

	// HeaderSize is the size of the control region; pixel data starts here.
	HeaderSize = 256

	// MaxImageSize caps width*height*depth of a single frame (1 GiB).
	MaxImageSize = 1 << 30
)

// slotMeta describes one frame slot. seq is a seqlock counter: odd while the
// writer is copying into the slot.
type slotMeta struct {
	seq             uint32
	_               uint32
	frameUID        uint64
	acquisitionTime uint64
	_               uint64
}

// header is the control region at offset 0 of every segment. All fields
// written after creation are accessed with sync/atomic.
type header struct {
	magic     uint32
	version   uint32
	width     uint64
	height    uint64
	depth     uint64
	imageSize uint64

	active      uint32 // 1 while the owner holds the block open
	lock        uint32 // write lock futex word: holder pid, 0 when free
	lockWaiters uint32
	notify      uint32 // futex word bumped on every publish and deactivation
	waiters     uint32 // readers sleeping on notify
	ownerPID    uint32

	ownerToken uint64 // owner process start time, guards against pid reuse
	frameUID   uint64 // latest published frame
	createdAt  int64  // unix nanoseconds

	slots [SlotCount]slotMeta
}

func init() {
	if size := unsafe.Sizeof(header{}); size > HeaderSize {
		panic(fmt.Sprintf("shmframe: header is %d bytes, exceeds HeaderSize %d", size, HeaderSize))
	}
	if off := unsafe.Offsetof(header{}.ownerToken); off%8 != 0 {
		panic(fmt.Sprintf("shmframe: ownerToken offset %d is not 8-byte aligned", off))
	}
}

// segmentSize returns the total segment size for a frame of imageSize bytes.
func segmentSize(imageSize uint64) uint64 {
	return HeaderSize + SlotCount*imageSize
}

// imageSizeOf validates geometry and returns width*height*depth.
func imageSizeOf(width, height, depth int) (uint64, bool) {
	if width <= 0 || height <= 0 || depth <= 0 {
		return 0, false
	}
	size := uint64(width)
	for _, d := range []int{height, depth} {
		if size > MaxImageSize/uint64(d) {
			return 0, false
		}
		size *= uint64(d)
	}
	return size, size <= MaxImageSize
}

func (h *header) isActive() bool {
	return atomic.LoadUint32(&h.active) == 1
}

func (h *header) latestUID() uint64 {
	return atomic.LoadUint64(&h.frameUID)
}

func (h *header) owner() (pid int, token uint64) {
	return int(atomic.LoadUint32(&h.ownerPID)), atomic.LoadUint64(&h.ownerToken)
}

func (h *header) lockHolder() int {
	return int(atomic.LoadUint32(&h.lock))
}

// deactivate clears the active flag and wakes every waiter so blocked
// readers observe the transition.
func (h *header) deactivate() {
	atomic.StoreUint32(&h.active, 0)
	h.publish()
}

// publish bumps the notify word and wakes sleeping readers.
func (h *header) publish() {
	atomic.AddUint32(&h.notify, 1)
	if atomic.LoadUint32(&h.waiters) > 0 {
		_ = futexWakeAll(&h.notify)
	}
}
