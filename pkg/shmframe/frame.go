//go:build linux

package shmframe

import "sync/atomic"

// Frame is one image returned by a read. Data aliases shared memory unless
// the frame came from Clone.
type Frame struct {
	Width           int
	Height          int
	Depth           int
	AcquisitionTime uint64
	FrameUID        uint64
	Data            []byte

	block *Block
	meta  *slotMeta
	seq   uint32
}

// Size returns width*height*depth.
func (f *Frame) Size() int {
	return f.Width * f.Height * f.Depth
}

// Valid reports whether Data still holds the frame it was read as. A frame
// from Clone is always valid; a view becomes invalid once the producer
// starts overwriting its slot or the handle is closed.
func (f *Frame) Valid() bool {
	if f.block == nil {
		return f.Data != nil
	}
	f.block.mu.RLock()
	defer f.block.mu.RUnlock()
	return f.validLocked()
}

func (f *Frame) validLocked() bool {
	if f.block.seg == nil {
		return false
	}
	return atomic.LoadUint32(&f.meta.seq) == f.seq && atomic.LoadUint64(&f.meta.frameUID) == f.FrameUID
}

// CopyTo copies the pixels into dst and returns the byte count. It fails
// with ErrFrameOverwritten if the slot was reused before or during the copy.
func (f *Frame) CopyTo(dst []byte) (int, error) {
	if f.block == nil {
		return copy(dst, f.Data), nil
	}
	f.block.mu.RLock()
	defer f.block.mu.RUnlock()
	if !f.validLocked() {
		return 0, f.overwritten()
	}
	n := copy(dst, f.Data)
	if !f.validLocked() {
		return 0, f.overwritten()
	}
	return n, nil
}

// Clone returns a frame backed by private memory.
func (f *Frame) Clone() (*Frame, error) {
	data := make([]byte, len(f.Data))
	if _, err := f.CopyTo(data); err != nil {
		return nil, err
	}
	return &Frame{
		Width:           f.Width,
		Height:          f.Height,
		Depth:           f.Depth,
		AcquisitionTime: f.AcquisitionTime,
		FrameUID:        f.FrameUID,
		Data:            data,
	}, nil
}

func (f *Frame) overwritten() error {
	return newError(CodeFrameOverwritten, f.block.name, "frame slot was reused", nil)
}
