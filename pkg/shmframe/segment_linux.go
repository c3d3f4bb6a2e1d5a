//go:build linux

package shmframe

import (
	"errors"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// segment is one process's mapping of a block's backing file.
type segment struct {
	path string
	mem  []byte
	hdr  *header
}

// createSegment creates and maps a new segment, initialising the header for
// the calling process as owner. The magic is stored last.
func createSegment(path string, mode os.FileMode, width, height, depth int, imageSize uint64) (*segment, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, uint32(mode.Perm()))
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	size := segmentSize(imageSize)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Unlink(path)
		return nil, err
	}
	// open applied the umask.
	_ = unix.Fchmod(fd, uint32(mode.Perm()))

	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Unlink(path)
		return nil, err
	}

	hdr := (*header)(unsafe.Pointer(&mem[0]))
	// ftruncate zero-filled the file: lock, notify, uid and slot seqs start at 0.
	hdr.version = layoutVersion
	hdr.width, hdr.height, hdr.depth = uint64(width), uint64(height), uint64(depth)
	hdr.imageSize = imageSize
	hdr.createdAt = time.Now().UnixNano()
	atomic.StoreUint64(&hdr.ownerToken, selfToken())
	atomic.StoreUint32(&hdr.ownerPID, uint32(os.Getpid()))
	atomic.StoreUint32(&hdr.active, 1)
	atomic.StoreUint32(&hdr.magic, headerMagic)

	return &segment{path: path, mem: mem, hdr: hdr}, nil
}

// openSegment maps an existing segment and validates its header.
func openSegment(path string) (*segment, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, errNotFound
		}
		return nil, err
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, err
	}
	if st.Size < HeaderSize {
		return nil, errNotReady
	}

	mem, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	seg := &segment{path: path, mem: mem, hdr: (*header)(unsafe.Pointer(&mem[0]))}

	if err := seg.validate(uint64(st.Size)); err != nil {
		_ = seg.unmap()
		return nil, err
	}
	return seg, nil
}

var (
	errNotFound = errors.New("segment does not exist")
	errNotReady = errors.New("segment header not yet published")
	errCorrupt  = errors.New("segment header mismatch")
)

func (s *segment) validate(size uint64) error {
	switch atomic.LoadUint32(&s.hdr.magic) {
	case headerMagic:
	case 0:
		return errNotReady
	default:
		return errCorrupt
	}
	h := s.hdr
	if h.version != layoutVersion {
		return errCorrupt
	}
	imageSize, ok := imageSizeOf(int(h.width), int(h.height), int(h.depth))
	if !ok || imageSize != h.imageSize || segmentSize(imageSize) != size {
		return errCorrupt
	}
	return nil
}

// data returns the pixel region of slot i.
func (s *segment) data(i int) []byte {
	size := s.hdr.imageSize
	start := HeaderSize + uint64(i)*size
	return s.mem[start : start+size : start+size]
}

func (s *segment) unmap() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem, s.hdr = nil, nil
	return err
}

func (s *segment) unlink() error {
	if err := unix.Unlink(s.path); err != nil && !errors.Is(err, unix.ENOENT) {
		return err
	}
	return nil
}
