//go:build linux

package shmframe

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Block is one process's handle on a named shared-memory block. The handle
// returned by Create owns the block and is the only one allowed to write;
// handles returned by Open are readers.
//
// A Block is safe for concurrent use, but each handle remembers the last
// frame it returned, so concurrent readers should each open their own handle.
type Block struct {
	name   string
	cfg    config
	logger *slog.Logger
	owner  bool
	pid    uint32

	mu      sync.RWMutex // held for reading by Read/Write, for writing while unmapping
	seg     *segment
	views   [SlotCount][]byte
	closing atomic.Bool
	lastUID atomic.Uint64
}

// Create allocates a new block named name holding frames of
// width*height*depth bytes. The caller becomes the owner. If an object with
// that name already exists, the error matches ErrAlreadyExists and the
// caller decides whether it is poisoned or owned by a live producer.
func Create(name string, width, height, depth int, opts ...Option) (*Block, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	imageSize, ok := imageSizeOf(width, height, depth)
	if !ok {
		return nil, newError(CodeInvalidGeometry, name,
			fmt.Sprintf("invalid shape %dx%dx%d", width, height, depth), nil)
	}

	cfg := newConfig(opts)
	path := SegmentPath(cfg.dir, name)
	seg, err := createSegment(path, cfg.mode, width, height, depth, imageSize)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, newError(CodeAlreadyExists, name, "block already exists", err)
		}
		return nil, newError(CodeInternal, name, "failed to create segment", err)
	}

	b := newBlock(name, cfg, seg, true)
	b.logger.Debug("Block created", "path", path, "width", width, "height", height, "depth", depth)
	return b, nil
}

// Open attaches to an existing block. Geometry is read from the header.
func Open(name string, opts ...Option) (*Block, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	cfg := newConfig(opts)
	seg, err := openSegment(SegmentPath(cfg.dir, name))
	if err != nil {
		switch {
		case errors.Is(err, errNotFound):
			return nil, newError(CodeNotFound, name, "block not found", nil)
		case errors.Is(err, errNotReady):
			return nil, newError(CodeNotReady, name, "block is still being initialised", nil)
		case errors.Is(err, errCorrupt):
			return nil, newError(CodeCorrupt, name, "block header is invalid", nil)
		default:
			return nil, newError(CodeInternal, name, "failed to open segment", err)
		}
	}
	return newBlock(name, cfg, seg, false), nil
}

func newBlock(name string, cfg config, seg *segment, owner bool) *Block {
	b := &Block{
		name:   name,
		cfg:    cfg,
		logger: cfg.logger.With("block", name),
		owner:  owner,
		pid:    uint32(os.Getpid()),
		seg:    seg,
	}
	for i := range b.views {
		b.views[i] = seg.data(i)
	}
	return b
}

// Name returns the block name.
func (b *Block) Name() string {
	return b.name
}

// IsOwner reports whether this handle created the block.
func (b *Block) IsOwner() bool {
	return b.owner
}

// Shape returns the block geometry.
func (b *Block) Shape() (width, height, depth int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.seg == nil {
		return 0, 0, 0
	}
	h := b.seg.hdr
	return int(h.width), int(h.height), int(h.depth)
}

// ImageSize returns width*height*depth.
func (b *Block) ImageSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.seg == nil {
		return 0
	}
	return int(b.seg.hdr.imageSize)
}

// FrameUID returns the latest published frame uid.
func (b *Block) FrameUID() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.seg == nil {
		return 0
	}
	return b.seg.hdr.latestUID()
}

// IsPoisoned reports whether the owner terminated without deactivating the
// block. It inspects the holder record and never takes the write lock.
func (b *Block) IsPoisoned() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.seg == nil {
		return false
	}
	return isPoisoned(b.seg.hdr)
}

// IsAlive reports whether the block is active and its owner is running.
func (b *Block) IsAlive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.seg == nil {
		return false
	}
	return isAlive(b.seg.hdr)
}

// Info returns a snapshot of the block state.
func (b *Block) Info() Info {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.seg == nil {
		return Info{Name: b.name}
	}
	h := b.seg.hdr
	pid, token := h.owner()
	active := h.isActive()
	ownerAlive := processAlive(pid, token)
	return Info{
		Name:      b.name,
		Path:      b.seg.path,
		Width:     int(h.width),
		Height:    int(h.height),
		Depth:     int(h.depth),
		ImageSize: int(h.imageSize),
		FrameUID:  h.latestUID(),
		Active:    active,
		Alive:     active && ownerAlive,
		Poisoned:  isPoisoned(h),
		OwnerPID:  pid,
		CreatedAt: time.Unix(0, h.createdAt),
	}
}

func isAlive(h *header) bool {
	if !h.isActive() {
		return false
	}
	return processAlive(h.owner())
}

func isPoisoned(h *header) bool {
	if !h.isActive() {
		return false
	}
	if !processAlive(h.owner()) {
		return true
	}
	holder := h.lockHolder()
	return holder != 0 && !processAlive(holder, 0)
}

// ownerAlive re-checks the holder record. Callers hold b.mu.
func (b *Block) ownerAlive() bool {
	return processAlive(b.seg.hdr.owner())
}

// Close detaches this handle without removing the block. Closing the owner
// handle also marks the block inactive so readers stop waiting; the segment
// stays behind and the next producer reclaims it.
func (b *Block) Close() error {
	if !b.closing.CompareAndSwap(false, true) {
		return nil
	}
	b.wakeLocal()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seg == nil {
		return nil
	}
	if b.owner {
		b.seg.hdr.deactivate()
		b.logger.Debug("Owner closed block")
	}
	return b.detach()
}

// Destroy marks the block inactive, wakes every waiter, removes the shared
// object and detaches. Only the owner may destroy a live block; any handle
// may destroy a block whose producer is gone.
func (b *Block) Destroy() error {
	b.mu.RLock()
	if b.seg == nil || b.closing.Load() {
		b.mu.RUnlock()
		return newError(CodeClosed, b.name, "handle is closed", nil)
	}
	if !b.owner && isAlive(b.seg.hdr) {
		pid, _ := b.seg.hdr.owner()
		b.mu.RUnlock()
		return newError(CodeNotOwner, b.name, fmt.Sprintf("block is owned by live producer pid %d", pid), nil)
	}
	b.mu.RUnlock()

	if !b.closing.CompareAndSwap(false, true) {
		return newError(CodeClosed, b.name, "handle is closed", nil)
	}
	b.wakeLocal()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seg == nil {
		return nil
	}
	b.seg.hdr.deactivate()
	unlinkErr := b.seg.unlink()
	if err := b.detach(); err != nil {
		return err
	}
	if unlinkErr != nil {
		return newError(CodeInternal, b.name, "failed to remove segment", unlinkErr)
	}
	b.logger.Debug("Block destroyed", "owner", b.owner)
	return nil
}

// wakeLocal releases this handle's goroutines sleeping in Read.
func (b *Block) wakeLocal() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.seg != nil {
		_ = futexWakeAll(&b.seg.hdr.notify)
	}
}

// detach unmaps the segment. Callers hold b.mu for writing.
func (b *Block) detach() error {
	err := b.seg.unmap()
	b.seg = nil
	b.views = [SlotCount][]byte{}
	if err != nil {
		return newError(CodeInternal, b.name, "failed to unmap segment", err)
	}
	return nil
}

// IsPoisoned opens the named block and reports whether it is poisoned.
func IsPoisoned(name string, opts ...Option) (bool, error) {
	b, err := Open(name, opts...)
	if err != nil {
		return false, err
	}
	defer b.Close()
	return b.IsPoisoned(), nil
}

// IsAlive opens the named block and reports whether its producer is running.
func IsAlive(name string, opts ...Option) (bool, error) {
	b, err := Open(name, opts...)
	if err != nil {
		return false, err
	}
	defer b.Close()
	return b.IsAlive(), nil
}

// Stat opens the named block and returns its header snapshot.
func Stat(name string, opts ...Option) (Info, error) {
	b, err := Open(name, opts...)
	if err != nil {
		return Info{}, err
	}
	defer b.Close()
	return b.Info(), nil
}

// Destroy removes the named block and returns the header it had. A block
// with a live producer fails with ErrNotOwner. A segment whose header was
// never published, because its creator died between create and publish, is
// unlinked once it is older than the recovery grace; a younger one may still
// be initialising and fails with ErrNotReady.
func Destroy(name string, opts ...Option) (Info, error) {
	b, err := Open(name, opts...)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrCorrupt):
		cfg := newConfig(opts)
		removed, rmErr := removeUnpublished(name, cfg)
		if rmErr != nil {
			return Info{}, newError(CodeInternal, name, "failed to remove segment", rmErr)
		}
		if !removed {
			return Info{}, err
		}
		cfg.logger.Warn("Removed segment with no valid header", "block", name, "reason", err)
		return Info{Name: name, Path: SegmentPath(cfg.dir, name)}, nil
	default:
		return Info{}, err
	}

	info := b.Info()
	if err := b.Destroy(); err != nil {
		_ = b.Close()
		return info, err
	}
	return info, nil
}

// removeUnpublished unlinks the segment of name if it has not been modified
// for at least the recovery grace. It reports whether the segment is gone.
func removeUnpublished(name string, cfg config) (bool, error) {
	path := SegmentPath(cfg.dir, name)
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if time.Since(fi.ModTime()) < cfg.recoveryGrace {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return true, nil
}

// List returns the names of all segments in the configured directory.
func List(opts ...Option) ([]string, error) {
	cfg := newConfig(opts)
	entries, err := os.ReadDir(cfg.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), SegmentPrefix) {
			continue
		}
		if name, ok := NameFromPath(entry.Name()); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
