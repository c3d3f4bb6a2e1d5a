//go:build linux

package shmframe

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Producer owns a named block and recovers it from a crashed predecessor.
// The block is created lazily on the first Write (or by Start) with the
// geometry of that frame.
type Producer struct {
	name   string
	opts   []Option
	cfg    config
	logger *slog.Logger

	mu    sync.Mutex
	block *Block
}

// NewProducer returns a producer for name. Nothing is created yet.
func NewProducer(name string, opts ...Option) *Producer {
	cfg := newConfig(opts)
	return &Producer{
		name:   name,
		opts:   opts,
		cfg:    cfg,
		logger: cfg.logger.With("block", name, "role", "producer"),
	}
}

// Name returns the block name.
func (p *Producer) Name() string {
	return p.name
}

// Block returns the current block, or nil before the first successful Start
// or Write.
func (p *Producer) Block() *Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.block
}

// Start creates the block with the given geometry, running recovery if a
// block with this name is left over from a dead producer. A stale block
// that its owner closed cleanly is reclaimed the same way as a poisoned one.
// It fails with ErrExistential when another live producer owns the name.
func (p *Producer) Start(width, height, depth int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensure(width, height, depth)
}

// Write publishes one frame, creating the block first if needed.
func (p *Producer) Write(width, height, depth int, acquisitionTime uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensure(width, height, depth); err != nil {
		return err
	}

	switch st := p.block.Write(width, height, depth, acquisitionTime, data); st {
	case StatusSuccess:
		return nil
	case StatusFrameSizeMismatch:
		bw, bh, bd := p.block.Shape()
		return newError(CodeFrameSizeMismatch, p.name,
			fmt.Sprintf("frame is %dx%dx%d (%d bytes), block is %dx%dx%d",
				width, height, depth, len(data), bw, bh, bd), nil)
	default:
		// Someone scrapped our block from under us. Drop the handle so the
		// next write goes through recovery again.
		p.logger.Warn("Block is no longer active", "status", st)
		_ = p.block.Close()
		p.block = nil
		return newError(CodeBlockNotActive, p.name, "block was deactivated", nil)
	}
}

// Close removes the block. Readers observe it as not active.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.block == nil {
		return nil
	}
	err := p.block.Destroy()
	p.block = nil
	if err != nil {
		return err
	}
	p.logger.Info("Producer closed block")
	return nil
}

func (p *Producer) ensure(width, height, depth int) error {
	if p.block != nil {
		return nil
	}

	b, err := Create(p.name, width, height, depth, p.opts...)
	if err == nil {
		p.attach(b)
		return nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		return err
	}

	if err := p.recover(); err != nil {
		return err
	}

	b, err = Create(p.name, width, height, depth, p.opts...)
	if err != nil {
		return newError(CodeExistential, p.name, "block was recreated by another producer during recovery", err)
	}
	p.attach(b)
	return nil
}

// recover scraps a leftover block. A block that is active with a live owner
// is not ours to take; anything else (poisoned, closed by its owner, or with
// an unreadable header) is destroyed, then the grace period lets attached
// readers notice before the name is reused.
func (p *Producer) recover() error {
	return p.recoverOnce(false)
}

func (p *Producer) recoverOnce(waited bool) error {
	stale, err := Open(p.name, p.opts...)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		// Destroyed between our create and open.
		return nil
	case errors.Is(err, ErrCorrupt):
		p.logger.Warn("Removing segment with invalid header")
		if err := os.Remove(SegmentPath(p.cfg.dir, p.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return newError(CodeExistential, p.name, "failed to remove invalid segment", err)
		}
		return nil
	case errors.Is(err, ErrNotReady):
		// The creator died before publishing the header, or is still
		// publishing it.
		removed, rmErr := removeUnpublished(p.name, p.cfg)
		if rmErr != nil {
			return newError(CodeExistential, p.name, "failed to remove unpublished segment", rmErr)
		}
		if removed {
			p.logger.Warn("Removed segment whose header was never published")
			return nil
		}
		if waited {
			return newError(CodeExistential, p.name, "another producer is creating the block", err)
		}
		time.Sleep(p.cfg.recoveryGrace)
		return p.recoverOnce(true)
	default:
		return err
	}

	info := stale.Info()
	if info.Alive {
		_ = stale.Close()
		return newError(CodeExistential, p.name,
			fmt.Sprintf("block is owned by live producer pid %d", info.OwnerPID), nil)
	}

	p.logger.Warn("Scrapping leftover block",
		"poisoned", info.Poisoned,
		"previous_owner", info.OwnerPID,
		"frame_uid", info.FrameUID)
	if err := stale.Destroy(); err != nil {
		return newError(CodeExistential, p.name, "failed to destroy leftover block", err)
	}
	if p.cfg.hooks.OnRecovered != nil {
		p.cfg.hooks.OnRecovered(info)
	}
	if p.cfg.recoveryGrace > 0 {
		time.Sleep(p.cfg.recoveryGrace)
	}
	return nil
}

func (p *Producer) attach(b *Block) {
	p.block = b
	info := b.Info()
	p.logger.Info("Block created",
		"width", info.Width,
		"height", info.Height,
		"depth", info.Depth,
		"path", info.Path)
	if p.cfg.hooks.OnCreated != nil {
		p.cfg.hooks.OnCreated(info)
	}
}
