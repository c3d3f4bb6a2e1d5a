//go:build linux

package shmframe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Consumer reads frames from a named block and survives producer restarts:
// when the block goes away it keeps retrying until a new producer
// publishes one under the same name.
type Consumer struct {
	name   string
	opts   []Option
	cfg    config
	logger *slog.Logger

	mu       sync.Mutex
	block    *Block
	frame    Frame
	hasFrame bool

	// current mirrors block so Close can release a Next blocked under mu.
	current   atomic.Pointer[Block]
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConsumer returns a consumer for name. It does not attach until Attach
// or Next is called.
func NewConsumer(name string, opts ...Option) *Consumer {
	cfg := newConfig(opts)
	return &Consumer{
		name:   name,
		opts:   opts,
		cfg:    cfg,
		logger: cfg.logger.With("block", name, "role", "consumer"),
		closed: make(chan struct{}),
	}
}

// Name returns the block name.
func (c *Consumer) Name() string {
	return c.name
}

// Block returns the attached block, or nil.
func (c *Consumer) Block() *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// Attach opens the block, retrying at the retry interval until a live
// producer has published it or ctx is done.
func (c *Consumer) Attach(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attach(ctx)
}

// Next returns the next frame. With wait it blocks until one arrives; if the
// producer goes away meanwhile, the consumer reattaches transparently. The
// returned frame is reused by the following call; Clone it to keep it.
// Without wait it returns ErrNoNewFrame when nothing is pending.
func (c *Consumer) Next(ctx context.Context, wait bool) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.isClosed() {
			return nil, errConsumerClosed(c.name)
		}
		if err := c.attach(ctx); err != nil {
			return nil, err
		}

		switch st := c.block.ReadContext(ctx, &c.frame, wait); st {
		case StatusSuccess:
			c.hasFrame = true
			return &c.frame, nil
		case StatusNoNewFrame:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, newError(CodeNoNewFrame, c.name, "no new frame", nil)
		case StatusBlockNotActive:
			if c.isClosed() {
				return nil, errConsumerClosed(c.name)
			}
			c.detach()
			if !wait {
				return nil, newError(CodeBlockNotActive, c.name, "producer is gone", nil)
			}
		default:
			return nil, newError(CodeInternal, c.name, "unexpected read status", st.Err())
		}
	}
}

// Last returns the most recent frame returned by Next, without reading.
func (c *Consumer) Last() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasFrame {
		return nil, newError(CodeNoFrame, c.name, "no frame has been read yet", nil)
	}
	return &c.frame, nil
}

// Close detaches from the block. The block itself is left alone. A Next or
// Attach blocked in another goroutine returns ErrClosed, as does every later
// call.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })

	// Closing the handle first wakes a Next sleeping in ReadContext with
	// c.mu held.
	var err error
	if b := c.current.Load(); b != nil {
		err = b.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.block != nil {
		_ = c.block.Close()
		c.block = nil
		c.current.Store(nil)
	}
	c.frame = Frame{}
	c.hasFrame = false
	return err
}

func (c *Consumer) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func errConsumerClosed(name string) error {
	return newError(CodeClosed, name, "consumer is closed", nil)
}

func (c *Consumer) attach(ctx context.Context) error {
	if c.block != nil {
		return nil
	}
	if c.isClosed() {
		return errConsumerClosed(c.name)
	}

	announced := false
	for {
		b, err := c.open()
		if err == nil {
			c.block = b
			c.current.Store(b)
			if c.isClosed() {
				// Close ran between open and Store and missed this handle.
				_ = b.Close()
				c.block = nil
				c.current.Store(nil)
				return errConsumerClosed(c.name)
			}
			info := b.Info()
			c.logger.Info("Attached to block",
				"width", info.Width,
				"height", info.Height,
				"depth", info.Depth,
				"producer", info.OwnerPID)
			if c.cfg.hooks.OnAttached != nil {
				c.cfg.hooks.OnAttached(info)
			}
			return nil
		}
		if !retryable(err) {
			return err
		}

		if !announced {
			c.logger.Info("Waiting for block", "reason", err, "retry", c.cfg.retryInterval)
			announced = true
		} else {
			c.logger.Debug("Block still unavailable", "reason", err)
		}

		timer := time.NewTimer(c.cfg.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.closed:
			timer.Stop()
			return errConsumerClosed(c.name)
		case <-timer.C:
		}
	}
}

// open attaches only to a block with a live producer, so a consumer never
// replays frames from a block that is about to be scrapped.
func (c *Consumer) open() (*Block, error) {
	b, err := Open(c.name, c.opts...)
	if err != nil {
		return nil, err
	}
	if !b.IsAlive() {
		_ = b.Close()
		return nil, newError(CodeBlockNotActive, c.name, "block has no live producer", nil)
	}
	return b, nil
}

func (c *Consumer) detach() {
	c.logger.Info("Lost producer, reattaching")
	_ = c.block.Close()
	c.block = nil
	c.current.Store(nil)
	c.frame = Frame{}
	c.hasFrame = false
	if c.cfg.hooks.OnLost != nil {
		c.cfg.hooks.OnLost(c.name)
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotReady) ||
		errors.Is(err, ErrCorrupt) ||
		errors.Is(err, ErrBlockNotActive)
}
