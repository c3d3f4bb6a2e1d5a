//go:build linux

package shmframe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestConsumerWaitsForProducer(t *testing.T) {
	opts := testOptions(t)
	c := NewConsumer("cam0", opts...)
	t.Cleanup(func() { _ = c.Close() })

	type result struct {
		uid uint64
		err error
	}
	done := make(chan result, 1)
	go func() {
		f, err := c.Next(context.Background(), true)
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{uid: f.FrameUID}
	}()

	time.Sleep(60 * time.Millisecond)
	p := NewProducer("cam0", opts...)
	t.Cleanup(func() { _ = p.Close() })
	if err := p.Write(2, 2, 1, 1, pattern(4, 1)); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-done:
		if r.err != nil || r.uid != 1 {
			t.Fatalf("Next() = uid %d, %v; want uid 1", r.uid, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never attached")
	}
}

func TestConsumerAttachCancelled(t *testing.T) {
	opts := testOptions(t)
	c := NewConsumer("missing", opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Attach(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Attach() = %v, want context.DeadlineExceeded", err)
	}
}

func TestConsumerSkipsStaleBlock(t *testing.T) {
	opts := testOptions(t)
	stale, err := Create("cam0", 2, 2, 1, opts...)
	if err != nil {
		t.Fatal(err)
	}
	_ = stale.Close()

	c := NewConsumer("cam0", opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if err := c.Attach(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Attach() to stale block = %v, want context.DeadlineExceeded", err)
	}
}

func TestConsumerNonBlocking(t *testing.T) {
	opts := testOptions(t)
	p := NewProducer("cam0", opts...)
	t.Cleanup(func() { _ = p.Close() })
	if err := p.Start(2, 2, 1); err != nil {
		t.Fatal(err)
	}

	c := NewConsumer("cam0", opts...)
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.Last(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Last() before any read = %v, want ErrNoFrame", err)
	}
	if _, err := c.Next(context.Background(), false); !errors.Is(err, ErrNoNewFrame) {
		t.Errorf("Next() on empty block = %v, want ErrNoNewFrame", err)
	}

	if err := p.Write(2, 2, 1, 5, pattern(4, 1)); err != nil {
		t.Fatal(err)
	}
	f, err := c.Next(context.Background(), false)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	last, err := c.Last()
	if err != nil || last != f || last.FrameUID != 1 {
		t.Errorf("Last() = %+v, %v; want the frame returned by Next", last, err)
	}
	if _, err := c.Next(context.Background(), false); !errors.Is(err, ErrNoNewFrame) {
		t.Errorf("second Next() = %v, want ErrNoNewFrame", err)
	}
}

func TestConsumerReattachesAfterRestart(t *testing.T) {
	var lost, attached int
	var mu sync.Mutex
	opts := testOptions(t, WithHooks(Hooks{
		OnLost: func(string) {
			mu.Lock()
			lost++
			mu.Unlock()
		},
		OnAttached: func(Info) {
			mu.Lock()
			attached++
			mu.Unlock()
		},
	}))

	first := NewProducer("cam0", opts...)
	if err := first.Write(2, 2, 1, 1, pattern(4, 1)); err != nil {
		t.Fatal(err)
	}

	c := NewConsumer("cam0", opts...)
	t.Cleanup(func() { _ = c.Close() })
	if f, err := c.Next(context.Background(), true); err != nil || f.FrameUID != 1 {
		t.Fatalf("Next() from first producer failed: %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	second := NewProducer("cam0", opts...)
	t.Cleanup(func() { _ = second.Close() })
	if err := second.Write(2, 2, 1, 100, pattern(4, 9)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := c.Next(ctx, true)
	if err != nil {
		t.Fatalf("Next() after restart failed: %v", err)
	}
	if f.FrameUID != 1 || f.AcquisitionTime != 100 || f.Data[0] != 9 {
		t.Errorf("got uid %d ts %d data %d from new producer", f.FrameUID, f.AcquisitionTime, f.Data[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if lost != 1 || attached != 2 {
		t.Errorf("hooks: lost=%d attached=%d, want 1 and 2", lost, attached)
	}
}

func TestConsumerSurvivesProducerCrash(t *testing.T) {
	opts := testOptions(t)
	dir := newConfig(opts).dir

	p := NewProducer("cam0", opts...)
	if err := p.Start(4, 4, 1); err != nil {
		t.Fatal(err)
	}
	c := NewConsumer("cam0", opts...)
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Hand the name over to a process that dies mid-write.
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	crashProducer(t, dir, "cam0")

	recovered := NewProducer("cam0", opts...)
	t.Cleanup(func() { _ = recovered.Close() })
	if err := recovered.Write(4, 4, 1, 7, pattern(16, 7)); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := c.Next(ctx, true)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if f.AcquisitionTime != 7 || f.Data[0] != 7 {
		t.Errorf("got ts %d data %d, want the recovered producer's frame", f.AcquisitionTime, f.Data[0])
	}
}

// TestCameraScenario streams frames from a paced producer to a blocking
// consumer and checks every delivered frame is internally consistent.
func TestCameraScenario(t *testing.T) {
	const (
		width, height, depth = 32, 24, 3
		frames               = 60
	)
	opts := testOptions(t)
	p := NewProducer("cam0", opts...)
	t.Cleanup(func() { _ = p.Close() })
	if err := p.Start(width, height, depth); err != nil {
		t.Fatal(err)
	}

	c := NewConsumer("cam0", opts...)
	t.Cleanup(func() { _ = c.Close() })

	errc := make(chan error, 1)
	go func() {
		for uid := uint64(1); uid <= frames; uid++ {
			ts := uint64(time.Now().UnixNano())
			if err := p.Write(width, height, depth, ts, pattern(width*height*depth, uid)); err != nil {
				errc <- err
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
		errc <- nil
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	buf := make([]byte, width*height*depth)
	var last, lastTS uint64
	for last < frames {
		f, err := c.Next(ctx, true)
		if err != nil {
			t.Fatalf("Next() after uid %d failed: %v", last, err)
		}
		if f.FrameUID <= last {
			t.Fatalf("uid went from %d to %d", last, f.FrameUID)
		}
		if f.AcquisitionTime < lastTS {
			t.Fatalf("acquisition time went backwards at uid %d", f.FrameUID)
		}
		n, err := f.CopyTo(buf)
		if errors.Is(err, ErrFrameOverwritten) {
			last, lastTS = f.FrameUID, f.AcquisitionTime
			continue
		}
		if err != nil || n != len(buf) {
			t.Fatalf("CopyTo() = %d, %v", n, err)
		}
		for i, v := range buf {
			if v != byte(f.FrameUID) {
				t.Fatalf("uid %d: byte %d is %d", f.FrameUID, i, v)
			}
		}
		last, lastTS = f.FrameUID, f.AcquisitionTime
	}

	if err := <-errc; err != nil {
		t.Fatalf("producer failed: %v", err)
	}
}

func TestConsumerCloseReleasesWaitingNext(t *testing.T) {
	opts := testOptions(t)
	p := NewProducer("idle", opts...)
	if err := p.Start(4, 4, 1); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close() })

	c := NewConsumer("idle", opts...)
	done := make(chan error, 1)
	go func() {
		_, err := c.Next(context.Background(), true)
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a waiting Next")
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Next() = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}

	if _, err := c.Next(context.Background(), false); !errors.Is(err, ErrClosed) {
		t.Errorf("Next() after Close = %v, want ErrClosed", err)
	}
	if p.Block() == nil || !p.Block().IsAlive() {
		t.Error("closing a consumer affected the producer's block")
	}
}

func TestConsumerCloseStopsAttachRetry(t *testing.T) {
	opts := testOptions(t, WithRetryInterval(time.Hour))
	c := NewConsumer("never", opts...)

	done := make(chan error, 1)
	go func() { done <- c.Attach(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Attach() = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Attach kept retrying after Close")
	}
}
