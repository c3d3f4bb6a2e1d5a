//go:build linux

package shmframe

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testOptions places segments in a per-test directory and shortens every
// timing knob.
func testOptions(t *testing.T, extra ...Option) []Option {
	t.Helper()
	opts := []Option{
		WithDir(t.TempDir()),
		WithLogger(testLogger()),
		WithLivenessInterval(20 * time.Millisecond),
		WithRecoveryGrace(10 * time.Millisecond),
		WithRetryInterval(20 * time.Millisecond),
	}
	return append(opts, extra...)
}

func mustCreate(t *testing.T, name string, w, h, d int, opts []Option) *Block {
	t.Helper()
	b, err := Create(name, w, h, d, opts...)
	if err != nil {
		t.Fatalf("Create(%q) failed: %v", name, err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func mustOpen(t *testing.T, name string, opts []Option) *Block {
	t.Helper()
	b, err := Open(name, opts...)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", name, err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// pattern returns an image filled with the low byte of uid.
func pattern(size int, uid uint64) []byte {
	return bytes.Repeat([]byte{byte(uid)}, size)
}

func mustWrite(t *testing.T, b *Block, w, h, d int, ts uint64, data []byte) {
	t.Helper()
	if st := b.Write(w, h, d, ts, data); st != StatusSuccess {
		t.Fatalf("Write() = %v, want SUCCESS", st)
	}
}

// readAsync runs a read in the background and returns its result channel.
func readAsync(b *Block, f *Frame, wait bool) <-chan Status {
	done := make(chan Status, 1)
	go func() {
		done <- b.Read(f, wait)
	}()
	return done
}

func waitForStatus(t *testing.T, done <-chan Status, timeout time.Duration) Status {
	t.Helper()
	select {
	case st := <-done:
		return st
	case <-time.After(timeout):
		t.Fatal("timeout waiting for read to return")
		return -1
	}
}
