package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestChannelMetricsCache(t *testing.T) {
	channel := "test-channel-1"

	DeleteChannelMetrics(channel)

	if m := GetChannelMetrics(channel); m != nil {
		t.Error("expected nil for unknown channel")
	}

	SetFPS(channel, 30.0)
	SetFrameUID(channel, 120)
	SetChannelState(channel, "alive", true, false)
	AddFramesWritten(channel, 3)
	AddFramesRead(channel, 2)
	IncRecoveries(channel)
	IncReconnects(channel)
	IncReconnects(channel)

	m := GetChannelMetrics(channel)
	if m == nil {
		t.Fatal("expected non-nil metrics")
	}
	want := ChannelMetrics{
		State:         "alive",
		FrameUID:      120,
		FPS:           30,
		Alive:         true,
		FramesWritten: 3,
		FramesRead:    2,
		Recoveries:    1,
		Reconnects:    2,
	}
	if *m != want {
		t.Errorf("got %+v, want %+v", *m, want)
	}

	// Returned value is a copy
	m.FPS = 999
	if m2 := GetChannelMetrics(channel); m2.FPS != 30.0 {
		t.Errorf("cache was modified, FPS = %v, want 30.0", m2.FPS)
	}

	DeleteChannelMetrics(channel)
	if deleted := GetChannelMetrics(channel); deleted != nil {
		t.Error("expected nil after delete")
	}
}

func TestGetAllChannelMetrics(t *testing.T) {
	DeleteChannelMetrics("channel-a")
	DeleteChannelMetrics("channel-b")
	defer DeleteChannelMetrics("channel-a")
	defer DeleteChannelMetrics("channel-b")

	SetFPS("channel-a", 25)
	SetFPS("channel-b", 60)

	all := GetAllChannelMetrics()
	if all["channel-a"] == nil || all["channel-a"].FPS != 25 {
		t.Errorf("channel-a = %+v", all["channel-a"])
	}
	if all["channel-b"] == nil || all["channel-b"].FPS != 60 {
		t.Errorf("channel-b = %+v", all["channel-b"])
	}
}

func TestPrometheusValues(t *testing.T) {
	channel := "prom-channel"
	DeleteChannelMetrics(channel)
	defer DeleteChannelMetrics(channel)

	SetChannelState(channel, "poisoned", false, true)
	IncSizeMismatch(channel)
	IncSizeMismatch(channel)
	IncNoNewFrame(channel)
	ObserveReadLatency(channel, 2*time.Millisecond)
	ObserveReadLatency(channel, -time.Second)

	if got := testutil.ToFloat64(poisoned.WithLabelValues(channel)); got != 1 {
		t.Errorf("poisoned = %v, want 1", got)
	}
	if got := testutil.ToFloat64(alive.WithLabelValues(channel)); got != 0 {
		t.Errorf("alive = %v, want 0", got)
	}
	if got := testutil.ToFloat64(sizeMismatch.WithLabelValues(channel)); got != 2 {
		t.Errorf("size_mismatch_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(noNewFrame.WithLabelValues(channel)); got != 1 {
		t.Errorf("no_new_frame_total = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(readLatency); got < 1 {
		t.Errorf("read latency series = %d", got)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	channel := "concurrent-channel"
	DeleteChannelMetrics(channel)
	defer DeleteChannelMetrics(channel)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				AddFramesWritten(channel, 1)
				_ = GetAllChannelMetrics()
			}
		}()
	}
	wg.Wait()

	if m := GetChannelMetrics(channel); m == nil || m.FramesWritten != 1000 {
		t.Errorf("FramesWritten = %+v, want 1000", m)
	}
}
