//go:build linux

package shmframe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "cam0", false},
		{"punctuation", "cam-0_left.rgb", false},
		{"empty", "", true},
		{"slash", "a/b", true},
		{"space", "cam 0", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"non-ascii", "camé", true},
		{"too long", string(make([]byte, 201)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("expected ErrInvalidName, got %v", err)
			}
		})
	}
}

func TestNameFromPath(t *testing.T) {
	if name, ok := NameFromPath(SegmentPath("/dev/shm", "cam0")); !ok || name != "cam0" {
		t.Errorf("NameFromPath() = %q, %v; want cam0, true", name, ok)
	}
	if _, ok := NameFromPath("/dev/shm/other-file"); ok {
		t.Error("expected foreign file to be rejected")
	}
}

func TestImageSizeOf(t *testing.T) {
	tests := []struct {
		name    string
		w, h, d int
		want    uint64
		wantOK  bool
	}{
		{"rgb vga", 640, 480, 3, 921600, true},
		{"single byte", 1, 1, 1, 1, true},
		{"zero width", 0, 480, 3, 0, false},
		{"negative depth", 640, 480, -1, 0, false},
		{"too large", 1 << 16, 1 << 16, 1, 0, false},
		{"overflow", 1 << 20, 1 << 20, 1 << 20, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := imageSizeOf(tt.w, tt.h, tt.d)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("imageSizeOf(%d, %d, %d) = %d, %v; want %d, %v",
					tt.w, tt.h, tt.d, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCreateOpenRoundTrip(t *testing.T) {
	opts := testOptions(t)
	owner := mustCreate(t, "cam0", 4, 3, 2, opts)
	reader := mustOpen(t, "cam0", opts)

	if !owner.IsOwner() || reader.IsOwner() {
		t.Fatalf("IsOwner: owner=%v reader=%v", owner.IsOwner(), reader.IsOwner())
	}
	w, h, d := reader.Shape()
	if w != 4 || h != 3 || d != 2 {
		t.Errorf("Shape() = %dx%dx%d, want 4x3x2", w, h, d)
	}
	if reader.ImageSize() != 24 {
		t.Errorf("ImageSize() = %d, want 24", reader.ImageSize())
	}

	info := reader.Info()
	if !info.Active || !info.Alive || info.Poisoned {
		t.Errorf("unexpected state: %+v", info)
	}
	if info.OwnerPID != os.Getpid() {
		t.Errorf("OwnerPID = %d, want %d", info.OwnerPID, os.Getpid())
	}
	if info.FrameUID != 0 {
		t.Errorf("FrameUID = %d, want 0", info.FrameUID)
	}

	st, err := os.Stat(info.Path)
	if err != nil {
		t.Fatalf("stat segment: %v", err)
	}
	if st.Size() != HeaderSize+SlotCount*24 {
		t.Errorf("segment size = %d, want %d", st.Size(), HeaderSize+SlotCount*24)
	}
}

func TestCreateErrors(t *testing.T) {
	opts := testOptions(t)
	mustCreate(t, "cam0", 4, 4, 1, opts)

	_, err := Create("cam0", 4, 4, 1, opts...)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second Create: expected ErrAlreadyExists, got %v", err)
	}

	_, err = Create("cam1", 0, 4, 1, opts...)
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("zero width: expected ErrInvalidGeometry, got %v", err)
	}

	_, err = Create("bad/name", 4, 4, 1, opts...)
	if !errors.Is(err, ErrInvalidName) {
		t.Errorf("bad name: expected ErrInvalidName, got %v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	opts := []Option{WithDir(dir), WithLogger(testLogger())}

	garbage := make([]byte, HeaderSize+SlotCount)
	copy(garbage, "not a block header")

	tests := []struct {
		name    string
		content []byte
		want    error
	}{
		{"missing", nil, ErrNotFound},
		{"short file", make([]byte, 16), ErrNotReady},
		{"zero magic", make([]byte, HeaderSize+SlotCount), ErrNotReady},
		{"garbage", garbage, ErrCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := "open-" + filepath.Base(t.Name())
			if tt.content != nil {
				if err := os.WriteFile(SegmentPath(dir, name), tt.content, 0o600); err != nil {
					t.Fatal(err)
				}
			}
			_, err := Open(name, opts...)
			if !errors.Is(err, tt.want) {
				t.Errorf("Open() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWriteReadLockstep(t *testing.T) {
	opts := testOptions(t)
	owner := mustCreate(t, "cam0", 8, 2, 3, opts)
	reader := mustOpen(t, "cam0", opts)
	size := owner.ImageSize()

	var f Frame
	for uid := uint64(1); uid <= 10; uid++ {
		ts := 1000 + uid*33
		mustWrite(t, owner, 8, 2, 3, ts, pattern(size, uid))

		if st := reader.Read(&f, false); st != StatusSuccess {
			t.Fatalf("Read() = %v, want SUCCESS", st)
		}
		if f.FrameUID != uid {
			t.Fatalf("FrameUID = %d, want %d", f.FrameUID, uid)
		}
		if f.AcquisitionTime != ts {
			t.Errorf("AcquisitionTime = %d, want %d", f.AcquisitionTime, ts)
		}
		if f.Width != 8 || f.Height != 2 || f.Depth != 3 || len(f.Data) != size {
			t.Errorf("unexpected frame shape %dx%dx%d len %d", f.Width, f.Height, f.Depth, len(f.Data))
		}
		for i, v := range f.Data {
			if v != byte(uid) {
				t.Fatalf("Data[%d] = %d, want %d", i, v, byte(uid))
			}
		}
	}

	if owner.FrameUID() != 10 {
		t.Errorf("FrameUID() = %d, want 10", owner.FrameUID())
	}
}

func TestWriteSizeMismatch(t *testing.T) {
	opts := testOptions(t)
	owner := mustCreate(t, "cam0", 4, 4, 3, opts)
	reader := mustOpen(t, "cam0", opts)
	mustWrite(t, owner, 4, 4, 3, 1, pattern(48, 7))

	tests := []struct {
		name    string
		w, h, d int
		data    []byte
	}{
		{"width", 5, 4, 3, pattern(60, 9)},
		{"height", 4, 3, 3, pattern(36, 9)},
		{"depth", 4, 4, 1, pattern(16, 9)},
		{"transposed", 3, 4, 4, pattern(48, 9)},
		{"short data", 4, 4, 3, pattern(47, 9)},
		{"negative", -4, 4, 3, pattern(48, 9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if st := owner.Write(tt.w, tt.h, tt.d, 2, tt.data); st != StatusFrameSizeMismatch {
				t.Errorf("Write() = %v, want FRAME_SIZE_MISMATCH", st)
			}
		})
	}

	if owner.FrameUID() != 1 {
		t.Fatalf("FrameUID() = %d after mismatched writes, want 1", owner.FrameUID())
	}
	var f Frame
	if st := reader.Read(&f, false); st != StatusSuccess || f.FrameUID != 1 {
		t.Fatalf("Read() = %v uid %d, want SUCCESS uid 1", st, f.FrameUID)
	}
	for i, v := range f.Data {
		if v != 7 {
			t.Fatalf("Data[%d] = %d, pixels changed by rejected write", i, v)
		}
	}
}

func TestWriteLongerDataIsTruncated(t *testing.T) {
	opts := testOptions(t)
	owner := mustCreate(t, "cam0", 2, 2, 1, opts)
	reader := mustOpen(t, "cam0", opts)

	mustWrite(t, owner, 2, 2, 1, 1, []byte{1, 2, 3, 4, 5, 6})

	var f Frame
	if st := reader.Read(&f, false); st != StatusSuccess {
		t.Fatalf("Read() = %v", st)
	}
	if string(f.Data) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("Data = %v, want [1 2 3 4]", f.Data)
	}
}

func TestReaderCannotWrite(t *testing.T) {
	opts := testOptions(t)
	mustCreate(t, "cam0", 2, 2, 1, opts)
	reader := mustOpen(t, "cam0", opts)

	if st := reader.Write(2, 2, 1, 1, pattern(4, 1)); st != StatusBlockNotActive {
		t.Errorf("reader Write() = %v, want BLOCK_NOT_ACTIVE", st)
	}
}

func TestNonBlockingReadNoNewFrame(t *testing.T) {
	opts := testOptions(t)
	owner := mustCreate(t, "cam0", 2, 2, 1, opts)
	reader := mustOpen(t, "cam0", opts)

	var f Frame
	if st := reader.Read(&f, false); st != StatusNoNewFrame {
		t.Errorf("Read() on empty block = %v, want NO_NEW_FRAME", st)
	}

	mustWrite(t, owner, 2, 2, 1, 1, pattern(4, 1))
	if st := reader.Read(&f, false); st != StatusSuccess {
		t.Fatalf("first Read() = %v, want SUCCESS", st)
	}
	if st := reader.Read(&f, false); st != StatusNoNewFrame {
		t.Errorf("second Read() = %v, want NO_NEW_FRAME", st)
	}
}

func TestBlockingReadUnblocksOnWrite(t *testing.T) {
	opts := testOptions(t)
	owner := mustCreate(t, "cam0", 2, 2, 1, opts)
	reader := mustOpen(t, "cam0", opts)

	var f Frame
	done := readAsync(reader, &f, true)

	select {
	case st := <-done:
		t.Fatalf("blocking Read() returned %v before any write", st)
	case <-time.After(100 * time.Millisecond):
	}

	mustWrite(t, owner, 2, 2, 1, 42, pattern(4, 1))
	if st := waitForStatus(t, done, time.Second); st != StatusSuccess {
		t.Fatalf("Read() = %v, want SUCCESS", st)
	}
	if f.FrameUID != 1 || f.AcquisitionTime != 42 {
		t.Errorf("frame uid %d ts %d, want uid 1 ts 42", f.FrameUID, f.AcquisitionTime)
	}
}

func TestBlockingReadMultipleReaders(t *testing.T) {
	opts := testOptions(t)
	owner := mustCreate(t, "cam0", 2, 2, 1, opts)

	const readers = 4
	frames := make([]Frame, readers)
	dones := make([]<-chan Status, readers)
	for i := range readers {
		dones[i] = readAsync(mustOpen(t, "cam0", opts), &frames[i], true)
	}

	time.Sleep(50 * time.Millisecond)
	mustWrite(t, owner, 2, 2, 1, 1, pattern(4, 1))

	for i, done := range dones {
		if st := waitForStatus(t, done, time.Second); st != StatusSuccess {
			t.Errorf("reader %d: Read() = %v, want SUCCESS", i, st)
		}
	}
}

func TestDeactivationReleasesReaders(t *testing.T) {
	opts := testOptions(t)
	owner, err := Create("cam0", 2, 2, 1, opts...)
	if err != nil {
		t.Fatal(err)
	}
	reader := mustOpen(t, "cam0", opts)

	var f Frame
	done := readAsync(reader, &f, true)
	time.Sleep(50 * time.Millisecond)

	if err := owner.Destroy(); err != nil {
		t.Fatalf("Destroy() failed: %v", err)
	}
	if st := waitForStatus(t, done, time.Second); st != StatusBlockNotActive {
		t.Errorf("pending Read() = %v, want BLOCK_NOT_ACTIVE", st)
	}
	if st := reader.Read(&f, false); st != StatusBlockNotActive {
		t.Errorf("later Read() = %v, want BLOCK_NOT_ACTIVE", st)
	}
	if _, err := Open("cam0", opts...); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open() after Destroy: expected ErrNotFound, got %v", err)
	}
}

func TestCloseReleasesLocalReader(t *testing.T) {
	opts := testOptions(t)
	mustCreate(t, "cam0", 2, 2, 1, opts)
	reader, err := Open("cam0", opts...)
	if err != nil {
		t.Fatal(err)
	}

	var f Frame
	done := readAsync(reader, &f, true)
	time.Sleep(50 * time.Millisecond)

	if err := reader.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if st := waitForStatus(t, done, time.Second); st != StatusBlockNotActive {
		t.Errorf("Read() = %v, want BLOCK_NOT_ACTIVE", st)
	}
	if err := reader.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestReadContextCancel(t *testing.T) {
	opts := testOptions(t)
	mustCreate(t, "cam0", 2, 2, 1, opts)
	reader := mustOpen(t, "cam0", opts)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	start := time.Now()
	var f Frame
	if st := reader.ReadContext(ctx, &f, true); st != StatusNoNewFrame {
		t.Errorf("ReadContext() = %v, want NO_NEW_FRAME", st)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("ReadContext() took %v after cancellation", elapsed)
	}
}

func TestReaderCatchUp(t *testing.T) {
	tests := []struct {
		name  string
		extra []Option
		want  []uint64
	}{
		{"oldest retained", nil, []uint64{8, 9, 10}},
		{"latest only", []Option{WithLatestOnly()}, []uint64{10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t, tt.extra...)
			owner := mustCreate(t, "cam0", 2, 2, 1, opts)
			reader := mustOpen(t, "cam0", opts)

			for uid := uint64(1); uid <= 10; uid++ {
				mustWrite(t, owner, 2, 2, 1, uid, pattern(4, uid))
			}

			var f Frame
			for _, want := range tt.want {
				if st := reader.Read(&f, false); st != StatusSuccess {
					t.Fatalf("Read() = %v, want SUCCESS", st)
				}
				if f.FrameUID != want || f.Data[0] != byte(want) || f.AcquisitionTime != want {
					t.Fatalf("got uid %d data %d ts %d, want %d", f.FrameUID, f.Data[0], f.AcquisitionTime, want)
				}
			}
			if st := reader.Read(&f, false); st != StatusNoNewFrame {
				t.Errorf("Read() after catch-up = %v, want NO_NEW_FRAME", st)
			}
		})
	}
}

func TestFrameValidity(t *testing.T) {
	opts := testOptions(t)
	owner := mustCreate(t, "cam0", 2, 2, 1, opts)
	reader := mustOpen(t, "cam0", opts)

	mustWrite(t, owner, 2, 2, 1, 1, pattern(4, 1))
	var f Frame
	if st := reader.Read(&f, false); st != StatusSuccess {
		t.Fatalf("Read() = %v", st)
	}
	clone, err := f.Clone()
	if err != nil {
		t.Fatalf("Clone() failed: %v", err)
	}

	// The view survives SlotCount-1 further writes.
	for uid := uint64(2); uid <= SlotCount; uid++ {
		mustWrite(t, owner, 2, 2, 1, uid, pattern(4, uid))
	}
	if !f.Valid() {
		t.Fatal("frame invalid before its slot was reused")
	}
	dst := make([]byte, 4)
	if n, err := f.CopyTo(dst); err != nil || n != 4 || dst[0] != 1 {
		t.Fatalf("CopyTo() = %d, %v, data %v", n, err, dst)
	}

	mustWrite(t, owner, 2, 2, 1, SlotCount+1, pattern(4, SlotCount+1))
	if f.Valid() {
		t.Error("frame still valid after its slot was reused")
	}
	if _, err := f.CopyTo(dst); !errors.Is(err, ErrFrameOverwritten) {
		t.Errorf("CopyTo() error = %v, want ErrFrameOverwritten", err)
	}

	if !clone.Valid() || clone.Data[0] != 1 || clone.FrameUID != 1 {
		t.Errorf("clone changed: uid %d data %v", clone.FrameUID, clone.Data)
	}

	var zero Frame
	if zero.Valid() {
		t.Error("zero Frame reported valid")
	}
}

func TestFrameInvalidAfterClose(t *testing.T) {
	opts := testOptions(t)
	owner := mustCreate(t, "cam0", 2, 2, 1, opts)
	reader, err := Open("cam0", opts...)
	if err != nil {
		t.Fatal(err)
	}
	mustWrite(t, owner, 2, 2, 1, 1, pattern(4, 1))

	var f Frame
	if st := reader.Read(&f, false); st != StatusSuccess {
		t.Fatalf("Read() = %v", st)
	}
	_ = reader.Close()
	if f.Valid() {
		t.Error("frame valid after its handle was closed")
	}
}

func TestOwnerCloseLeavesStaleBlock(t *testing.T) {
	opts := testOptions(t)
	owner, err := Create("cam0", 2, 2, 1, opts...)
	if err != nil {
		t.Fatal(err)
	}
	mustWrite(t, owner, 2, 2, 1, 1, pattern(4, 1))
	if err := owner.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	info, err := Stat("cam0", opts...)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if info.Active || info.Alive || info.Poisoned {
		t.Errorf("closed block state: %+v", info)
	}
	if info.FrameUID != 1 {
		t.Errorf("FrameUID = %d, want 1", info.FrameUID)
	}
	if poisoned, err := IsPoisoned("cam0", opts...); err != nil || poisoned {
		t.Errorf("IsPoisoned() = %v, %v; want false", poisoned, err)
	}

	if st := owner.Write(2, 2, 1, 2, pattern(4, 2)); st != StatusBlockNotActive {
		t.Errorf("Write() after Close = %v, want BLOCK_NOT_ACTIVE", st)
	}

	// Anyone may scrap a block nobody owns any more.
	stale := mustOpen(t, "cam0", opts)
	if err := stale.Destroy(); err != nil {
		t.Fatalf("Destroy() of stale block failed: %v", err)
	}
	if _, err := Stat("cam0", opts...); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat() after Destroy: expected ErrNotFound, got %v", err)
	}
}

func TestDestroyPermissions(t *testing.T) {
	opts := testOptions(t)
	owner, err := Create("cam0", 2, 2, 1, opts...)
	if err != nil {
		t.Fatal(err)
	}
	reader := mustOpen(t, "cam0", opts)

	if err := reader.Destroy(); !errors.Is(err, ErrNotOwner) {
		t.Errorf("reader Destroy() of live block = %v, want ErrNotOwner", err)
	}
	if alive, err := IsAlive("cam0", opts...); err != nil || !alive {
		t.Fatalf("block should still be alive: %v, %v", alive, err)
	}

	if err := owner.Destroy(); err != nil {
		t.Fatalf("owner Destroy() failed: %v", err)
	}
	if err := owner.Destroy(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Destroy() = %v, want ErrClosed", err)
	}
}

func TestList(t *testing.T) {
	opts := testOptions(t)
	mustCreate(t, "b", 1, 1, 1, opts)
	mustCreate(t, "a", 1, 1, 1, opts)

	dir := newConfig(opts).dir
	if err := os.WriteFile(filepath.Join(dir, "unrelated"), nil, 0o600); err != nil {
		t.Fatal(err)
	}

	names, err := List(opts...)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("List() = %v, want [a b]", names)
	}
}

func TestStatusStrings(t *testing.T) {
	tests := []struct {
		status Status
		want   string
		err    error
	}{
		{StatusSuccess, "SUCCESS", nil},
		{StatusFrameSizeMismatch, "FRAME_SIZE_MISMATCH", ErrFrameSizeMismatch},
		{StatusBlockNotActive, "BLOCK_NOT_ACTIVE", ErrBlockNotActive},
		{StatusNoNewFrame, "NO_NEW_FRAME", ErrNoNewFrame},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", int(tt.status), got, tt.want)
		}
		if err := tt.status.Err(); !errors.Is(err, tt.err) && err != tt.err {
			t.Errorf("Status(%d).Err() = %v, want %v", int(tt.status), err, tt.err)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("boom")
	err := newError(CodeInternal, "cam0", "failed to open segment", cause)

	if got, want := err.Error(), `[INTERNAL] block "cam0": failed to open segment: boom`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be unwrapped")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("INTERNAL error matched ErrNotFound")
	}
	if !err.HasCode(CodeInternal) {
		t.Error("HasCode(CodeInternal) = false")
	}
}

func TestDestroyByName(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(t, WithDir(dir), WithRecoveryGrace(time.Hour))

	owner := mustCreate(t, "live", 2, 2, 1, opts)
	if _, err := Destroy("live", opts...); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Destroy() of live block = %v, want ErrNotOwner", err)
	}
	if err := owner.Close(); err != nil {
		t.Fatal(err)
	}
	info, err := Destroy("live", opts...)
	if err != nil || info.Width != 2 {
		t.Fatalf("Destroy() of stale block = %+v, %v", info, err)
	}
	if _, err := Open("live", opts...); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open() after Destroy = %v, want ErrNotFound", err)
	}

	if _, err := Destroy("missing", opts...); !errors.Is(err, ErrNotFound) {
		t.Errorf("Destroy() of missing block = %v, want ErrNotFound", err)
	}
}

func TestDestroyUnpublishedSegment(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(t, WithDir(dir), WithRecoveryGrace(time.Hour))
	path := SegmentPath(dir, "orphan")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Destroy("orphan", opts...); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Destroy() of fresh segment = %v, want ErrNotReady", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("fresh segment was removed: %v", err)
	}

	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	if _, err := Destroy("orphan", opts...); err != nil {
		t.Fatalf("Destroy() of abandoned segment = %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("abandoned segment still present: %v", err)
	}
}
