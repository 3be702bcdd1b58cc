package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/evanmb/mkvfeed/media"
	"github.com/evanmb/mkvfeed/mkv"
)

func testStream(t *testing.T, opts ...Option) *Stream {
	t.Helper()
	s, err := New(
		&mkv.VideoTrack{Width: 640, Height: 480},
		&mkv.AudioTrack{SamplingHz: 8000, Channels: 1},
		opts...,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func vSample(ts uint64, role media.ClusterRole) *media.Sample {
	return &media.Sample{
		Track:       media.TrackVideo,
		Role:        role,
		Data:        []byte("video-payload"),
		TimestampMs: ts,
		Keyframe:    role == media.RoleClusterStart,
	}
}

func aSample(ts uint64) *media.Sample {
	return &media.Sample{
		Track:       media.TrackAudio,
		Role:        media.RoleSimpleBlock,
		Data:        []byte("audio-payload"),
		TimestampMs: ts,
	}
}

// headerDelta reads the relative timestamp encoded in a frame's header
// bytes. For both roles it occupies the two bytes before the flags byte.
func headerDelta(f *Frame) uint16 {
	header, _ := f.Content()
	return binary.BigEndian.Uint16(header[len(header)-3 : len(header)-1])
}

func TestInsert_OutOfOrderArrival(t *testing.T) {
	s := testStream(t)
	defer s.Close()

	// Arrival order 100, 150, 120; presentation order 100, 120, 150.
	for _, smp := range []*media.Sample{
		vSample(100, media.RoleClusterStart),
		vSample(150, media.RoleSimpleBlock),
		aSample(120),
	} {
		if err := s.Insert(smp); err != nil {
			t.Fatalf("insert %d: %v", smp.TimestampMs, err)
		}
	}

	want := []struct {
		ts      uint64
		track   media.TrackType
		delta   uint16
		cluster bool
	}{
		{100, media.TrackVideo, 0, true},
		{120, media.TrackAudio, 20, false},
		{150, media.TrackVideo, 50, false},
	}
	for i, w := range want {
		f := s.Pop()
		if f == nil {
			t.Fatalf("pop %d: queue empty", i)
		}
		if f.Timestamp() != w.ts || f.Track() != w.track || f.StartsCluster() != w.cluster {
			t.Errorf("pop %d = ts %d track %v cluster %v, want ts %d track %v cluster %v",
				i, f.Timestamp(), f.Track(), f.StartsCluster(), w.ts, w.track, w.cluster)
		}
		if f.DeltaTimestamp() != w.delta {
			t.Errorf("pop %d delta = %d, want %d", i, f.DeltaTimestamp(), w.delta)
		}
		if got := headerDelta(f); got != w.delta {
			t.Errorf("pop %d encoded delta = %d, want %d", i, got, w.delta)
		}
	}
	if !s.IsEmpty() {
		t.Error("queue not empty after popping all frames")
	}
}

func TestInsert_RetroactiveCorrection(t *testing.T) {
	s := testStream(t)
	defer s.Close()

	for _, smp := range []*media.Sample{
		vSample(100, media.RoleClusterStart),
		vSample(150, media.RoleSimpleBlock),
		aSample(120),
	} {
		if err := s.Insert(smp); err != nil {
			t.Fatalf("insert %d: %v", smp.TimestampMs, err)
		}
	}

	// A cluster head at 50 becomes the new queue head. 100 is itself a
	// cluster head, so it keeps delta 0 and shields 120/150, which stay
	// relative to 100.
	if err := s.Insert(vSample(50, media.RoleClusterStart)); err != nil {
		t.Fatalf("insert 50: %v", err)
	}

	wantDeltas := map[uint64]uint16{50: 0, 100: 0, 120: 20, 150: 50}
	for i := 0; i < 4; i++ {
		f := s.Pop()
		if f == nil {
			t.Fatalf("pop %d: queue empty", i)
		}
		if got, want := f.DeltaTimestamp(), wantDeltas[f.Timestamp()]; got != want {
			t.Errorf("ts %d delta = %d, want %d", f.Timestamp(), got, want)
		}
	}
}

func TestInsert_CorrectionRewritesUpToNextCluster(t *testing.T) {
	s := testStream(t)
	defer s.Close()

	for _, smp := range []*media.Sample{
		vSample(100, media.RoleClusterStart),
		vSample(120, media.RoleSimpleBlock),
		vSample(130, media.RoleClusterStart),
		vSample(140, media.RoleSimpleBlock),
	} {
		if err := s.Insert(smp); err != nil {
			t.Fatalf("insert %d: %v", smp.TimestampMs, err)
		}
	}

	beyond := s.queue[3]
	beforeHeader := append([]byte(nil), beyond.header...)

	// Cluster head at 110 lands between 100 and 120: 120 must be rewritten
	// relative to 110; 140 is beyond the next cluster head and untouched.
	if err := s.Insert(vSample(110, media.RoleClusterStart)); err != nil {
		t.Fatalf("insert 110: %v", err)
	}

	wantDeltas := map[uint64]uint16{100: 0, 110: 0, 120: 10, 130: 0, 140: 10}
	for _, f := range s.queue {
		if got, want := f.DeltaTimestamp(), wantDeltas[f.Timestamp()]; got != want {
			t.Errorf("ts %d delta = %d, want %d", f.Timestamp(), got, want)
		}
	}
	if !bytes.Equal(beyond.header, beforeHeader) {
		t.Error("frame beyond the next cluster head was rewritten")
	}
}

func TestInsert_VideoWinsTimestampTie(t *testing.T) {
	s := testStream(t)
	defer s.Close()

	if err := s.Insert(vSample(90, media.RoleClusterStart)); err != nil {
		t.Fatalf("insert 90: %v", err)
	}
	if err := s.Insert(aSample(100)); err != nil {
		t.Fatalf("insert audio 100: %v", err)
	}
	if err := s.Insert(vSample(100, media.RoleSimpleBlock)); err != nil {
		t.Fatalf("insert video 100: %v", err)
	}

	s.Pop() // 90
	if f := s.Pop(); f.Track() != media.TrackVideo {
		t.Errorf("first frame at 100 is %v, want video", f.Track())
	}
	if f := s.Pop(); f.Track() != media.TrackAudio {
		t.Errorf("second frame at 100 is %v, want audio", f.Track())
	}
}

func TestInsert_UnknownRole(t *testing.T) {
	s := testStream(t)
	defer s.Close()

	err := s.Insert(&media.Sample{Track: media.TrackVideo, Role: media.ClusterRole(7), TimestampMs: 10})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
	if !s.IsEmpty() {
		t.Error("failed insert left a frame queued")
	}
}

func TestInsert_MemoryLimitRollback(t *testing.T) {
	s := testStream(t)
	limit := s.MemoryUsage() + 1
	s.Close()

	s = testStream(t, WithMemoryLimit(limit))
	defer s.Close()

	before := s.MemoryUsage()
	err := s.Insert(vSample(100, media.RoleClusterStart))
	if !errors.Is(err, ErrMemoryLimit) {
		t.Fatalf("error = %v, want ErrMemoryLimit", err)
	}
	if !s.IsEmpty() {
		t.Error("failed insert left a frame queued")
	}
	if got := s.MemoryUsage(); got != before {
		t.Errorf("memory usage changed on failed insert: %d -> %d", before, got)
	}
}

func TestMemoryAccounting(t *testing.T) {
	s := testStream(t)
	defer s.Close()

	base := s.MemoryUsage()
	init, err := s.InitSegment()
	if err != nil {
		t.Fatalf("init segment: %v", err)
	}
	if base != streamOverhead+len(init) {
		t.Errorf("empty stream usage = %d, want %d", base, streamOverhead+len(init))
	}

	prev := base
	for i := 0; i < 5; i++ {
		role := media.RoleSimpleBlock
		if i == 0 {
			role = media.RoleClusterStart
		}
		if err := s.Insert(vSample(uint64(100+i*10), role)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		got := s.MemoryUsage()
		if got <= prev {
			t.Errorf("usage after insert %d = %d, want > %d", i, got, prev)
		}
		prev = got
	}

	for !s.IsEmpty() {
		before := s.MemoryUsage()
		f := s.Pop()
		header, data := f.Content()
		want := before - (frameOverhead + len(header) + len(data))
		if got := s.MemoryUsage(); got != want {
			t.Errorf("usage after pop = %d, want %d", got, want)
		}
	}
	if got := s.MemoryUsage(); got != base {
		t.Errorf("drained usage = %d, want %d", got, base)
	}
}

func TestPop_Empty(t *testing.T) {
	s := testStream(t)
	defer s.Close()

	if f := s.Pop(); f != nil {
		t.Errorf("pop on empty queue = %v, want nil", f)
	}
	if f := s.Peek(); f != nil {
		t.Errorf("peek on empty queue = %v, want nil", f)
	}
}

func TestPeek_DoesNotMutate(t *testing.T) {
	s := testStream(t)
	defer s.Close()

	if err := s.Insert(vSample(100, media.RoleClusterStart)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	p1 := s.Peek()
	p2 := s.Peek()
	if p1 == nil || p1 != p2 {
		t.Error("peek must return the head without unlinking it")
	}
	if s.earliestClusterTs != 0 {
		t.Error("peek advanced the cluster timestamp")
	}
	if s.IsEmpty() {
		t.Error("peek removed the head")
	}
}

func TestPop_AdvancesClusterBase(t *testing.T) {
	s := testStream(t)
	defer s.Close()

	if err := s.Insert(vSample(100, media.RoleClusterStart)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if f := s.Pop(); f == nil || f.Timestamp() != 100 {
		t.Fatal("pop cluster head failed")
	}

	// A block inserted after the cluster head was popped is still relative
	// to that cluster.
	if err := s.Insert(vSample(130, media.RoleSimpleBlock)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if f := s.Pop(); f.DeltaTimestamp() != 30 {
		t.Errorf("delta = %d, want 30 relative to popped cluster head", f.DeltaTimestamp())
	}
}

func TestAvailable(t *testing.T) {
	s := testStream(t)
	defer s.Close()

	if s.Available(media.TrackVideo) || s.Available(media.TrackAudio) {
		t.Error("empty stream reports track data")
	}
	if err := s.Insert(vSample(100, media.RoleClusterStart)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !s.Available(media.TrackVideo) {
		t.Error("video frame queued but not reported")
	}
	if s.Available(media.TrackAudio) {
		t.Error("audio reported with only video queued")
	}
	if err := s.Insert(aSample(110)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !s.Available(media.TrackAudio) {
		t.Error("audio frame queued but not reported")
	}
}

func TestNew_RequiresVideo(t *testing.T) {
	if _, err := New(nil, &mkv.AudioTrack{SamplingHz: 8000}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}

func TestClose(t *testing.T) {
	s := testStream(t)
	if _, err := s.InitSegment(); err != nil {
		t.Fatalf("init segment before close: %v", err)
	}
	s.Close()
	if _, err := s.InitSegment(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("init segment after close = %v, want ErrNotInitialized", err)
	}
	if err := s.Insert(vSample(100, media.RoleClusterStart)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("insert after close = %v, want ErrNotInitialized", err)
	}
}

func TestConcurrentInsertAndPop(t *testing.T) {
	s := testStream(t)
	defer s.Close()

	const n = 500
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			role := media.RoleSimpleBlock
			if i%25 == 0 {
				role = media.RoleClusterStart
			}
			if err := s.Insert(vSample(uint64(i*10), role)); err != nil {
				t.Errorf("insert %d: %v", i, err)
				return
			}
		}
	}()

	var popped []uint64
	for len(popped) < n {
		if f := s.Pop(); f != nil {
			popped = append(popped, f.Timestamp())
			f.Release()
		}
	}
	wg.Wait()

	for i := 1; i < len(popped); i++ {
		if popped[i] < popped[i-1] {
			t.Fatalf("pop order not monotonic: %d after %d", popped[i], popped[i-1])
		}
	}
}
