// Package stream implements the in-memory buffering engine that sits
// between an encoder and an uploader: it keeps pending samples in
// presentation order, wraps each with its Matroska header fragment, and
// keeps every fragment's cluster-relative delta timestamp consistent with
// the queue order regardless of arrival order.
package stream

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/evanmb/mkvfeed/media"
	"github.com/evanmb/mkvfeed/mkv"
)

// Stream owns the container init segment and the time-ordered queue of
// pending frames for one recording session. One producer may call Insert
// while one consumer calls Pop/Peek and the query methods; a single mutex
// guards the queue and the earliest-cluster-timestamp scalar.
type Stream struct {
	log      *slog.Logger
	hasVideo bool
	hasAudio bool
	memLimit int

	mu sync.Mutex
	// init is immutable between New and Close.
	init []byte
	// queue is sorted ascending by timestamp, video before audio at equal
	// timestamps.
	queue []*Frame
	// earliestClusterTs is the timestamp of the most recently popped
	// cluster-starting frame, zero before any cluster has been popped.
	earliestClusterTs uint64
}

// Option configures a Stream at creation time.
type Option func(*Stream)

// WithMemoryLimit arms a byte budget covering the stream overhead, the init
// segment, and all queued frames. Insert fails with ErrMemoryLimit rather
// than grow past it, leaving backpressure to the caller.
func WithMemoryLimit(bytes int) Option {
	return func(s *Stream) { s.memLimit = bytes }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Stream) { s.log = log }
}

// New creates a stream from its track descriptors and builds the init
// segment once. A video track is mandatory, audio optional.
func New(video *mkv.VideoTrack, audio *mkv.AudioTrack, opts ...Option) (*Stream, error) {
	if video == nil {
		return nil, fmt.Errorf("%w: video track descriptor required", ErrInvalidArgument)
	}

	init, err := mkv.BuildInitSegment(video, audio)
	if err != nil {
		return nil, err
	}

	s := &Stream{
		init:     init,
		hasVideo: true,
		hasAudio: audio != nil,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "stream")

	s.log.Info("stream created",
		"initSegmentLen", len(init),
		"audio", s.hasAudio,
		"memoryLimit", s.memLimit)
	return s, nil
}

// Close releases the init segment. Frames still queued are the caller's to
// pop and release; Close does not drain them.
func (s *Stream) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.init = nil
	s.mu.Unlock()
	if s.log != nil {
		s.log.Info("stream closed")
	}
}

// InitSegment returns the container's opening bytes, sent once before any
// media data. Fails with ErrNotInitialized on a zero-value or closed stream.
func (s *Stream) InitSegment() ([]byte, error) {
	if s == nil {
		return nil, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.init == nil {
		return nil, ErrNotInitialized
	}
	return s.init, nil
}

// Insert adds one sample to the pending queue at its timestamp-ordered
// position and generates its header fragment. At equal timestamps a video
// sample is placed before existing samples, so cluster boundaries emit
// video content first. If the sample opens a cluster ahead of already
// queued frames, the stale deltas up to the next cluster head are rewritten
// in place. On error the queue is unchanged and payload ownership stays
// with the caller.
func (s *Stream) Insert(smp *media.Sample) error {
	if s == nil || smp == nil {
		return ErrInvalidArgument
	}
	hdrLen := mkv.HeaderLen(smp.Role)
	if hdrLen == 0 {
		return ErrUnknownClusterRole
	}

	f := &Frame{sample: *smp, header: make([]byte, hdrLen)}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.init == nil {
		return ErrNotInitialized
	}
	if s.memLimit > 0 && s.memUsageLocked()+f.memSize() > s.memLimit {
		return fmt.Errorf("%w: %d bytes queued", ErrMemoryLimit, s.memUsageLocked())
	}

	// Find the insertion point, tracking the cluster timestamp that will
	// precede the new frame in queue order.
	clusterTs := s.earliestClusterTs
	pos := len(s.queue)
	for i, cur := range s.queue {
		if smp.TimestampMs < cur.sample.TimestampMs ||
			(smp.TimestampMs == cur.sample.TimestampMs && smp.Track == media.TrackVideo) {
			pos = i
			break
		}
		if cur.StartsCluster() {
			clusterTs = cur.sample.TimestampMs
		}
	}

	if smp.Role == media.RoleClusterStart {
		f.delta = 0
	} else {
		f.delta = uint16(smp.TimestampMs - clusterTs)
	}
	if err := mkv.EncodeBlockHeader(f.header, smp.Role, len(smp.Data), smp.Track, smp.Keyframe, smp.TimestampMs, f.delta); err != nil {
		return err
	}

	s.queue = append(s.queue, nil)
	copy(s.queue[pos+1:], s.queue[pos:])
	s.queue[pos] = f

	// A cluster head landing ahead of queued frames invalidates their
	// deltas up to the next cluster head.
	if smp.Role == media.RoleClusterStart && pos < len(s.queue)-1 {
		s.correctDeltasLocked(pos)
	}
	return nil
}

// correctDeltasLocked rewrites the header fragments of the frames following
// the cluster head at pos, stopping at the next cluster head: frames beyond
// it are already relative to their own cluster.
func (s *Stream) correctDeltasLocked(pos int) {
	clusterTs := s.queue[pos].sample.TimestampMs
	corrected := 0
	for _, f := range s.queue[pos+1:] {
		if f.StartsCluster() {
			break
		}
		f.delta = uint16(f.sample.TimestampMs - clusterTs)
		// Same role, same length: the rewrite cannot fail.
		_ = mkv.EncodeBlockHeader(f.header, f.sample.Role, len(f.sample.Data), f.sample.Track, f.sample.Keyframe, f.sample.TimestampMs, f.delta)
		corrected++
	}
	if corrected > 0 {
		s.log.Debug("corrected delta timestamps after early cluster head",
			"clusterTs", clusterTs, "frames", corrected)
	}
}

// Pop removes and returns the earliest pending frame, or nil if the queue
// is empty. Popping a cluster-starting frame advances the stream's earliest
// cluster timestamp. Ownership of the frame transfers to the caller.
func (s *Stream) Pop() *Frame {
	return s.pop(false)
}

// Peek returns the earliest pending frame without removing it, or nil if
// the queue is empty. Peek never mutates the stream.
func (s *Stream) Peek() *Frame {
	return s.pop(true)
}

func (s *Stream) pop(peek bool) *Frame {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}
	f := s.queue[0]
	if !peek {
		copy(s.queue, s.queue[1:])
		s.queue[len(s.queue)-1] = nil
		s.queue = s.queue[:len(s.queue)-1]
		if f.StartsCluster() {
			s.earliestClusterTs = f.sample.TimestampMs
		}
	}
	return f
}

// IsEmpty reports whether no frames are pending.
func (s *Stream) IsEmpty() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0
}

// Available reports whether at least one pending frame belongs to the
// given track.
func (s *Stream) Available(track media.TrackType) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.queue {
		if f.sample.Track == track {
			return true
		}
	}
	return false
}

// MemoryUsage returns the bytes held by the stream: fixed overhead, the
// init segment, and every queued frame's header and payload. Used by the
// producer loop for backpressure decisions.
func (s *Stream) MemoryUsage() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memUsageLocked()
}

func (s *Stream) memUsageLocked() int {
	total := streamOverhead + len(s.init)
	for _, f := range s.queue {
		total += f.memSize()
	}
	return total
}
