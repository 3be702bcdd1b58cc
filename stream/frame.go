package stream

import "github.com/evanmb/mkvfeed/media"

// Rough per-object bookkeeping costs used by memory accounting: struct
// fields plus slice headers and allocator slack. Fixed so that accounting
// is deterministic across runs.
const (
	streamOverhead = 96
	frameOverhead  = 112
)

// Frame is one queued media sample together with its generated header
// fragment. Frames are created by Insert and owned by the queue until
// popped; a popped frame belongs exclusively to whoever popped it.
type Frame struct {
	sample media.Sample
	header []byte
	delta  uint16
}

// Content returns read-only views of the frame's header fragment and
// payload. No ownership transfers. Safe on a nil frame.
func (f *Frame) Content() (header, data []byte) {
	if f == nil {
		return nil, nil
	}
	return f.header, f.sample.Data
}

// Timestamp returns the frame's presentation timestamp in milliseconds.
func (f *Frame) Timestamp() uint64 {
	if f == nil {
		return 0
	}
	return f.sample.TimestampMs
}

// DeltaTimestamp returns the offset, in milliseconds, encoded in the
// frame's header relative to its enclosing cluster. Zero for a frame that
// opens a cluster.
func (f *Frame) DeltaTimestamp() uint16 {
	if f == nil {
		return 0
	}
	return f.delta
}

// Track returns the track the frame belongs to.
func (f *Frame) Track() media.TrackType {
	if f == nil {
		return 0
	}
	return f.sample.Track
}

// StartsCluster reports whether the frame opens a new cluster.
func (f *Frame) StartsCluster() bool {
	return f != nil && f.sample.Role == media.RoleClusterStart
}

// Keyframe reports the sample's key-frame flag.
func (f *Frame) Keyframe() bool {
	return f != nil && f.sample.Keyframe
}

// Release drops the frame's buffers so the garbage collector can reclaim
// them. Must only be called on a popped frame; calling it twice is a no-op.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.header = nil
	f.sample.Data = nil
}

func (f *Frame) memSize() int {
	return frameOverhead + len(f.header) + len(f.sample.Data)
}
