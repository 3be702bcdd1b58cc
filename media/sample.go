// Package media defines the sample types that flow through the mkvfeed
// buffering engine, from encoder callback to uploader hand-off.
package media

// TrackType identifies which track a sample belongs to. Track numbers here
// are also the Matroska track numbers written into block headers.
type TrackType uint8

const (
	TrackVideo TrackType = 1
	TrackAudio TrackType = 2
)

// String returns the track name used in log output.
func (t TrackType) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// ClusterRole says whether a sample opens a new cluster or rides inside the
// current one. The role decides the shape and length of the generated header
// fragment.
type ClusterRole uint8

const (
	// RoleClusterStart marks a sample that begins a new cluster. Its header
	// carries the cluster element, timecode, and the sample's own block.
	RoleClusterStart ClusterRole = 1
	// RoleSimpleBlock marks a sample encoded as a SimpleBlock inside the
	// cluster that precedes it in queue order.
	RoleSimpleBlock ClusterRole = 2
)

// Sample is one timestamped media unit handed to the engine by an encoder.
// Ownership of Data transfers to the engine on successful insertion; after a
// failed insert the caller still owns it.
type Sample struct {
	Track       TrackType
	Role        ClusterRole
	Data        []byte
	TimestampMs uint64
	Keyframe    bool
}
