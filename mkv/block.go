package mkv

import (
	"encoding/binary"

	"github.com/evanmb/mkvfeed/media"
)

// Matroska track numbers assigned at init-segment build time. They double as
// the one-byte track VINT in SimpleBlock headers.
const (
	videoTrackNumber = byte(media.TrackVideo)
	audioTrackNumber = byte(media.TrackAudio)
)

// Fixed header fragment lengths per cluster role. A cluster-start header is
// the Cluster element (ID + unknown-size VINT + Timecode) followed by the
// sample's own SimpleBlock header; a simple-block header is the SimpleBlock
// header alone.
const (
	clusterStartHeaderLen = 35
	simpleBlockHeaderLen  = 13
)

// maxBlockPayload is the largest payload length representable in the
// SimpleBlock's 7-byte size field (which also covers the 4 bytes of track
// number, relative timestamp, and flags).
const maxBlockPayload = (1 << 56) - 1 - 4

// HeaderLen returns the fixed header fragment length for a cluster role,
// or 0 if the role is unknown.
func HeaderLen(role media.ClusterRole) int {
	switch role {
	case media.RoleClusterStart:
		return clusterStartHeaderLen
	case media.RoleSimpleBlock:
		return simpleBlockHeaderLen
	default:
		return 0
	}
}

// EncodeBlockHeader writes the header fragment for one sample into dst,
// which must be exactly HeaderLen(role) bytes. It is called once on
// insertion and again for each affected record during retroactive delta
// correction, overwriting the previous content at the same length.
//
// tsMs is the sample's absolute presentation timestamp; deltaMs its offset
// from the enclosing cluster's timecode (0 when the sample opens the
// cluster).
func EncodeBlockHeader(dst []byte, role media.ClusterRole, payloadLen int, track media.TrackType, keyframe bool, tsMs uint64, deltaMs uint16) error {
	want := HeaderLen(role)
	if want == 0 {
		return ErrUnknownRole
	}
	if len(dst) != want {
		return ErrBadHeaderLen
	}
	if payloadLen < 0 || uint64(payloadLen) > maxBlockPayload {
		return ErrPayloadSize
	}

	block := dst
	if role == media.RoleClusterStart {
		// Cluster ID, unknown size, Timecode element.
		dst[0], dst[1], dst[2], dst[3] = 0x1F, 0x43, 0xB6, 0x75
		dst[4] = 0x01
		for i := 5; i < 12; i++ {
			dst[i] = 0xFF
		}
		dst[12] = 0xE7
		dst[13] = 0x88
		binary.BigEndian.PutUint64(dst[14:22], tsMs)
		block = dst[22:]
	}

	// SimpleBlock: ID, 8-byte size VINT, track VINT, relative timestamp, flags.
	block[0] = 0xA3
	size := uint64(payloadLen) + 4
	binary.BigEndian.PutUint64(block[1:9], 1<<56|size)
	block[9] = 0x80 | byte(track)
	binary.BigEndian.PutUint16(block[10:12], deltaMs)
	block[12] = 0
	if keyframe {
		block[12] = 0x80
	}
	return nil
}
