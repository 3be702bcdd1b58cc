// Package mkv encodes the Matroska header fragments the buffering engine
// wraps around media samples: the one-shot init segment, fixed-length
// cluster/SimpleBlock headers, and metadata tags blocks.
//
// The init segment and tags blocks are self-contained EBML trees and are
// marshalled with ebml-go. Block headers are hand-encoded fixed templates:
// the engine rewrites their delta timestamps in place after out-of-order
// insertions, so their length must be stable per cluster role.
package mkv

import "errors"

var (
	ErrNoVideoTrack = errors.New("mkv: video track descriptor required")
	ErrUnknownRole  = errors.New("mkv: unknown cluster role")
	ErrBadHeaderLen = errors.New("mkv: destination length does not match role header length")
	ErrPayloadSize  = errors.New("mkv: payload length not representable in block size field")
	ErrTagTooLong   = errors.New("mkv: tag key or value too long")
)

// Codec IDs and track names used when a descriptor leaves them empty,
// matching the reference camera configuration of the original producer.
const (
	DefaultVideoCodecID = "V_MPEG4/ISO/AVC"
	DefaultAudioCodecID = "A_AAC"

	defaultVideoTrackName = "video track"
	defaultAudioTrackName = "audio track"
)

// VideoTrack describes the mandatory video track of a stream.
// Immutable after stream creation.
type VideoTrack struct {
	Name         string
	CodecID      string
	Width        uint64
	Height       uint64
	CodecPrivate []byte
}

// AudioTrack describes the optional audio track of a stream.
type AudioTrack struct {
	Name         string
	CodecID      string
	SamplingHz   float64
	Channels     uint64
	BitDepth     uint64
	CodecPrivate []byte
}
