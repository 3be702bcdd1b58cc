package mkv

import (
	"bytes"
	"fmt"

	"github.com/at-wat/ebml-go"
)

// timecodeScaleMs makes one Matroska timecode tick equal one millisecond,
// so block delta timestamps are written in ms directly.
const timecodeScaleMs = 1_000_000

const muxingApp = "mkvfeed"

type initDoc struct {
	Header  ebmlHeader `ebml:"EBML"`
	Segment segment    `ebml:"Segment,size=unknown"`
}

type ebmlHeader struct {
	EBMLVersion            uint64
	EBMLReadVersion        uint64
	EBMLMaxIDLength        uint64
	EBMLMaxSizeLength      uint64
	EBMLDocType            string
	EBMLDocTypeVersion     uint64
	EBMLDocTypeReadVersion uint64
}

type segment struct {
	Info   segmentInfo
	Tracks tracks
}

type segmentInfo struct {
	TimecodeScale uint64
	MuxingApp     string
	WritingApp    string
}

type tracks struct {
	TrackEntry []trackEntry
}

type trackEntry struct {
	TrackNumber  uint64
	TrackUID     uint64
	TrackType    uint64
	Name         string      `ebml:",omitempty"`
	CodecID      string      `ebml:",omitempty"`
	CodecPrivate []byte      `ebml:",omitempty"`
	Video        *videoEntry `ebml:",omitempty"`
	Audio        *audioEntry `ebml:",omitempty"`
}

type videoEntry struct {
	PixelWidth  uint64
	PixelHeight uint64
}

type audioEntry struct {
	SamplingFrequency float64
	Channels          uint64
	BitDepth          uint64 `ebml:",omitempty"`
}

// BuildInitSegment encodes the EBML header and the open-ended Segment
// (Info + Tracks) that precedes all media data. The Segment is written with
// an unknown size so clusters can follow it indefinitely. A video track is
// mandatory; audio is optional.
func BuildInitSegment(video *VideoTrack, audio *AudioTrack) ([]byte, error) {
	if video == nil {
		return nil, ErrNoVideoTrack
	}

	doc := initDoc{
		Header: ebmlHeader{
			EBMLVersion:            1,
			EBMLReadVersion:        1,
			EBMLMaxIDLength:        4,
			EBMLMaxSizeLength:      8,
			EBMLDocType:            "matroska",
			EBMLDocTypeVersion:     2,
			EBMLDocTypeReadVersion: 2,
		},
		Segment: segment{
			Info: segmentInfo{
				TimecodeScale: timecodeScaleMs,
				MuxingApp:     muxingApp,
				WritingApp:    muxingApp,
			},
		},
	}

	doc.Segment.Tracks.TrackEntry = append(doc.Segment.Tracks.TrackEntry, videoTrackEntry(video))
	if audio != nil {
		doc.Segment.Tracks.TrackEntry = append(doc.Segment.Tracks.TrackEntry, audioTrackEntry(audio))
	}

	var buf bytes.Buffer
	if err := ebml.Marshal(&doc, &buf); err != nil {
		return nil, fmt.Errorf("mkv: marshal init segment: %w", err)
	}
	return buf.Bytes(), nil
}

func videoTrackEntry(v *VideoTrack) trackEntry {
	e := trackEntry{
		TrackNumber:  uint64(videoTrackNumber),
		TrackUID:     uint64(videoTrackNumber),
		TrackType:    1, // video
		Name:         v.Name,
		CodecID:      v.CodecID,
		CodecPrivate: v.CodecPrivate,
	}
	if e.Name == "" {
		e.Name = defaultVideoTrackName
	}
	if e.CodecID == "" {
		e.CodecID = DefaultVideoCodecID
	}
	if v.Width > 0 && v.Height > 0 {
		e.Video = &videoEntry{PixelWidth: v.Width, PixelHeight: v.Height}
	}
	return e
}

func audioTrackEntry(a *AudioTrack) trackEntry {
	e := trackEntry{
		TrackNumber:  uint64(audioTrackNumber),
		TrackUID:     uint64(audioTrackNumber),
		TrackType:    2, // audio
		Name:         a.Name,
		CodecID:      a.CodecID,
		CodecPrivate: a.CodecPrivate,
	}
	if e.Name == "" {
		e.Name = defaultAudioTrackName
	}
	if e.CodecID == "" {
		e.CodecID = DefaultAudioCodecID
	}
	if a.SamplingHz > 0 {
		e.Audio = &audioEntry{
			SamplingFrequency: a.SamplingHz,
			Channels:          a.Channels,
			BitDepth:          a.BitDepth,
		}
		if e.Audio.Channels == 0 {
			e.Audio.Channels = 1
		}
	}
	return e
}
