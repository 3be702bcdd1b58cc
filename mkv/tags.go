package mkv

import (
	"bytes"
	"fmt"

	"github.com/at-wat/ebml-go"
)

// TagEndOfFragment is the reserved tag key that marks the end of a streamed
// fragment. It carries an empty value and serializes like any other tag.
const TagEndOfFragment = "AWS_KINESISVIDEO_END_OF_FRAGMENT"

// Maximum tag key and value lengths accepted by the ingest service.
const (
	MaxTagKeyLen   = 128
	MaxTagValueLen = 256
)

// Tag is one metadata key/value pair carried in a Tags block.
type Tag struct {
	Key   string
	Value string
}

type tagsDoc struct {
	Tags tagsElement `ebml:"Tags"`
}

type tagsElement struct {
	Tag []tagElement `ebml:"Tag"`
}

type tagElement struct {
	SimpleTag []simpleTag `ebml:"SimpleTag"`
}

type simpleTag struct {
	TagName   string `ebml:"TagName"`
	TagString string `ebml:"TagString"`
}

// EncodeTags encodes an ordered sequence of tags as a single Tags element
// holding one Tag with one SimpleTag per pair. An empty sequence yields a
// valid, empty Tags block.
func EncodeTags(tags []Tag) ([]byte, error) {
	entry := tagElement{SimpleTag: make([]simpleTag, 0, len(tags))}
	for _, t := range tags {
		if len(t.Key) > MaxTagKeyLen || len(t.Value) > MaxTagValueLen {
			return nil, fmt.Errorf("%w: key %q", ErrTagTooLong, t.Key)
		}
		entry.SimpleTag = append(entry.SimpleTag, simpleTag{TagName: t.Key, TagString: t.Value})
	}

	doc := tagsDoc{Tags: tagsElement{Tag: []tagElement{entry}}}
	var buf bytes.Buffer
	if err := ebml.Marshal(&doc, &buf); err != nil {
		return nil, fmt.Errorf("mkv: marshal tags: %w", err)
	}
	return buf.Bytes(), nil
}
