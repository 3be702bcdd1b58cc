package stream

import (
	"sync"

	"github.com/evanmb/mkvfeed/mkv"
)

// TagInjector attaches metadata tags blocks to popped frames: ahead of a
// cluster boundary, and once at stream shutdown. One injector serves one
// stream session; its first-cluster and shutdown flags are per-injector
// state, so concurrent streams in the same process cannot corrupt each
// other's tagging.
type TagInjector struct {
	mu           sync.Mutex
	clusterSeen  bool
	shutdownDone bool
}

// NewTagInjector creates an injector with no clusters seen.
func NewTagInjector() *TagInjector {
	return &TagInjector{}
}

// InjectAtClusterBoundary prefixes a tags block to the header of a frame
// that opens a cluster. The very first cluster of the session is only
// recorded, not tagged. Frames that do not open a cluster are left alone.
// endOfStream appends the reserved end-of-fragment tag after the supplied
// tags; an empty tag list still yields a valid block.
func (ti *TagInjector) InjectAtClusterBoundary(f *Frame, tags []mkv.Tag, endOfStream bool) error {
	if ti == nil || f == nil {
		return ErrInvalidArgument
	}
	if !f.StartsCluster() {
		return nil
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()

	if !ti.clusterSeen {
		ti.clusterSeen = true
		return nil
	}

	if endOfStream {
		tags = withEndOfFragment(tags)
	}
	block, err := mkv.EncodeTags(tags)
	if err != nil {
		return err
	}

	header := make([]byte, 0, len(block)+len(f.header))
	header = append(header, block...)
	header = append(header, f.header...)
	f.header = header
	return nil
}

// InjectAtShutdown appends a tags block carrying the supplied tags and the
// reserved end-of-fragment tag after the frame's payload. Idempotent: only
// the first successful call changes anything.
func (ti *TagInjector) InjectAtShutdown(f *Frame, tags []mkv.Tag) error {
	if ti == nil || f == nil {
		return ErrInvalidArgument
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()

	if ti.shutdownDone {
		return nil
	}

	block, err := mkv.EncodeTags(withEndOfFragment(tags))
	if err != nil {
		return err
	}

	data := make([]byte, 0, len(f.sample.Data)+len(block))
	data = append(data, f.sample.Data...)
	data = append(data, block...)
	f.sample.Data = data
	ti.shutdownDone = true
	return nil
}

func withEndOfFragment(tags []mkv.Tag) []mkv.Tag {
	out := make([]mkv.Tag, 0, len(tags)+1)
	out = append(out, tags...)
	return append(out, mkv.Tag{Key: mkv.TagEndOfFragment})
}
