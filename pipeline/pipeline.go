// Package pipeline bridges an encoder-side sample channel and an
// uploader-side writer for a single stream: one goroutine inserts samples
// into the buffering engine, another drains frames in presentation order
// and writes the framed byte stream, applying tag injection at cluster
// boundaries and once at shutdown.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/evanmb/mkvfeed/media"
	"github.com/evanmb/mkvfeed/mkv"
	"github.com/evanmb/mkvfeed/stream"
)

// Pipeline feeds one Stream from a sample source and drains it into a sink.
// The sink receives the init segment once, then for each popped frame an
// optional tags block, the header fragment, and the payload, in pop order.
type Pipeline struct {
	log          *slog.Logger
	st           *stream.Stream
	sink         io.Writer
	inj          *stream.TagInjector
	boundaryTags []mkv.Tag
	shutdownTags []mkv.Tag
	highWater    int

	kick chan struct{}

	inserted      atomic.Int64
	dropped       atomic.Int64
	framesWritten atomic.Int64
	bytesWritten  atomic.Int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBoundaryTags sets the tags prefixed ahead of every cluster boundary
// after the first.
func WithBoundaryTags(tags []mkv.Tag) Option {
	return func(p *Pipeline) { p.boundaryTags = tags }
}

// WithShutdownTags sets the tags appended, with the end-of-fragment marker,
// to the final frame's payload.
func WithShutdownTags(tags []mkv.Tag) Option {
	return func(p *Pipeline) { p.shutdownTags = tags }
}

// WithHighWaterMark drops incoming samples while the stream's memory usage
// is at or above the given byte count, keeping a slow sink from growing the
// queue without bound.
func WithHighWaterMark(bytes int) Option {
	return func(p *Pipeline) { p.highWater = bytes }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New creates a Pipeline for one stream session.
func New(st *stream.Stream, sink io.Writer, opts ...Option) *Pipeline {
	p := &Pipeline{
		st:   st,
		sink: sink,
		inj:  stream.NewTagInjector(),
		kick: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("component", "pipeline", "session", uuid.NewString())
	return p
}

// Run writes the init segment, then inserts and drains until the sample
// channel closes and the queue is empty, or the context is cancelled. The
// final frame is tagged with the end-of-fragment marker before it is
// written.
func (p *Pipeline) Run(ctx context.Context, samples <-chan *media.Sample) error {
	init, err := p.st.InitSegment()
	if err != nil {
		return err
	}
	if _, err := p.sink.Write(init); err != nil {
		return fmt.Errorf("write init segment: %w", err)
	}
	p.bytesWritten.Add(int64(len(init)))
	p.log.Info("init segment written", "bytes", len(init))

	ingestDone := make(chan struct{})
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(ingestDone)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case smp, ok := <-samples:
				if !ok {
					return nil
				}
				if p.highWater > 0 && p.st.MemoryUsage() >= p.highWater {
					p.dropped.Add(1)
					p.log.Warn("over high-water mark, dropping sample",
						"track", smp.Track.String(), "ts", smp.TimestampMs)
					continue
				}
				if err := p.st.Insert(smp); err != nil {
					return fmt.Errorf("insert sample at %dms: %w", smp.TimestampMs, err)
				}
				p.inserted.Add(1)
				select {
				case p.kick <- struct{}{}:
				default:
				}
			}
		}
	})

	g.Go(func() error {
		for {
			if err := p.drain(false); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.kick:
			case <-ingestDone:
				return p.drain(true)
			}
		}
	})

	return g.Wait()
}

// drain pops until the queue is empty. On the final pass the last pending
// frame gets the shutdown tags block appended to its payload; if every
// frame was already written before the source closed, the block is written
// on its own after the last payload instead.
func (p *Pipeline) drain(final bool) error {
	wrote := false
	for {
		f := p.st.Pop()
		if f == nil {
			break
		}
		if final && p.st.IsEmpty() {
			if err := p.inj.InjectAtShutdown(f, p.shutdownTags); err != nil {
				return err
			}
			p.log.Info("end-of-fragment marker appended", "ts", f.Timestamp())
			wrote = true
		}
		if err := p.writeFrame(f); err != nil {
			return err
		}
	}

	if final && !wrote && p.framesWritten.Load() > 0 {
		block, err := mkv.EncodeTags(append(append([]mkv.Tag(nil), p.shutdownTags...), mkv.Tag{Key: mkv.TagEndOfFragment}))
		if err != nil {
			return err
		}
		if _, err := p.sink.Write(block); err != nil {
			return fmt.Errorf("write end-of-fragment tags: %w", err)
		}
		p.bytesWritten.Add(int64(len(block)))
		p.log.Info("end-of-fragment marker written after last payload")
	}
	return nil
}

func (p *Pipeline) writeFrame(f *stream.Frame) error {
	if err := p.inj.InjectAtClusterBoundary(f, p.boundaryTags, false); err != nil {
		return err
	}
	header, data := f.Content()
	if _, err := p.sink.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := p.sink.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	p.framesWritten.Add(1)
	p.bytesWritten.Add(int64(len(header) + len(data)))
	f.Release()
	return nil
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Inserted      int64
	Dropped       int64
	FramesWritten int64
	BytesWritten  int64
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Inserted:      p.inserted.Load(),
		Dropped:       p.dropped.Load(),
		FramesWritten: p.framesWritten.Load(),
		BytesWritten:  p.bytesWritten.Load(),
	}
}
