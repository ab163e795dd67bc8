// Package worker implements cuba's backup-side job pool: a bounded set of
// goroutines that each take one planner.WorkItem and turn it into a
// finalized destination object, modeled on the teacher's channel-fed,
// stats-tracked batch processor (spec §4.5).
package worker

import (
	"context"
	stderrs "errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuba/cuba/internal/filesystem"
	"github.com/cuba/cuba/internal/hash"
	"github.com/cuba/cuba/internal/metadata"
	"github.com/cuba/cuba/internal/planner"
	"github.com/cuba/cuba/internal/run"
	"github.com/cuba/cuba/internal/transform"
	"github.com/cuba/cuba/pkg/errors"
	"github.com/cuba/cuba/pkg/message"
	"github.com/cuba/cuba/pkg/password"
)

// Config names the collaborators a job needs to go from a classified
// WorkItem to a finalized destination object.
type Config struct {
	Source      filesystem.Filesystem
	Dest        filesystem.Filesystem
	Detector    *hash.Detector
	Transform   transform.Spec
	Passwords   password.Provider
	Store       *metadata.Store
	Handle      *run.Handle
	Sink        message.Sink
	Profile     string
	Concurrency int
}

// Pool runs WorkItems from an input channel through Config.Concurrency
// goroutines, recording results on the handle and metadata store as it
// goes. Stats accumulate across the pool's lifetime, mirroring the
// teacher's ProcessorStats.
type Pool struct {
	cfg Config

	mu         sync.Mutex
	fileErrors []run.FileError

	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a Pool. A non-positive Concurrency falls back to 1.
func NewPool(cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Pool{cfg: cfg}
}

// Run drains items across the pool's goroutines and blocks until every
// item has been processed or ctx is cancelled. It never returns an error
// itself: per-file failures are recorded as FileErrors, not propagated,
// per spec §5's localized-error policy.
func (p *Pool) Run(ctx context.Context, items <-chan planner.WorkItem) []run.FileError {
	var wg sync.WaitGroup
	wg.Add(p.cfg.Concurrency)

	for i := 0; i < p.cfg.Concurrency; i++ {
		go func() {
			defer wg.Done()
			for item := range items {
				if ctx.Err() != nil || p.cfg.Handle.Cancelled() {
					p.drain(items)
					return
				}
				p.process(ctx, item)
			}
		}()
	}

	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fileErrors
}

// drain consumes and discards the remaining items once cancellation is
// observed, so other still-running goroutines don't block sending to a
// channel nobody is reading anymore.
func (p *Pool) drain(items <-chan planner.WorkItem) {
	for range items {
	}
}

func (p *Pool) process(ctx context.Context, item planner.WorkItem) {
	switch item.Classification {
	case planner.Skip:
		return
	case planner.MarkMissing:
		p.cfg.Store.MarkMissing(item.RelPath)
		return
	case planner.Upload:
		p.upload(ctx, item)
	}
}

func (p *Pool) upload(ctx context.Context, item planner.WorkItem) {
	p.processed.Add(1)

	objectName := item.RelPath + transform.Suffix(p.cfg.Transform)

	src, err := p.cfg.Source.OpenRead(ctx, item.RelPath)
	if err != nil {
		p.fail(item.RelPath, "open", err)
		return
	}
	defer src.Close()

	handle, err := p.cfg.Dest.OpenWriteTemp(ctx, objectName)
	if err != nil {
		p.fail(item.RelPath, "open_dest", err)
		return
	}

	written, objectSize, digest, err := p.stream(ctx, src, handle, item)
	if err != nil {
		_ = p.cfg.Dest.Abort(ctx, handle)
		p.fail(item.RelPath, "write", err)
		return
	}

	if err := handle.Close(); err != nil {
		_ = p.cfg.Dest.Abort(ctx, handle)
		p.fail(item.RelPath, "close", err)
		return
	}

	if err := p.cfg.Dest.Finalize(ctx, handle); err != nil {
		p.fail(item.RelPath, "finalize", err)
		return
	}

	p.cfg.Store.Upsert(item.RelPath, metadata.Entry{
		Size:        item.Entry.Info.Size,
		MTime:       item.Entry.Info.ModTime,
		Hash:        digest,
		Transform:   transform.Descriptor(p.cfg.Transform),
		Object:      objectName,
		ObjectSize:  objectSize,
		State:       metadata.StatePresent,
		LastSuccess: time.Now().UTC(),
	})

	p.succeeded.Add(1)
	p.cfg.Handle.Progress.FilesCompleted.Add(1)
	p.cfg.Handle.Progress.BytesCompleted.Add(written)
	p.report(item.RelPath, "upload", true, written, nil)
}

// stream tees source bytes through the hash detector (when the digest
// isn't already known from the planner's forced comparison) and the
// transform pipeline, writing the result to handle. It returns the
// plaintext byte count, the number of bytes written to the destination
// object, and the plaintext's BLAKE3 digest.
//
// ctx is checked once per chunkSize-sized read (spec §5: cancellation
// "checked ... between pipeline chunks", never waiting longer than the
// chunk in flight), so a job cancelled mid-transfer unwinds promptly
// instead of running the copy to completion.
func (p *Pool) stream(ctx context.Context, src io.Reader, handle filesystem.WriteHandle, item planner.WorkItem) (int64, int64, string, error) {
	counted := &countingWriter{w: handle}
	dst, err := transform.Forward(p.cfg.Transform, p.cfg.Passwords, counted)
	if err != nil {
		return 0, 0, "", err
	}

	chunk := make([]byte, p.cfg.Detector.ChunkSize())

	if item.HashKnown {
		written, err := io.CopyBuffer(dst, &ctxReader{ctx: ctx, r: src}, chunk)
		if err != nil {
			return 0, 0, "", wrapStreamErr(ctx, err, item.RelPath)
		}
		if err := dst.Close(); err != nil {
			return 0, 0, "", wrapStreamErr(ctx, err, item.RelPath)
		}
		return written, counted.n, item.Hash, nil
	}

	pr, pw := io.Pipe()
	tee := io.TeeReader(&ctxReader{ctx: ctx, r: src}, pw)

	type hashResult struct {
		digest string
		err    error
	}
	resultCh := make(chan hashResult, 1)
	go func() {
		digest, _, err := p.cfg.Detector.HashReader(ctx, pr)
		resultCh <- hashResult{digest, err}
	}()

	written, copyErr := io.CopyBuffer(dst, tee, chunk)
	_ = pw.CloseWithError(copyErr)
	result := <-resultCh

	if copyErr != nil {
		return 0, 0, "", wrapStreamErr(ctx, copyErr, item.RelPath)
	}
	if result.err != nil {
		return 0, 0, "", result.err
	}
	if err := dst.Close(); err != nil {
		return 0, 0, "", wrapStreamErr(ctx, err, item.RelPath)
	}
	return written, counted.n, result.digest, nil
}

// wrapStreamErr classifies a copy failure as a cancellation (ctx already
// done, matching the error the ctxReader returned) or a plain I/O error.
func wrapStreamErr(ctx context.Context, err error, path string) error {
	if ctxErr := ctx.Err(); ctxErr != nil && stderrs.Is(err, ctxErr) {
		return errors.New(errors.KindCancelled, "file stream cancelled").WithCause(err).WithPath(path).WithComponent("worker").WithRetryable(false)
	}
	return errors.New(errors.KindIO, "failed to stream file to destination").WithCause(err).WithPath(path).WithComponent("worker").WithRetryable(true)
}

// ctxReader wraps r so Read returns ctx.Err() as soon as ctx is done
// instead of continuing to drain r, bounding how much of an in-flight
// chunk a cancelled run still copies.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// countingWriter tracks the number of bytes actually written to the
// destination handle, which is the transformed object's size -- distinct
// from the plaintext byte count when compression or encryption changes
// the length.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (p *Pool) fail(relPath, op string, err error) {
	p.failed.Add(1)
	p.cfg.Handle.Progress.FilesFailed.Add(1)

	p.mu.Lock()
	p.fileErrors = append(p.fileErrors, run.FileError{Path: relPath, Err: err})
	p.mu.Unlock()

	p.report(relPath, op, false, 0, err)
}

func (p *Pool) report(relPath, op string, success bool, bytes int64, err error) {
	if p.cfg.Sink == nil {
		return
	}
	p.cfg.Sink.Send(message.FileResultMessage(message.FileResult{
		Profile:   p.cfg.Profile,
		Path:      relPath,
		Operation: op,
		Success:   success,
		Err:       err,
		Bytes:     bytes,
	}))
}
