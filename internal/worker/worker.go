// Package worker runs camera exposures and mount moves on a single
// goroutine through two priority queues, mirroring the cooperative
// scheduler a single-threaded GUI application uses to keep its UI
// responsive while talking to hardware.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"photonic/internal/driver"
)

// interrupt bits, checked between sleep chunks during a long exposure.
const (
	intNone      int32 = 0
	intStop      int32 = 1 << 0
	intTerminate int32 = 1 << 1
)

// sleepChunkMs bounds how long a single interruptible sleep waits before
// re-checking the interrupt bitfield, so a stop/terminate request lands
// within one chunk of being issued.
const sleepChunkMs = 100

// RequestKind identifies the operation a Request carries.
type RequestKind int

const (
	ReqExpose RequestKind = iota
	ReqMove
	ReqTerminate
)

// Request is one unit of work submitted to the Thread.
type Request struct {
	Kind RequestKind

	DurationMs int
	Opts       driver.ExposeOptions
	Subframe   driver.Rect

	Dir driver.Direction

	done chan Response
}

// Response carries the outcome of a Request back to its submitter.
type Response struct {
	Frame      []byte
	MoveResult driver.MoveResult
	Err        error
}

// Thread is a single-goroutine worker that serializes all hardware access.
// Move and Terminate requests are high priority and always dequeue ahead of
// any pending Expose; this keeps a guide correction from queuing behind a
// multi-second exposure.
type Thread struct {
	camera driver.Camera
	mount  driver.Mount
	log    *slog.Logger

	high chan Request
	low  chan Request

	interrupt atomic.Int32

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New returns a Thread driving camera and mount. mount may be nil if the
// thread only ever issues Expose requests (e.g. a looping-only preview).
func New(camera driver.Camera, mount driver.Mount, log *slog.Logger) *Thread {
	return &Thread{
		camera: camera,
		mount:  mount,
		log:    log,
		high:   make(chan Request, 8),
		low:    make(chan Request, 1),
	}
}

// Start launches the worker goroutine. Safe to call once; subsequent calls
// are no-ops.
func (t *Thread) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		t.cancel = cancel
		t.wg.Add(1)
		go t.run(ctx)
	})
}

// Stop requests termination and waits for the worker goroutine to exit.
func (t *Thread) Stop() {
	t.stopOnce.Do(func() {
		t.interrupt.Or(intTerminate)
		if t.cancel != nil {
			t.cancel()
		}
		t.wg.Wait()
	})
}

// RequestStop sets the stop interrupt, aborting any in-progress exposure's
// remaining sleep early; the exposure call still returns (with whatever
// partial frame the camera driver produces).
func (t *Thread) RequestStop() {
	t.interrupt.Or(intStop)
}

// ClearStop clears the stop interrupt ahead of the next exposure.
func (t *Thread) ClearStop() {
	t.interrupt.And(^intStop)
}

func (t *Thread) run(ctx context.Context) {
	defer t.wg.Done()
	for {
		// Drain any queued high-priority request before considering a low
		// priority one, so Move never waits behind a pending Expose.
		select {
		case req := <-t.high:
			t.handle(ctx, req)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			t.drain()
			return
		case req := <-t.high:
			t.handle(ctx, req)
		case req := <-t.low:
			t.handle(ctx, req)
		}
	}
}

func (t *Thread) drain() {
	for {
		select {
		case req := <-t.high:
			req.done <- Response{Err: errors.New("worker stopped")}
		case req := <-t.low:
			req.done <- Response{Err: errors.New("worker stopped")}
		default:
			return
		}
	}
}

func (t *Thread) handle(ctx context.Context, req Request) {
	switch req.Kind {
	case ReqExpose:
		req.done <- t.doExpose(ctx, req)
	case ReqMove:
		req.done <- t.doMove(ctx, req)
	case ReqTerminate:
		req.done <- Response{}
	}
}

// errExposureAborted marks a completion event whose exposure was cut short
// by INT_STOP or INT_TERMINATE; the frame is still returned, possibly empty.
var errExposureAborted = errors.New("worker: exposure aborted by stop request")

func (t *Thread) doExpose(ctx context.Context, req Request) Response {
	if !t.camera.HasNonGuiCapture() {
		t.log.Warn("camera driver has no async capture path; blocking worker loop for exposure",
			"durationMs", req.DurationMs)
	}
	// The worker waits out the exposure duration itself, in interruptible
	// chunks, so a stop/terminate request lands within sleepChunkMs rather
	// than waiting for the full exposure to elapse.
	sleepInterruptible(ctx, req.DurationMs, &t.interrupt)
	frame, err := t.camera.Capture(ctx, req.DurationMs, req.Opts, req.Subframe)
	if err == nil && t.interrupt.Load()&(intStop|intTerminate) != 0 {
		err = errExposureAborted
	}
	return Response{Frame: frame, Err: err}
}

func (t *Thread) doMove(ctx context.Context, req Request) Response {
	if t.mount == nil {
		return Response{Err: errors.New("worker: no mount configured")}
	}
	res, err := t.mount.Move(ctx, req.Dir, req.DurationMs)
	return Response{MoveResult: res, Err: err}
}

// EnqueueExpose submits a low-priority Expose request and blocks for its
// result.
func (t *Thread) EnqueueExpose(ctx context.Context, durationMs int, opts driver.ExposeOptions, subframe driver.Rect) ([]byte, error) {
	req := Request{Kind: ReqExpose, DurationMs: durationMs, Opts: opts, Subframe: subframe, done: make(chan Response, 1)}
	select {
	case t.low <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-req.done:
		return resp.Frame, resp.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnqueueMove submits a high-priority Move request and blocks for its
// result.
func (t *Thread) EnqueueMove(ctx context.Context, dir driver.Direction, durationMs int) (driver.MoveResult, error) {
	req := Request{Kind: ReqMove, Dir: dir, DurationMs: durationMs, done: make(chan Response, 1)}
	select {
	case t.high <- req:
	case <-ctx.Done():
		return driver.MoveError, ctx.Err()
	}
	select {
	case resp := <-req.done:
		return resp.MoveResult, resp.Err
	case <-ctx.Done():
		return driver.MoveError, ctx.Err()
	}
}

// sleepInterruptible sleeps for durationMs in sleepChunkMs chunks, returning
// early if ctx is canceled or the stop/terminate interrupt is set.
func sleepInterruptible(ctx context.Context, durationMs int, interrupt *atomic.Int32) {
	remaining := durationMs
	for remaining > 0 {
		if interrupt.Load() != intNone {
			return
		}
		chunk := sleepChunkMs
		if remaining < chunk {
			chunk = remaining
		}
		timer := time.NewTimer(time.Duration(chunk) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		remaining -= chunk
	}
}
