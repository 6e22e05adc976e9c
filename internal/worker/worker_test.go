package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"photonic/internal/driver"
	"photonic/internal/driver/simulator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnqueueExposeReturnsFrame(t *testing.T) {
	sim := simulator.New(simulator.DefaultConfig())
	th := New(sim, sim, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th.Start(ctx)
	defer th.Stop()

	frame, err := th.EnqueueExpose(ctx, 10, driver.ExposeOptions{}, driver.Rect{})
	require.NoError(t, err)
	require.NotEmpty(t, frame)
}

func TestEnqueueMoveSucceeds(t *testing.T) {
	sim := simulator.New(simulator.DefaultConfig())
	th := New(sim, sim, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th.Start(ctx)
	defer th.Stop()

	res, err := th.EnqueueMove(ctx, driver.West, 50)
	require.NoError(t, err)
	require.Equal(t, driver.MoveOK, res)
}

func TestMoveIsNotStarvedByExpose(t *testing.T) {
	sim := simulator.New(simulator.DefaultConfig())
	th := New(sim, sim, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th.Start(ctx)
	defer th.Stop()

	done := make(chan struct{})
	go func() {
		_, _ = th.EnqueueExpose(ctx, 5, driver.ExposeOptions{}, driver.Rect{})
		close(done)
	}()

	select {
	case res := <-moveAsync(th, ctx):
		require.Equal(t, driver.MoveOK, res)
	case <-time.After(2 * time.Second):
		t.Fatal("move request timed out behind expose")
	}
	<-done
}

func TestRequestStopAbortsLongExposureQuickly(t *testing.T) {
	sim := simulator.New(simulator.DefaultConfig())
	th := New(sim, sim, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th.Start(ctx)
	defer th.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := th.EnqueueExpose(ctx, 5000, driver.ExposeOptions{}, driver.Rect{})
		done <- err
	}()

	// Give the worker a moment to pick up and start waiting out the exposure.
	time.Sleep(20 * time.Millisecond)
	th.RequestStop()

	select {
	case err := <-done:
		require.ErrorIs(t, err, errExposureAborted)
	case <-time.After(time.Second):
		t.Fatal("stop request did not abort the in-progress exposure within a second")
	}
	th.ClearStop()
}

func moveAsync(th *Thread, ctx context.Context) <-chan driver.MoveResult {
	ch := make(chan driver.MoveResult, 1)
	go func() {
		res, _ := th.EnqueueMove(ctx, driver.North, 10)
		ch <- res
	}()
	return ch
}
