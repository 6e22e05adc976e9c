package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"photonic/internal/config"
	"photonic/internal/controller"
	"photonic/internal/driver/simulator"
	"photonic/internal/store"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.DashboardPort = 0
	cfg.Equipment.CalibrationStepMs = 500
	cfg.Paths.DarkLibrary = t.TempDir()

	sim := simulator.New(simulator.DefaultConfig())
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sess, err := New(cfg, "default", sim, sim, nil, nil, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sess.Start(ctx))
	t.Cleanup(func() {
		sess.Stop()
		cancel()
	})
	return sess
}

func TestGuideWithAOCalibratesSecondaryStage(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.DashboardPort = 0
	cfg.Equipment.CalibrationStepMs = 500
	cfg.Paths.DarkLibrary = t.TempDir()
	cfg.Equipment.AO.Name = "simulated-ao"

	sim := simulator.New(simulator.DefaultConfig())
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sess, err := New(cfg, "default", sim, sim, sim, nil, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sess.Start(ctx))
	t.Cleanup(func() {
		sess.Stop()
		cancel()
	})

	sess.SetExposure(20)

	guideCtx, guideCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer guideCancel()
	require.NoError(t, sess.Guide(guideCtx, controller.DefaultSettleParams(), false))

	require.True(t, sess.GetCalibrated())
	require.True(t, sess.guide.AOCalibration().Valid)

	info, err := sess.ctrl.GuideOneFrame(guideCtx, sess.Exposure())
	require.NoError(t, err)
	require.Equal(t, "ao", info.Actuator)

	sess.StopCapture()
}

func TestGuideCalibratesThenStartsGuiding(t *testing.T) {
	sess := newTestSession(t)
	sess.SetExposure(20)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	err := sess.Guide(ctx, controller.DefaultSettleParams(), false)
	require.NoError(t, err)

	require.True(t, sess.GetCalibrated())
	require.Equal(t, AppGuiding, sess.AppState())

	sess.StopCapture()
	require.Equal(t, AppStopped, sess.AppState())
}

func TestFindStarSetsLockPosition(t *testing.T) {
	sess := newTestSession(t)
	sess.SetExposure(20)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, sess.FindStar(ctx))

	x, y, valid := sess.GetLockPosition()
	require.True(t, valid)
	require.Greater(t, x, 0.0)
	require.Greater(t, y, 0.0)
}

func TestPixelScale(t *testing.T) {
	sess := newTestSession(t)
	scale := sess.PixelScale()
	require.Greater(t, scale, 0.0)
}

func TestSetPausedTogglesGuiderPauseState(t *testing.T) {
	sess := newTestSession(t)

	sess.SetPaused(true, true)
	require.Equal(t, AppPaused, sess.AppState())

	sess.SetPaused(false, false)
	require.Equal(t, AppStopped, sess.AppState())
}

func TestStopCaptureIsIdempotent(t *testing.T) {
	sess := newTestSession(t)
	sess.StopCapture()
	sess.StopCapture()
	require.Equal(t, AppStopped, sess.AppState())
}

func TestDarkLibraryWatchUpdatesStoreOnNewFile(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.DashboardPort = 0
	darkDir := t.TempDir()
	cfg.Paths.DarkLibrary = darkDir

	st, err := store.New(filepath.Join(t.TempDir(), "profile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.EnsureProfile("default", cfg.Instance))

	sim := simulator.New(simulator.DefaultConfig())
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	sess, err := New(cfg, "default", sim, sim, nil, st, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		sess.Stop()
		cancel()
	})
	require.NoError(t, sess.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(darkDir, "master_dark_300s.fits"), []byte("fake"), 0o644))

	require.Eventually(t, func() bool {
		path, err := st.DarkLibrary("default")
		return err == nil && path == darkDir
	}, 2*time.Second, 20*time.Millisecond)
}
