// Package session wires the active mount, camera, guider, controller and
// event server into one explicit context, replacing the original's global
// pFrame/pMount/pCamera globals with one explicit context object.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"photonic/internal/algorithm"
	"photonic/internal/calibration"
	"photonic/internal/config"
	"photonic/internal/controller"
	"photonic/internal/darklib"
	"photonic/internal/dashboard"
	"photonic/internal/driver"
	"photonic/internal/eventserver"
	"photonic/internal/guider"
	"photonic/internal/mount"
	"photonic/internal/point"
	"photonic/internal/starfield"
	"photonic/internal/store"
	"photonic/internal/worker"
)

// AppState mirrors the original's EXPOSED_STATE enum, reported by
// get_app_state and the AppState event.
type AppState string

const (
	AppStopped      AppState = "Stopped"
	AppSelected     AppState = "Selected"
	AppCalibrating  AppState = "Calibrating"
	AppGuiding      AppState = "Guiding"
	AppLostLock     AppState = "LostLock"
	AppPaused       AppState = "Paused"
	AppLooping      AppState = "Looping"
)

// workerMover adapts *worker.Thread's EnqueueMove to guider.Mover so guide
// corrections flow through the worker's priority queues instead of calling
// the mount driver directly.
type workerMover struct{ t *worker.Thread }

func (m workerMover) Move(ctx context.Context, dir driver.Direction, durationMs int) (driver.MoveResult, error) {
	return m.t.EnqueueMove(ctx, dir, durationMs)
}

// Session owns every live component for one guiding instance: the worker
// thread, the guider, the calibration-driving controller, the control
// surface and the read-only dashboard.
type Session struct {
	cfg     *config.Config
	profile string
	log     *slog.Logger

	camera   driver.Camera
	mountDrv driver.Mount
	aoDrv    driver.AO // nil if no AO configured

	thread *worker.Thread
	guide  *guider.Guider
	ctrl   *controller.Controller

	events *eventserver.Server
	dash   *dashboard.Server
	st     *store.Store
	darks  *darklib.Watcher

	mu          sync.RWMutex
	connected   bool
	exposureMs  int
	looping     bool
	state       AppState
	prePause    AppState
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
}

// New wires a Session from cfg, using camera/mountDrv/aoDrv as the active
// drivers (aoDrv may be nil). The caller must call Start before issuing any
// RPC-driven operation.
func New(cfg *config.Config, profile string, camera driver.Camera, mountDrv driver.Mount, aoDrv driver.AO, st *store.Store, log *slog.Logger) (*Session, error) {
	raFilter, err := algorithm.New(cfg.Algorithms.RA.Name)
	if err != nil {
		return nil, fmt.Errorf("session: ra algorithm: %w", err)
	}
	decFilter, err := algorithm.New(cfg.Algorithms.Dec.Name)
	if err != nil {
		return nil, fmt.Errorf("session: dec algorithm: %w", err)
	}
	applyParams(raFilter, cfg.Algorithms.RA.Params)
	applyParams(decFilter, cfg.Algorithms.Dec.Params)

	thread := worker.New(camera, mountDrv, log)
	g := guider.New(workerMover{thread}, raFilter, decFilter, log)

	if aoDrv != nil {
		g.SetAOMover(aoDrv)
		mover := workerMover{thread}
		aoDrv.SetBumpCallback(func(ctx context.Context, dir driver.Direction, amount int) {
			if _, err := mover.Move(ctx, dir, amount); err != nil {
				log.Warn("ao bump: mount correction failed", "error", err)
				return
			}
			if err := aoDrv.Center(ctx); err != nil {
				log.Warn("ao bump: recenter failed", "error", err)
			}
		})
	}

	s := &Session{
		cfg:        cfg,
		profile:    profile,
		log:        log,
		camera:     camera,
		mountDrv:   mountDrv,
		aoDrv:      aoDrv,
		thread:     thread,
		guide:      g,
		events:     eventserver.New(fmt.Sprintf(":%d", cfg.Server.Port), cfg.Instance, log),
		dash:       dashboard.New(cfg.Server.DashboardPort, log),
		st:         st,
		exposureMs: 1000,
		state:      AppStopped,
	}
	s.ctrl = controller.New(thread, g, nil, s.currentDeclination, s.currentPierSide, log)
	s.registerRPC()

	if st != nil {
		if cal, err := st.LoadCalibration(profile); err == nil && cal.Valid {
			g.SetCalibration(cal)
		}
	}
	return s, nil
}

func applyParams(f algorithm.Filter, params map[string]float64) {
	for name, value := range params {
		_ = f.SetParam(name, value) // invalid tunables are left at their default
	}
}

// Start launches the worker thread, the control/dashboard servers, and (if a
// dark-frame library path is configured) the directory watcher that keeps
// the profile store's dark_library metadata in step with what's on disk.
func (s *Session) Start(ctx context.Context) error {
	s.thread.Start(ctx)
	if err := s.events.Start(); err != nil {
		return err
	}
	if err := s.startDarkLibraryWatch(); err != nil {
		s.log.Warn("session: dark library watch disabled", "error", err)
	}
	return s.dash.Start(ctx)
}

func (s *Session) startDarkLibraryWatch() error {
	dir := s.cfg.Paths.DarkLibrary
	if dir == "" {
		return nil
	}
	dir, err := config.ExpandPath(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dark library dir: %w", err)
	}
	w, err := darklib.New(dir, s.log)
	if err != nil {
		return err
	}
	s.darks = w
	go func() {
		for ev := range w.Events {
			if s.st != nil {
				s.st.SetDarkLibrary(s.profile, dir)
			}
			s.events.Broadcast("DarkLibraryChanged", map[string]interface{}{
				"Path": ev.Path, "Operation": ev.Operation,
			})
		}
	}()
	return nil
}

// Stop halts guiding and tears every component down.
func (s *Session) Stop() {
	s.StopCapture()
	if s.darks != nil {
		s.darks.Stop()
	}
	s.events.Stop()
	s.dash.Stop()
	s.thread.Stop()
}

func (s *Session) currentDeclination() float64 {
	if s.mountDrv == nil {
		return 0
	}
	dec, err := s.mountDrv.GetDeclination()
	if err != nil {
		return 0
	}
	return dec
}

func (s *Session) currentPierSide() calibration.PierSide {
	if s.mountDrv == nil {
		return calibration.PierSideUnknown
	}
	side, err := s.mountDrv.SideOfPier()
	if err != nil {
		return calibration.PierSideUnknown
	}
	switch side {
	case "East":
		return calibration.PierSideEast
	case "West":
		return calibration.PierSideWest
	default:
		return calibration.PierSideUnknown
	}
}

func (s *Session) setState(st AppState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.dash.SetState(string(st), pauseLabel(s.guide.PauseState()))
	s.events.Broadcast("AppState", map[string]interface{}{"State": string(st)})
}

func pauseLabel(p guider.PauseType) string {
	switch p {
	case guider.PauseGuiding:
		return "guiding"
	case guider.PauseFull:
		return "full"
	default:
		return "none"
	}
}

// SetConnected connects or disconnects the active camera and mount drivers.
func (s *Session) SetConnected(ctx context.Context, connect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if connect == s.connected {
		return nil
	}
	if connect {
		if err := s.camera.Connect(ctx); err != nil {
			return fmt.Errorf("connect camera: %w", err)
		}
		if s.mountDrv != nil {
			if err := s.mountDrv.Connect(ctx); err != nil {
				return fmt.Errorf("connect mount: %w", err)
			}
		}
	} else {
		s.camera.Disconnect(ctx)
		if s.mountDrv != nil {
			s.mountDrv.Disconnect(ctx)
		}
	}
	s.connected = connect
	return nil
}

// Connected reports the current driver connection state.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SetExposure sets the exposure duration used by every subsequent capture.
func (s *Session) SetExposure(ms int) {
	s.mu.Lock()
	s.exposureMs = ms
	s.mu.Unlock()
}

// Exposure returns the current exposure duration in milliseconds.
func (s *Session) Exposure() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exposureMs
}

// PixelScale returns the plate scale in arcseconds per pixel, derived from
// the configured pixel size and focal length.
func (s *Session) PixelScale() float64 {
	if s.cfg.Equipment.FocalLengthMM <= 0 {
		return 0
	}
	micronsPerPixel := s.cfg.Equipment.PixelSizeMicrons
	return 206.265 * micronsPerPixel / s.cfg.Equipment.FocalLengthMM
}

// GetLockPosition returns the guider's current lock position.
func (s *Session) GetLockPosition() (x, y float64, valid bool) {
	p := s.guide.LockPosition()
	return p.X, p.Y, p.IsValid()
}

// SetLockPosition sets the lock position directly, honoring the sticky
// override path used by set_lock_position.
func (s *Session) SetLockPosition(x, y float64) {
	s.guide.SetLockPosition(point.New(x, y))
	s.events.Broadcast("LockPositionSet", map[string]interface{}{"X": x, "Y": y})
}

// SetPaused pauses or resumes guiding corrections. full suppresses looping
// itself (no new exposures are requested); otherwise exposures keep looping
// but corrections are withheld, matching guider.PauseType.
func (s *Session) SetPaused(paused, full bool) {
	switch {
	case !paused:
		s.guide.Pause(guider.PauseNone)
		s.events.Broadcast("Resumed", nil)
		resumeState := s.prePause
		if resumeState == "" {
			resumeState = AppStopped
		}
		s.setState(resumeState)
	case full:
		s.prePause = s.AppState()
		s.guide.Pause(guider.PauseFull)
		s.events.Broadcast("Paused", map[string]interface{}{"State": "full"})
		s.setState(AppPaused)
	default:
		s.prePause = s.AppState()
		s.guide.Pause(guider.PauseGuiding)
		s.events.Broadcast("Paused", map[string]interface{}{"State": "guiding"})
		s.setState(AppPaused)
	}
}

// GetCalibrated reports whether a valid calibration is installed.
func (s *Session) GetCalibrated() bool {
	return s.guide.Calibration().Valid
}

// AppState returns the current top-level application state.
func (s *Session) AppState() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// FindStar captures one frame and selects the brightest eligible star as
// the new lock position.
func (s *Session) FindStar(ctx context.Context) error {
	buf, err := s.thread.EnqueueExpose(ctx, s.Exposure(), driver.ExposeOptions{}, driver.Rect{})
	if err != nil {
		return err
	}
	img, err := starfield.DecodeImage(buf, starfield.Rect{})
	if err != nil {
		return err
	}
	if err := s.guide.SelectStar(img); err != nil {
		s.events.Broadcast("StarLost", map[string]interface{}{"Status": err.Error()})
		return err
	}
	s.setState(AppSelected)
	s.events.Broadcast("StarSelected", map[string]interface{}{"X": s.guide.LockPosition().X, "Y": s.guide.LockPosition().Y})
	return nil
}

// Loop begins looping exposures without calibrating or guiding, stopping
// when the returned context is canceled or StopCapture is called.
func (s *Session) Loop(ctx context.Context) error {
	s.startLoop(ctx, func(loopCtx context.Context) {
		s.setState(AppLooping)
		s.events.Broadcast("LoopingExposures", nil)
		for {
			select {
			case <-loopCtx.Done():
				return
			default:
			}
			if _, err := s.thread.EnqueueExpose(loopCtx, s.Exposure(), driver.ExposeOptions{}, driver.Rect{}); err != nil {
				return
			}
		}
	})
	return nil
}

// Guide calibrates (if recalibrate is set or no calibration is installed)
// then starts continuous guiding, settling per settleParams before
// returning a SettleDone event on the control surface.
func (s *Session) Guide(ctx context.Context, settleParams controller.SettleParams, recalibrate bool) error {
	if s.guide.LockPosition().IsValid() == false {
		if err := s.FindStar(ctx); err != nil {
			return err
		}
	}

	if recalibrate || !s.guide.Calibration().Valid {
		if err := s.calibrate(ctx); err != nil {
			s.events.Broadcast("CalibrationFailed", map[string]interface{}{"Reason": err.Error()})
			return err
		}
	}

	if err := s.ctrl.StartGuiding(); err != nil {
		return err
	}
	s.setState(AppGuiding)
	s.events.Broadcast("StartGuiding", nil)

	s.startLoop(ctx, func(loopCtx context.Context) {
		s.runGuideLoop(loopCtx, settleParams, time.Now())
	})
	return nil
}

// calibrate runs the primary mount's calibration phase, then — if an AO
// stage is configured — its own secondary phase. A failed secondary phase
// is logged and otherwise ignored: guiding continues through the mount
// alone; primary calibration is mandatory, secondary is best-effort.
func (s *Session) calibrate(ctx context.Context) error {
	s.setState(AppCalibrating)
	s.events.Broadcast("StartCalibration", nil)
	s.guide.BeginCalibratingPrimary()

	data, err := s.runCalibrationPhase(ctx, s.mountDrv)
	if err != nil {
		return err
	}
	s.guide.SetCalibration(*data)
	if s.st != nil {
		s.st.SaveCalibration(s.profile, *data)
	}
	s.dash.SetCalibration(data)
	s.events.Broadcast("CalibrationComplete", map[string]interface{}{
		"Actuator": "mount", "xAngle": data.XAngle, "yAngle": data.YAngle, "xRate": data.XRate, "yRate": data.YRate,
	})

	if s.aoDrv != nil {
		s.guide.BeginCalibratingSecondary()
		if aoData, err := s.runCalibrationPhase(ctx, s.aoDrv); err != nil {
			s.log.Warn("session: ao calibration failed, guiding with mount only", "error", err)
		} else {
			s.guide.SetAOCalibration(*aoData)
			s.events.Broadcast("CalibrationComplete", map[string]interface{}{
				"Actuator": "ao", "xAngle": aoData.XAngle, "yAngle": aoData.YAngle, "xRate": aoData.XRate, "yRate": aoData.YRate,
			})
		}
	}

	s.guide.FinishCalibration()
	return nil
}

// runCalibrationPhase drives a fresh calibration engine against mnt (the
// primary mount or the AO stage) to completion, reporting a pier-flip event
// against whatever calibration the guider had installed before this phase
// started.
func (s *Session) runCalibrationPhase(ctx context.Context, mnt driver.Mount) (*calibration.Data, error) {
	cal := mount.NewEngine(mnt, mount.EngineOpts{
		PulseDurationMs:     s.cfg.Equipment.CalibrationStepMs,
		MaxStepsPerPhase:    60,
		DistanceThresholdPx: 25,
		BacklashMaxPulses:   5,
		BacklashEpsilonPx:   1.0,
		Binning:             1,
	})
	s.ctrl = controller.New(s.thread, s.guide, cal, s.currentDeclination, s.currentPierSide, s.log)

	previous := s.guide.Calibration()

	data, err := s.ctrl.Calibrate(ctx, s.Exposure())
	if err != nil {
		return nil, err
	}
	if previous.Valid && previous.PierSide != data.PierSide {
		s.events.Broadcast("CalibrationDataFlipped", map[string]interface{}{
			"PierSide": data.PierSide.String(),
		})
	}
	return data, nil
}

// Dither perturbs the lock position and begins a new settle window,
// reusing the guide loop's ongoing per-frame evaluation.
func (s *Session) Dither(amount float64, raOnly bool, settleParams controller.SettleParams) error {
	if s.AppState() != AppGuiding {
		return fmt.Errorf("session: cannot dither while not guiding")
	}
	offset := s.ctrl.Dither(amount, raOnly, settleParams, time.Now())
	s.events.Broadcast("GuidingDithered", map[string]interface{}{"dx": offset.X, "dy": offset.Y})
	s.events.Broadcast("SettleBegin", nil)
	return nil
}

// StopCapture idempotently stops any active loop, calibration or guiding.
func (s *Session) StopCapture() {
	s.mu.Lock()
	cancel := s.loopCancel
	done := s.loopDone
	s.loopCancel = nil
	s.loopDone = nil
	s.mu.Unlock()

	// RequestStop aborts any in-flight exposure within one sleepChunkMs poll
	// rather than waiting for it to run to completion.
	s.thread.RequestStop()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.thread.ClearStop()
	s.guide.Stop()
	s.setState(AppStopped)
	s.events.Broadcast("LoopingExposures_Stopped", nil)
}

func (s *Session) startLoop(ctx context.Context, body func(context.Context)) {
	s.StopCapture()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.loopCancel = cancel
	s.loopDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		body(loopCtx)
	}()
}

// runGuideLoop captures frames, runs them through the guider, evaluates the
// active settle window (if any) and pushes GuideStep/Settling/SettleDone
// events until the context is canceled.
func (s *Session) runGuideLoop(ctx context.Context, settleParams controller.SettleParams, settleStart time.Time) {
	s.ctrl.BeginSettle(settleParams, settleStart)
	settleDone := false
	lostFrames := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		info, err := s.ctrl.GuideOneFrame(ctx, s.Exposure())
		if err != nil {
			lostFrames++
			s.events.Broadcast("StarLost", map[string]interface{}{"Status": err.Error()})
			s.setState(AppLostLock)
			maxFrames := s.cfg.Processing.MaxLostStarFrames
			if !s.cfg.Processing.IgnoreLostStarLoop && maxFrames > 0 && lostFrames >= maxFrames {
				s.events.Broadcast("LockPositionLost", map[string]interface{}{"Status": "star lost for too many consecutive frames"})
				s.guide.Stop()
				s.setState(AppStopped)
				return
			}
			continue
		}
		if lostFrames > 0 {
			lostFrames = 0
			s.setState(AppGuiding)
		}

		s.dash.PushGuideStep(*info)
		s.events.Broadcast("GuideStep", guideStepFields(info))
		if info.Limited {
			s.events.Broadcast("Alert", map[string]interface{}{
				"Msg": fmt.Sprintf("%s travel limit reached on frame %d", info.Actuator, info.FrameNumber),
			})
		}

		if !settleDone {
			settling, done, success := s.ctrl.EvaluateSettle(time.Now(), info.AvgDistance)
			s.dash.SetSettle(dashboard.SettleStatus{Active: !done, Distance: info.AvgDistance})
			if settling {
				s.events.Broadcast("Settling", map[string]interface{}{"Distance": info.AvgDistance})
			}
			if done {
				settleDone = true
				reason := ""
				if !success {
					reason = "timed-out waiting for guider to settle"
				}
				s.events.Broadcast("SettleDone", map[string]interface{}{
					"Status": boolToInt(!success), "Error": reason,
				})
			}
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func guideStepFields(info *guider.GuideStepInfo) map[string]interface{} {
	return map[string]interface{}{
		"Frame":       info.FrameNumber,
		"dx":          info.RARawDistance,
		"dy":          info.DecRawDistance,
		"RADuration":  info.RADurationMs,
		"DecDuration": info.DecDurationMs,
		"StarMass":    info.StarMass,
		"SNR":         info.SNR,
		"HFD":         info.HFD,
		"AvgDist":     info.AvgDistance,
		"Actuator":    info.Actuator,
		"Limited":     info.Limited,
	}
}
