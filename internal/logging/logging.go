// Package logging configures slog for the guiding engine, following the
// level/format/file-output conventions used throughout this codebase.
package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photonic/internal/config"
)

// New returns a slog.Logger for the given level (info, debug, warn, error)
// and format ("json" or "text").
func New(level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Setup configures global logging with optional file output and a
// "<current>" symlink, and installs the result as slog's default logger.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	level := parseLevel(cfg.Logging.Level)

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if cfg.Logging.FileOutput {
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("phd2d-%s.log", time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)

		currentLogPath := filepath.Join(cfg.Logging.LogDir, "phd2d-current.log")
		os.Remove(currentLogPath)
		if err := os.Symlink(filepath.Base(logFile), currentLogPath); err != nil {
			// symlink failed, but continue - it's not critical
		}
	}

	multiWriter := io.MultiWriter(writers...)
	logger := log.New(multiWriter, "", log.LstdFlags)

	handler := &TraditionalHandler{logger: logger, level: level}
	slogLogger := slog.New(handler)
	slog.SetDefault(slogLogger)

	slogLogger.Info("phd2d logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)

	return slogLogger, nil
}

// TraditionalHandler implements slog.Handler with a classic "[LEVEL] msg
// k=v ..." line format.
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	attrs := make([]string, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})
	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}
	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *TraditionalHandler) WithGroup(name string) slog.Handler      { return h }

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogGuideStep logs one GuideStep event.
func LogGuideStep(logger *slog.Logger, frame int, cameraOfsX, cameraOfsY float64, raDurMs, decDurMs int, starMass, snr float64) {
	logger.Info("guide step",
		"frame", frame,
		"camera_x", cameraOfsX,
		"camera_y", cameraOfsY,
		"ra_duration_ms", raDurMs,
		"dec_duration_ms", decDurMs,
		"star_mass", starMass,
		"snr", snr,
	)
}

// LogCalibrationStep logs one calibration phase transition.
func LogCalibrationStep(logger *slog.Logger, phase string, step int, dx, dy float64) {
	logger.Info("calibration step",
		"phase", phase,
		"step", step,
		"dx", dx,
		"dy", dy,
	)
}

// LogSettleEvent logs a settle progress or completion event.
func LogSettleEvent(logger *slog.Logger, op string, distance, elapsedSec float64, done bool, success bool) {
	logger.Info("settle",
		"op", op,
		"distance", distance,
		"elapsed_sec", elapsedSec,
		"done", done,
		"success", success,
	)
}
