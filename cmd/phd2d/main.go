// Command phd2d is the guiding daemon: it loads an equipment profile, wires
// a Session (worker thread, guider, controller, control surface and
// dashboard) and runs until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"photonic/internal/config"
	"photonic/internal/driver"
	"photonic/internal/driver/simulator"
	"photonic/internal/logging"
	"photonic/internal/session"
	"photonic/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to phd2d config.json (defaults to ~/.config/phd2d/config.json)")
	profile := flag.String("profile", "default", "equipment profile name")
	flag.Parse()

	if err := run(*configPath, *profile); err != nil {
		fmt.Fprintln(os.Stderr, "phd2d:", err)
		os.Exit(1)
	}
}

func run(configPath, profile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	dbPath, err := expandStorePath(cfg.Paths.ProfileDB)
	if err != nil {
		return fmt.Errorf("resolve profile db path: %w", err)
	}
	st, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open profile store: %w", err)
	}
	defer st.Close()
	if err := st.EnsureProfile(profile, cfg.Instance); err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	if cfg.Paths.DarkLibrary != "" {
		st.SetDarkLibrary(profile, cfg.Paths.DarkLibrary)
	}

	sim := simulator.New(simulator.DefaultConfig())

	// The simulator implements driver.AO as well as Camera/Mount, but a
	// secondary actuator is only wired in when the profile actually
	// configures one; bare mount-only rigs are the common case.
	var aoDrv driver.AO
	if cfg.Equipment.AO.Name != "" {
		aoDrv = sim
	}

	sess, err := session.New(cfg, profile, sim, sim, aoDrv, st, log)
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	log.Info("phd2d listening", "port", cfg.Server.Port, "dashboard_port", cfg.Server.DashboardPort, "instance", cfg.Instance)

	<-ctx.Done()
	log.Info("phd2d shutting down")
	sess.Stop()
	return nil
}

func expandStorePath(path string) (string, error) {
	if path == "" {
		return "phd2d-profile.db", nil
	}
	return config.ExpandPath(path)
}
