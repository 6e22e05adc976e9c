// Command phd2ctl is a thin JSON-RPC client for phd2d's control surface,
// following this codebase's cobra root-command-plus-subcommands CLI shape.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverAddr string

func main() {
	root := &cobra.Command{
		Use:   "phd2ctl",
		Short: "control a running phd2d guiding daemon",
	}
	root.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:4400", "phd2d control surface address")

	root.AddCommand(
		connectCmd(),
		calibrateCmd(),
		guideCmd(),
		ditherCmd(),
		stopCmd(),
		stateCmd(),
		pauseCmd(),
		resumeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connectCmd() *cobra.Command {
	var disconnect bool
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "connect (or disconnect) the camera and mount drivers",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := call(serverAddr, "set_connected", map[string]bool{"connected": !disconnect})
			return err
		},
	}
	cmd.Flags().BoolVar(&disconnect, "disconnect", false, "disconnect instead of connect")
	return cmd
}

func calibrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate",
		Short: "select a guide star and run a fresh calibration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := call(serverAddr, "find_star", nil); err != nil {
				return err
			}
			_, err := call(serverAddr, "guide", map[string]interface{}{"recalibrate": true})
			return err
		},
	}
}

func guideCmd() *cobra.Command {
	var settlePx, settleTimeS, settleTimeoutS float64
	var recalibrate bool
	cmd := &cobra.Command{
		Use:   "guide",
		Short: "begin (or resume) guiding",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]interface{}{
				"recalibrate": recalibrate,
				"settle": map[string]float64{
					"pixels":  settlePx,
					"time":    settleTimeS,
					"timeout": settleTimeoutS,
				},
			}
			_, err := call(serverAddr, "guide", params)
			return err
		},
	}
	cmd.Flags().Float64Var(&settlePx, "settle-px", 1.5, "settle tolerance in pixels")
	cmd.Flags().Float64Var(&settleTimeS, "settle-time", 10, "seconds within tolerance required to settle")
	cmd.Flags().Float64Var(&settleTimeoutS, "settle-timeout", 60, "seconds before giving up on settling")
	cmd.Flags().BoolVar(&recalibrate, "recalibrate", false, "force a fresh calibration before guiding")
	return cmd
}

func ditherCmd() *cobra.Command {
	var amount float64
	var raOnly bool
	cmd := &cobra.Command{
		Use:   "dither",
		Short: "perturb the lock position and wait for guiding to settle",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]interface{}{
				"amount": amount,
				"raOnly": raOnly,
				"settle": map[string]float64{"pixels": 1.5, "time": 10, "timeout": 60},
			}
			_, err := call(serverAddr, "dither", params)
			return err
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 5, "maximum dither displacement in pixels")
	cmd.Flags().BoolVar(&raOnly, "ra-only", false, "dither along RA only")
	return cmd
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "stop any active loop, calibration or guiding",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := call(serverAddr, "stop_capture", nil)
			return err
		},
	}
}

func pauseCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "pause guide corrections (looping continues unless --full)",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := call(serverAddr, "set_paused", map[string]interface{}{"paused": true, "full": full})
			return err
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "also suspend looping exposures")
	return cmd
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "resume guiding after a pause",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := call(serverAddr, "set_paused", map[string]interface{}{"paused": false})
			return err
		},
	}
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "print the current application state and calibration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := call(serverAddr, "get_app_state", nil)
			if err != nil {
				return err
			}
			calibrated, err := call(serverAddr, "get_calibrated", nil)
			if err != nil {
				return err
			}
			scale, err := call(serverAddr, "get_pixel_scale", nil)
			if err != nil {
				return err
			}

			var stateStr string
			var calBool bool
			var scaleVal float64
			json.Unmarshal(state, &stateStr)
			json.Unmarshal(calibrated, &calBool)
			json.Unmarshal(scale, &scaleVal)

			fmt.Printf("state:      %s\n", stateStr)
			fmt.Printf("calibrated: %t\n", calBool)
			fmt.Printf("pixelScale: %.3f arcsec/px\n", scaleVal)
			return nil
		},
	}
}
