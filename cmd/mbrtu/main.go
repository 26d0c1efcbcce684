// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ffutop/mbrtu/internal/config"
	"github.com/ffutop/mbrtu/internal/logging"
	mbserial "github.com/ffutop/mbrtu/transport/serial"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// app carries what the commands share after the root pre-run.
type app struct {
	fs         afero.Fs
	configFile string
	output     string

	cfg       *config.Config
	logCloser io.Closer
}

func main() {
	if err := newRootCmd(&app{fs: afero.NewOsFs()}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mbrtu",
		Short: "Modbus RTU master, device simulator and frame tools",
		Long: `mbrtu talks Modbus RTU to holding registers of field devices over a
serial line or an RTU-over-TCP device server. It can also simulate a device
and compute frame checksums.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Path to config file (default: config.yaml in /etc/mbrtu, $HOME/.mbrtu or .)")
	pf.StringVarP(&a.output, "output", "o", "text", "Output format: text|json|yaml")
	pf.String("log-level", "info", "Log level: debug|info|warn|error")
	pf.String("log-file", "", "Log file, rotated automatically (default: stderr)")
	pf.String("device", "", "Serial device, e.g. /dev/ttyACM0")
	pf.Int("baud", mbserial.DefaultBaudRate, "Baud rate")
	pf.Int("data-bits", 8, "Data bits")
	pf.String("parity", "N", "Parity: N|E|O")
	pf.Int("stop-bits", 1, "Stop bits")
	pf.Duration("timeout", 0, "Response timeout (default 500ms)")
	pf.Duration("pause", 0, "Minimum pause between requests (default 100ms)")
	pf.String("link", config.LinkRTU, "Link type: rtu|rtu-over-tcp")
	pf.String("address", "", "host:port of the device server for --link rtu-over-tcp")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newPortsCmd(a))
	rootCmd.AddCommand(newReadCmd(a))
	rootCmd.AddCommand(newWriteCmd(a))
	rootCmd.AddCommand(newCRCCmd(a))
	rootCmd.AddCommand(newSimulateCmd(a))

	return rootCmd
}

// load reads the configuration with cmd's flags on top and sets up logging.
func (a *app) load(cmd *cobra.Command) error {
	switch a.output {
	case outputText, outputJSON, outputYAML:
	default:
		return fmt.Errorf("invalid output format '%s'; must be 'text', 'json' or 'yaml'", a.output)
	}

	cfg, err := config.Load(a.fs, a.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logCloser = logging.Setup(cfg.Log, cmd.ErrOrStderr())
	return nil
}
