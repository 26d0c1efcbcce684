// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ffutop/mbrtu/internal/config"
	"github.com/ffutop/mbrtu/internal/device"
	"github.com/ffutop/mbrtu/internal/device/persistence"
	"github.com/ffutop/mbrtu/internal/metrics"
	"github.com/ffutop/mbrtu/transport/rtu"
	rtuovertcp "github.com/ffutop/mbrtu/transport/rtu-over-tcp"
)

type simulateFlags struct {
	unit uint8
}

func newSimulateCmd(a *app) *cobra.Command {
	flags := &simulateFlags{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a holding register device",
		Long: `Answer Read Holding Registers and Write Multiple Registers requests as a
single Modbus RTU device, on a serial port or, with --link rtu-over-tcp, on
a TCP listener at --address.

Registers live in memory unless --persistence selects file or mmap storage
at --data-file. --metrics-addr exposes Prometheus frame counters.`,
		Example: `  # Unit 17 on a USB adapter, registers kept across restarts
  mbrtu simulate --device /dev/ttyUSB0 --unit 17 --persistence mmap --data-file regs.bin

  # RTU over TCP on port 4001 with metrics
  mbrtu simulate --link rtu-over-tcp --address :4001 --metrics-addr :9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("unit") {
				a.cfg.Simulator.UnitID = int(flags.unit)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSimulate(ctx, a.cfg, nil)
		},
	}

	cmd.Flags().Uint8VarP(&flags.unit, "unit", "u", 1, "Unit id the device answers to (1..247)")
	cmd.Flags().String("persistence", persistence.TypeMemory, "Register storage: memory|file|mmap")
	cmd.Flags().String("data-file", "", "Backing file for file and mmap storage")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")

	return cmd
}

// runSimulate serves the configured device until ctx is done. When ready
// is not nil it receives the listening address of an RTU-over-TCP server.
func runSimulate(ctx context.Context, cfg *config.Config, ready chan<- net.Addr) error {
	if cfg.Simulator.UnitID < 1 || cfg.Simulator.UnitID > 247 {
		return fmt.Errorf("unit id %d out of range 1..247", cfg.Simulator.UnitID)
	}
	p := cfg.Simulator.Persistence
	if p.Type != "" && p.Type != persistence.TypeMemory && p.Path == "" {
		return fmt.Errorf("persistence %s needs --data-file", p.Type)
	}
	storage, err := persistence.New(p.Type, p.Path)
	if err != nil {
		return err
	}
	dev, err := device.New(byte(cfg.Simulator.UnitID), storage)
	if err != nil {
		storage.Close()
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Error("Failed to close register storage", "err", err)
		}
	}()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Address != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("Serving metrics", "addr", cfg.Metrics.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server stopped", "err", err)
			}
		}()
		defer srv.Close()
	}

	slog.Info("Starting device simulator", "unitID", dev.UnitID(), "link", cfg.Link.Type, "persistence", p.Type)

	switch cfg.Link.Type {
	case config.LinkRTUOverTCP:
		listener, err := net.Listen("tcp", cfg.Link.Address)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Link.Address, err)
		}
		if ready != nil {
			ready <- listener.Addr()
		}
		s := rtuovertcp.NewServer(cfg.Link.Address)
		s.Metrics = m
		return s.Serve(ctx, listener, dev.Handle)
	default:
		if cfg.Serial.Device == "" {
			return fmt.Errorf("no serial device configured; use --device or serial.device")
		}
		s := rtu.NewServer(cfg.Serial.Settings())
		s.Metrics = m
		return s.Start(ctx, dev.Handle)
	}
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return mux
}
