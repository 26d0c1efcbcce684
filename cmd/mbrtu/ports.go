// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	mbserial "github.com/ffutop/mbrtu/transport/serial"
)

type portsFlags struct {
	vendor      string
	arduinoOnly bool
}

func newPortsCmd(a *app) *cobra.Command {
	flags := &portsFlags{}

	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List USB serial ports",
		Long: `List the USB serial ports of this host with their USB vendor and product
ids. Discovery reads the Linux sysfs device tree; on other platforms the
command reports that discovery is unsupported.`,
		Example: `  # All USB serial ports
  mbrtu ports

  # Only Arduino boards
  mbrtu ports --arduino-only

  # Ports of one vendor as JSON
  mbrtu ports --vendor 0403 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPorts(a, flags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&flags.vendor, "vendor", "", "Only list ports of this USB vendor id (hex)")
	cmd.Flags().BoolVar(&flags.arduinoOnly, "arduino-only", false, "Only list Arduino boards (vendor 2341)")

	return cmd
}

func runPorts(a *app, flags *portsFlags, w io.Writer) error {
	var filter mbserial.Filter
	switch {
	case flags.arduinoOnly && flags.vendor != "":
		return fmt.Errorf("--vendor and --arduino-only are mutually exclusive")
	case flags.arduinoOnly:
		filter.VendorID = mbserial.VendorArduino
	case flags.vendor != "":
		id, err := mbserial.ParseVendorID(flags.vendor)
		if err != nil {
			return err
		}
		filter.VendorID = id
	}

	if !mbserial.Supported(a.fs) {
		return fmt.Errorf("serial port discovery is not supported on this platform")
	}
	devices, err := mbserial.Discover(a.fs, filter)
	if err != nil {
		return fmt.Errorf("discover ports: %w", err)
	}
	if devices == nil {
		devices = []mbserial.Device{}
	}

	return render(w, a.output, devices, func(w io.Writer) error {
		if len(devices) == 0 {
			fmt.Fprintf(w, "No serial ports found\n")
			return nil
		}
		for _, d := range devices {
			fmt.Fprintf(w, "%s\n", d)
		}
		return nil
	})
}
