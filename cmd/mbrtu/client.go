// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ffutop/mbrtu/internal/config"
	"github.com/ffutop/mbrtu/transport"
	"github.com/ffutop/mbrtu/transport/rtu"
	rtuovertcp "github.com/ffutop/mbrtu/transport/rtu-over-tcp"
)

// newLink builds the link selected by cfg.Link.
func newLink(cfg *config.Config) (transport.Link, error) {
	switch cfg.Link.Type {
	case config.LinkRTU:
		if cfg.Serial.Device == "" {
			return nil, fmt.Errorf("no serial device configured; use --device or serial.device")
		}
		return rtu.NewSerialLink(cfg.Serial.Settings()), nil
	case config.LinkRTUOverTCP:
		link := rtuovertcp.NewLink(cfg.Link.Address)
		if cfg.Serial.Timeout > 0 {
			link.Timeout = cfg.Serial.Timeout
		}
		return link, nil
	default:
		return nil, fmt.Errorf("unknown link type %q", cfg.Link.Type)
	}
}

func newClient(cfg *config.Config) (*rtu.Client, error) {
	link, err := newLink(cfg)
	if err != nil {
		return nil, err
	}
	return rtu.NewClient(link, rtu.WithRequestPause(cfg.Serial.RqstPause)), nil
}

// registerDump is the json/yaml shape of read and write results.
type registerDump struct {
	Unit      byte     `json:"unit" yaml:"unit"`
	Address   uint16   `json:"address" yaml:"address"`
	Quantity  uint16   `json:"quantity" yaml:"quantity"`
	Registers []uint16 `json:"registers,omitempty" yaml:"registers,omitempty"`
}

type unitFlags struct {
	unit uint8
}

func (f *unitFlags) register(cmd *cobra.Command) {
	cmd.Flags().Uint8VarP(&f.unit, "unit", "u", 1, "Unit id of the device (1..247)")
}

func (f *unitFlags) validate() error {
	if f.unit < 1 || f.unit > 247 {
		return fmt.Errorf("unit id %d out of range 1..247", f.unit)
	}
	return nil
}

func newReadCmd(a *app) *cobra.Command {
	flags := &unitFlags{}

	cmd := &cobra.Command{
		Use:   "read <address> [quantity]",
		Short: "Read holding registers (function 0x03)",
		Example: `  # Read 2 registers at 0x0010 from unit 1 on an Arduino
  mbrtu read 0x0010 2 --device /dev/ttyACM0

  # Through a serial device server
  mbrtu read 100 10 -u 17 --link rtu-over-tcp --address 192.168.1.50:4001`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			address, err := parseUint16(args[0])
			if err != nil {
				return fmt.Errorf("address: %w", err)
			}
			quantity := uint16(1)
			if len(args) == 2 {
				if quantity, err = parseUint16(args[1]); err != nil {
					return fmt.Errorf("quantity: %w", err)
				}
			}
			return runRead(cmd.Context(), a, flags.unit, address, quantity, cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	return cmd
}

func runRead(ctx context.Context, a *app, unit byte, address, quantity uint16, w io.Writer) error {
	client, err := newClient(a.cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := requestContext(ctx, a.cfg.Serial.Timeout)
	defer cancel()

	values, err := client.ReadHoldingRegisters(ctx, unit, address, quantity)
	if err != nil {
		return fmt.Errorf("read holding registers: %w", err)
	}

	dump := registerDump{Unit: unit, Address: address, Quantity: quantity, Registers: values}
	return render(w, a.output, dump, func(w io.Writer) error {
		for i, v := range values {
			fmt.Fprintf(w, "%5d  0x%04X  %5d\n", int(address)+i, v, v)
		}
		return nil
	})
}

func newWriteCmd(a *app) *cobra.Command {
	flags := &unitFlags{}

	cmd := &cobra.Command{
		Use:   "write <address> <value>...",
		Short: "Write multiple holding registers (function 0x10)",
		Example: `  # Write 0x1234 and 0xABCD at 0x0010 on unit 1
  mbrtu write 0x0010 0x1234 0xABCD --device /dev/ttyACM0`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			address, err := parseUint16(args[0])
			if err != nil {
				return fmt.Errorf("address: %w", err)
			}
			values := make([]uint16, 0, len(args)-1)
			for _, s := range args[1:] {
				v, err := parseUint16(s)
				if err != nil {
					return fmt.Errorf("value: %w", err)
				}
				values = append(values, v)
			}
			return runWrite(cmd.Context(), a, flags.unit, address, values, cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	return cmd
}

func runWrite(ctx context.Context, a *app, unit byte, address uint16, values []uint16, w io.Writer) error {
	client, err := newClient(a.cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := requestContext(ctx, a.cfg.Serial.Timeout)
	defer cancel()

	result, err := client.WriteMultipleRegisters(ctx, unit, address, values)
	if err != nil {
		return fmt.Errorf("write multiple registers: %w", err)
	}

	dump := registerDump{Unit: unit, Address: result.StartAddress, Quantity: result.Quantity}
	return render(w, a.output, dump, func(w io.Writer) error {
		fmt.Fprintf(w, "wrote %d register(s) at %d\n", result.Quantity, result.StartAddress)
		return nil
	})
}

// parseUint16 accepts decimal, 0x hex, 0o octal and 0b binary.
func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// requestContext bounds a command by the configured timeout plus slack
// for connecting.
func requestContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, timeout+5*time.Second)
}
