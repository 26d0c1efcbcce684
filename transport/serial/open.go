// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/grid-x/serial"
)

// DefaultBaudRate is the line speed of the deployed devices.
const DefaultBaudRate = 9600

// Opener opens a serial port. It is a variable in the links and servers so
// tests can substitute an in-memory port.
type Opener func(cfg *serial.Config) (io.ReadWriteCloser, error)

// Open is the Opener backed by the host serial driver.
func Open(cfg *serial.Config) (io.ReadWriteCloser, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", cfg.Address, err)
	}
	return port, nil
}

// Settings describes the line of one serial device.
type Settings struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	Timeout  time.Duration

	RS485              bool
	DelayRtsBeforeSend time.Duration
	DelayRtsAfterSend  time.Duration
	RtsHighDuringSend  bool
	RtsHighAfterSend   bool
	RxDuringTx         bool
}

// Config maps s to the driver configuration, filling 9600 8N1 for unset fields.
func (s Settings) Config() *serial.Config {
	cfg := &serial.Config{
		Address:  s.Device,
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
		StopBits: s.StopBits,
		Parity:   strings.ToUpper(s.Parity),
		Timeout:  s.Timeout,
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.Parity == "" {
		cfg.Parity = "N"
	}
	if s.RS485 {
		cfg.RS485.Enabled = true
		cfg.RS485.DelayRtsBeforeSend = s.DelayRtsBeforeSend
		cfg.RS485.DelayRtsAfterSend = s.DelayRtsAfterSend
		cfg.RS485.RtsHighDuringSend = s.RtsHighDuringSend
		cfg.RS485.RtsHighAfterSend = s.RtsHighAfterSend
		cfg.RS485.RxDuringTx = s.RxDuringTx
	}
	return cfg
}
