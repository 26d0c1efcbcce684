// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	rtupacket "github.com/ffutop/mbrtu/modbus/rtu"
	mbserial "github.com/ffutop/mbrtu/transport/serial"
)

// SerialLink implements transport.Link on a serial line.
type SerialLink struct {
	serialPort
}

// NewSerialLink allocates a link for the device in s. The port is opened
// on first use and closed again after IdleTimeout without traffic.
func NewSerialLink(s mbserial.Settings) *SerialLink {
	link := &SerialLink{}
	link.Config = *s.Config()
	if link.Config.Timeout == 0 {
		link.Config.Timeout = serialTimeout
	}
	link.IdleTimeout = serialIdleTimeout
	return link
}

// Send writes aduRequest and reads the reply frame addressed to the same
// unit and function.
func (mb *SerialLink) Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error) {
	if len(aduRequest) < rtupacket.MinSize {
		return nil, &rtupacket.MalformedLengthError{Length: len(aduRequest)}
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err = mb.connect(ctx); err != nil {
		return
	}
	mb.lastActivity = time.Now()
	mb.startCloseTimer()

	slog.Debug("send to modbus slave", "request", hex.EncodeToString(aduRequest))
	if _, err = mb.port.Write(aduRequest); err != nil {
		mb.close()
		return nil, fmt.Errorf("failed to write to %s: %w", mb.Config.Address, err)
	}

	bytesToRead, err := rtupacket.ResponseLength(aduRequest)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(mb.calculateDelay(len(aduRequest) + bytesToRead)):
	}

	deadline := time.Now().Add(mb.Config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	data, err := rtupacket.ReadResponse(aduRequest[0], aduRequest[1], mb.port, deadline)
	if err != nil {
		// reopening discards whatever is left of a partial frame
		mb.close()
		return nil, err
	}
	slog.Debug("recv from modbus slave", "response", hex.EncodeToString(data))
	return data, nil
}

// calculateDelay calculates the needed delay to separate frames.
func (mb *SerialLink) calculateDelay(chars int) time.Duration {
	return frameDelay(mb.BaudRate, chars)
}

// frameDelay is the transmission time of chars characters plus the 3.5
// character silent interval. Above 19200 baud the fixed 750µs / 1750µs
// timings apply.
func frameDelay(baudRate, chars int) time.Duration {
	var characterDelay, frameDelay int

	if baudRate <= 0 || baudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / baudRate
		frameDelay = 35000000 / baudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
