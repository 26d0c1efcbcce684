// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"

	"github.com/ffutop/mbrtu/internal/metrics"
	rtupacket "github.com/ffutop/mbrtu/modbus/rtu"
	"github.com/ffutop/mbrtu/transport"
	mbserial "github.com/ffutop/mbrtu/transport/serial"
)

// Server is a Modbus RTU slave on a serial line. It frames incoming
// requests, drops anything that fails the codec checks and hands the rest
// to a RequestHandler.
type Server struct {
	Settings mbserial.Settings
	Metrics  *metrics.Metrics

	open mbserial.Opener
}

// NewServer creates a new RTU Server.
func NewServer(s mbserial.Settings) *Server {
	return &Server{
		Settings: s,
		open:     mbserial.Open,
	}
}

// Start opens the serial port and serves requests until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	cfg := s.Settings.Config()
	if cfg.Timeout == 0 {
		cfg.Timeout = serialTimeout
	}
	port, err := s.open(cfg)
	if err != nil {
		return err
	}
	defer port.Close()
	slog.Info("RTU Server listening", "device", cfg.Address, "baudRate", cfg.BaudRate)

	// handle close
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	return s.scanLoop(ctx, port, handler)
}

func (s *Server) scanLoop(ctx context.Context, port io.ReadWriter, handler transport.RequestHandler) error {
	buf := make([]byte, rtupacket.MaxSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Read 1 byte to unblock
		n, err := port.Read(buf[:1])
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err == io.EOF {
				return nil
			}
			continue
		}
		if n == 0 {
			continue
		}

		// Header is 7 bytes, enough to see the byte count of a write.
		current := 1
		need := 7
		for current < need {
			n, err := port.Read(buf[current:need])
			if err != nil {
				break
			}
			current += n
		}

		expectedLen, err := rtupacket.RequestLength(buf[:current])
		if err != nil {
			slog.Debug("discarding frame", "header", hex.EncodeToString(buf[:current]), "err", err)
			continue
		}
		if expectedLen > len(buf) {
			continue
		}

		// Read remaining
		for current < expectedLen {
			n, err := port.Read(buf[current:expectedLen])
			if err != nil {
				break
			}
			current += n
		}

		if current < expectedLen {
			continue
		}
		frame := make([]byte, expectedLen)
		copy(frame, buf[:expectedLen])

		req, err := rtupacket.ParseRequest(frame)
		s.Metrics.Received(frame[1], frame, err)
		if err != nil {
			slog.Debug("discarding request", "request", hex.EncodeToString(frame), "err", err)
			continue
		}

		resp := handler(ctx, req)
		if resp == nil {
			continue
		}
		slog.Debug("reply to modbus master", "response", hex.EncodeToString(resp))
		s.Metrics.Sent(resp)
		if _, err := port.Write(resp); err != nil {
			slog.Error("Failed to write response", "err", err)
		}
	}
}
