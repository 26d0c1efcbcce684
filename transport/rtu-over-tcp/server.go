// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/mbrtu/internal/metrics"
	rtupacket "github.com/ffutop/mbrtu/modbus/rtu"
	"github.com/ffutop/mbrtu/transport"
)

// Server accepts TCP connections and treats each one as an RTU stream.
type Server struct {
	Address string
	Metrics *metrics.Metrics

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new RTU over TCP Server.
func NewServer(address string) *Server {
	return &Server{
		Address: address,
	}
}

// Start listens on Address and serves connections until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	return s.Serve(ctx, listener, handler)
}

// Serve accepts connections on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener, handler transport.RequestHandler) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	slog.Info("RTU over TCP server listening", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		go s.handleConnection(ctx, conn, handler)
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the server listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, handler transport.RequestHandler) {
	defer conn.Close()
	slog.Info("New RTU over TCP client connected", "addr", conn.RemoteAddr())

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, rtupacket.MaxSize)
	for {
		// 7 bytes cover the byte count of a write request
		if _, err := io.ReadFull(conn, buf[:7]); err != nil {
			if err != io.EOF && ctx.Err() == nil {
				slog.Debug("Connection read error", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}

		expectedLen, err := rtupacket.RequestLength(buf[:7])
		if err != nil {
			// no way to find the next frame boundary in a stream
			slog.Warn("Invalid RTU frame header", "addr", conn.RemoteAddr(), "header", hex.EncodeToString(buf[:7]), "err", err)
			return
		}
		if expectedLen > len(buf) {
			return
		}
		if _, err := io.ReadFull(conn, buf[7:expectedLen]); err != nil {
			return
		}

		frame := make([]byte, expectedLen)
		copy(frame, buf[:expectedLen])
		req, err := rtupacket.ParseRequest(frame)
		s.Metrics.Received(frame[1], frame, err)
		if err != nil {
			slog.Warn("RTU frame decode failed", "addr", conn.RemoteAddr(), "err", err)
			continue
		}

		resp := handler(ctx, req)
		if resp == nil {
			continue
		}
		s.Metrics.Sent(resp)
		if _, err := conn.Write(resp); err != nil {
			slog.Error("Failed to write response", "err", err)
			return
		}
	}
}
