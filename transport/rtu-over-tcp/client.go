// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	rtupacket "github.com/ffutop/mbrtu/modbus/rtu"
)

const (
	tcpTimeout = 10 * time.Second
)

// Link implements transport.Link for RTU frames tunnelled through a TCP
// stream, as spoken by serial device servers.
type Link struct {
	Address string
	Timeout time.Duration

	dialer net.Dialer
	mu     sync.Mutex
	conn   net.Conn
}

// NewLink allocates a Link dialing address on first use.
func NewLink(address string) *Link {
	return &Link{
		Address: address,
		Timeout: tcpTimeout,
	}
}

// Send writes aduRequest and reads back one reply frame.
func (mb *Link) Send(ctx context.Context, aduRequest []byte) ([]byte, error) {
	if len(aduRequest) < rtupacket.MinSize {
		return nil, &rtupacket.MalformedLengthError{Length: len(aduRequest)}
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err := mb.connect(ctx); err != nil {
		return nil, fmt.Errorf("modbus: failed to connect to %s: %w", mb.Address, err)
	}

	deadline := time.Now().Add(mb.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := mb.conn.SetDeadline(deadline); err != nil {
		mb.close()
		return nil, err
	}

	slog.Debug("send to modbus slave", "addr", mb.Address, "request", hex.EncodeToString(aduRequest))
	if _, err := mb.conn.Write(aduRequest); err != nil {
		// force a reconnect on the next request
		mb.close()
		return nil, fmt.Errorf("failed to write to connection: %w", err)
	}

	data, err := rtupacket.ReadResponse(aduRequest[0], aduRequest[1], mb.conn, deadline)
	if err != nil {
		// the stream position is unknown after a partial frame
		mb.close()
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	slog.Debug("recv from modbus slave", "addr", mb.Address, "response", hex.EncodeToString(data))
	return data, nil
}

// Connect dials the remote end if not already connected.
func (mb *Link) Connect(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.connect(ctx)
}

// Close drops the connection.
func (mb *Link) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.close()
	return nil
}

// connect ensures there is an active connection. Caller must hold the mutex.
func (mb *Link) connect(ctx context.Context) error {
	if mb.conn != nil {
		return nil
	}
	mb.dialer.Timeout = mb.Timeout
	conn, err := mb.dialer.DialContext(ctx, "tcp", mb.Address)
	if err != nil {
		return err
	}
	mb.conn = conn
	return nil
}

// close closes the connection and resets the state. Caller must hold the mutex.
func (mb *Link) close() {
	if mb.conn != nil {
		mb.conn.Close()
		mb.conn = nil
	}
}
