// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtuovertcp

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ffutop/mbrtu/modbus/crc"
	rtupacket "github.com/ffutop/mbrtu/modbus/rtu"
)

func startServer(t *testing.T, handler func(ctx context.Context, req *rtupacket.Request) []byte) (*Server, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(l.Addr().String())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l, handler) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve returned %v", err)
		}
	})
	return s, l.Addr().String()
}

func TestServer_LifeCycle(t *testing.T) {
	_, addr := startServer(t, func(ctx context.Context, req *rtupacket.Request) []byte {
		if req.UnitID != 1 {
			t.Errorf("Handler expected slaveID 1, got %d", req.UnitID)
		}
		resp, _ := rtupacket.BuildReadResponse(req.UnitID, []uint16{0xAABB})
		return resp
	})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(rtupacket.BuildReadRequest(1, 0, 1)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	respBytes, err := rtupacket.ReadResponse(1, 0x03, conn, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	values, err := rtupacket.ParseReadResponse(respBytes, 1)
	if err != nil {
		t.Fatalf("ParseReadResponse failed: %v", err)
	}
	if len(values) != 1 || values[0] != 0xAABB {
		t.Errorf("Unexpected data: %v", values)
	}
}

func TestLink_Send(t *testing.T) {
	_, addr := startServer(t, func(ctx context.Context, req *rtupacket.Request) []byte {
		return rtupacket.BuildWriteResponse(req.UnitID, req.StartAddress, req.Quantity)
	})

	link := NewLink(addr)
	defer link.Close()
	if err := link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		req, _ := rtupacket.BuildWriteRequest(9, 0x0100, []uint16{1, 2, 3})
		resp, err := link.Send(context.Background(), req)
		if err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
		want := rtupacket.BuildWriteResponse(9, 0x0100, 3)
		if !bytes.Equal(resp, want) {
			t.Errorf("Response mismatch.\nWant: %X\nGot:  %X", want, resp)
		}
	}
}

func TestLink_BadCRCKeepsConnection(t *testing.T) {
	var calls atomic.Int32
	_, addr := startServer(t, func(ctx context.Context, req *rtupacket.Request) []byte {
		calls.Add(1)
		return rtupacket.BuildWriteResponse(req.UnitID, req.StartAddress, req.Quantity)
	})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	good, _ := rtupacket.BuildWriteRequest(1, 0, []uint16{7})
	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xFF
	if _, err := conn.Write(append(bad, good...)); err != nil {
		t.Fatal(err)
	}
	resp, err := rtupacket.ReadResponse(1, 0x10, conn, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if !crc.Verify(resp) || calls.Load() != 1 {
		t.Errorf("resp %X after %d handler calls", resp, calls.Load())
	}
}

func TestLink_Timeout(t *testing.T) {
	// a server that never answers
	_, addr := startServer(t, func(ctx context.Context, req *rtupacket.Request) []byte { return nil })

	link := NewLink(addr)
	link.Timeout = 50 * time.Millisecond
	defer link.Close()

	_, err := link.Send(context.Background(), rtupacket.BuildReadRequest(1, 0, 1))
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected timeout, got %v", err)
	}
	if link.conn != nil {
		t.Error("connection kept after read failure")
	}
}

func TestLink_DialError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	link := NewLink(addr)
	if _, err := link.Send(context.Background(), rtupacket.BuildReadRequest(1, 0, 1)); err == nil {
		t.Fatal("expected dial error")
	}
	if _, err := link.Send(context.Background(), []byte{1}); !errors.Is(err, rtupacket.ErrMalformedLength) {
		t.Fatalf("expected malformed length, got %v", err)
	}
}

func TestServer_Start(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	if s.Addr() != nil {
		t.Fatal("Addr before Start should be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx, func(ctx context.Context, req *rtupacket.Request) []byte { return nil })
	}()

	deadline := time.Now().Add(time.Second)
	for s.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}

	busy := NewServer(s.Addr().String())
	if err := busy.Start(context.Background(), nil); err == nil {
		t.Error("expected listen error on a used address")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
