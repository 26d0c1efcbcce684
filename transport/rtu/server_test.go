// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtu

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/mbrtu/modbus/crc"
	rtupacket "github.com/ffutop/mbrtu/modbus/rtu"
	mbserial "github.com/ffutop/mbrtu/transport/serial"
)

// syncBuffer is a bytes.Buffer safe for the scan loop goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestScanLoop(t *testing.T) {
	reqADU := rtupacket.BuildReadRequest(1, 0x0000, 1)

	writer := &syncBuffer{}
	port := &mockPort{Reader: bytes.NewReader(reqADU), Writer: writer}

	s := &Server{}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	received := make(chan bool)
	reply := crc.Append([]byte{0x01, 0x03, 0x02, 0x00, 0x00})

	handler := func(ctx context.Context, req *rtupacket.Request) []byte {
		if req.UnitID != 0x01 {
			t.Errorf("Handler got slaveID %v, want 1", req.UnitID)
		}
		if req.FunctionCode != 0x03 {
			t.Errorf("Handler got func %v, want 3", req.FunctionCode)
		}
		close(received)
		return reply
	}

	done := make(chan error)
	go func() { done <- s.scanLoop(ctx, port, handler) }()

	select {
	case <-received:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("Handler not called")
	}
	if err := <-done; err != nil {
		t.Fatalf("scanLoop returned %v", err)
	}
	if !bytes.Equal(writer.Bytes(), reply) {
		t.Errorf("Response mismatch.\nWant: %X\nGot:  %X", reply, writer.Bytes())
	}
}

func TestServer_FunctionCodes(t *testing.T) {
	write, _ := rtupacket.BuildWriteRequest(1, 0x0001, []uint16{0x1122, 0x3344})

	tests := []struct {
		name     string
		funcCode byte
		reqADU   []byte
	}{
		{"ReadHoldingRegisters", 0x03, rtupacket.BuildReadRequest(1, 0, 1)},
		{"WriteMultipleRegisters", 0x10, write},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &mockPort{Reader: bytes.NewReader(tt.reqADU), Writer: &syncBuffer{}}

			s := &Server{}
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			handled := make(chan *rtupacket.Request, 1)
			handler := func(ctx context.Context, req *rtupacket.Request) []byte {
				handled <- req
				return nil
			}

			go s.scanLoop(ctx, port, handler)

			select {
			case req := <-handled:
				if req.FunctionCode != tt.funcCode {
					t.Errorf("Want func %d, got %d", tt.funcCode, req.FunctionCode)
				}
			case <-time.After(150 * time.Millisecond):
				t.Error("Handler not called for", tt.name)
			}
		})
	}
}

func TestScanLoop_DropsInvalidFrames(t *testing.T) {
	good := rtupacket.BuildReadRequest(1, 0x0002, 3)
	bad := append([]byte(nil), good...)
	bad[7] ^= 0xFF
	// a Write Single Register header is rejected as a whole 7 byte read
	unsupported := []byte{0x01, 0x06, 0x00, 0x00, 0x00, 0x01, 0x48}

	input := append(append(append([]byte(nil), bad...), unsupported...), good...)
	port := &mockPort{Reader: bytes.NewReader(input), Writer: &syncBuffer{}}

	var calls []*rtupacket.Request
	handler := func(ctx context.Context, req *rtupacket.Request) []byte {
		calls = append(calls, req)
		return nil
	}

	s := &Server{}
	if err := s.scanLoop(context.Background(), port, handler); err != nil {
		t.Fatalf("scanLoop returned %v", err)
	}
	if len(calls) != 1 || calls[0].StartAddress != 0x0002 || calls[0].Quantity != 3 {
		t.Fatalf("handler calls = %+v, want one read of 3 at 2", calls)
	}
}

func TestServer_Start(t *testing.T) {
	reqADU := rtupacket.BuildReadRequest(7, 0, 1)
	writer := &syncBuffer{}
	port := &mockPort{Reader: bytes.NewReader(reqADU), Writer: writer}

	s := NewServer(mbserial.Settings{Device: "/dev/ttyMOCK"})
	var opened *serial.Config
	s.open = func(cfg *serial.Config) (io.ReadWriteCloser, error) {
		opened = cfg
		return port, nil
	}

	reply := rtupacket.BuildWriteResponse(7, 0, 1)
	err := s.Start(context.Background(), func(ctx context.Context, req *rtupacket.Request) []byte { return reply })
	if err != nil {
		t.Fatalf("Start returned %v", err)
	}
	if opened == nil || opened.Address != "/dev/ttyMOCK" || opened.BaudRate != mbserial.DefaultBaudRate {
		t.Errorf("opened with %+v", opened)
	}
	if !port.closed {
		t.Error("port not closed")
	}
	if !bytes.Equal(writer.Bytes(), reply) {
		t.Errorf("Response mismatch.\nWant: %X\nGot:  %X", reply, writer.Bytes())
	}

	s.open = func(cfg *serial.Config) (io.ReadWriteCloser, error) { return nil, errors.New("busy") }
	if err := s.Start(context.Background(), nil); err == nil {
		t.Error("expected open error")
	}
}
