// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/ffutop/mbrtu/internal/metrics"
	"github.com/ffutop/mbrtu/modbus"
	rtupacket "github.com/ffutop/mbrtu/modbus/rtu"
	"github.com/ffutop/mbrtu/transport"
)

// Client is a Modbus RTU master for holding registers.
type Client struct {
	link    transport.Link
	pause   *rate.Limiter
	metrics *metrics.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestPause keeps at least d between the start of two requests.
func WithRequestPause(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.pause = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithMetrics counts every frame exchanged by the client.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a Client talking over link.
func NewClient(link transport.Link, opts ...ClientOption) *Client {
	c := &Client{link: link}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the underlying link.
func (c *Client) Connect(ctx context.Context) error {
	return c.link.Connect(ctx)
}

// Close closes the underlying link.
func (c *Client) Close() error {
	return c.link.Close()
}

// ReadHoldingRegisters reads quantity registers starting at address from unitID.
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]uint16, error) {
	if quantity < 1 || quantity > rtupacket.MaxReadQuantity {
		return nil, &rtupacket.QuantityError{Quantity: int(quantity), Min: 1, Max: rtupacket.MaxReadQuantity}
	}
	frame, err := c.transact(ctx, rtupacket.BuildReadRequest(unitID, address, quantity))
	if err != nil {
		return nil, err
	}
	values, err := rtupacket.ParseReadResponse(frame, unitID)
	c.metrics.Received(modbus.FuncCodeReadHoldingRegisters, frame, err)
	if err != nil {
		return nil, err
	}
	if len(values) != int(quantity) {
		err = fmt.Errorf("modbus: response quantity '%v' does not match request '%v'", len(values), quantity)
		return nil, err
	}
	return values, nil
}

// WriteMultipleRegisters writes values starting at address on unitID and
// returns the range the device acknowledged.
func (c *Client) WriteMultipleRegisters(ctx context.Context, unitID byte, address uint16, values []uint16) (rtupacket.WriteResult, error) {
	if len(values) < 1 || len(values) > rtupacket.MaxWriteQuantity {
		return rtupacket.WriteResult{}, &rtupacket.QuantityError{Quantity: len(values), Min: 1, Max: rtupacket.MaxWriteQuantity}
	}
	request, err := rtupacket.BuildWriteRequest(unitID, address, values)
	if err != nil {
		return rtupacket.WriteResult{}, err
	}
	frame, err := c.transact(ctx, request)
	if err != nil {
		return rtupacket.WriteResult{}, err
	}
	result, err := rtupacket.ParseWriteResponse(frame, unitID)
	c.metrics.Received(modbus.FuncCodeWriteMultipleRegisters, frame, err)
	if err != nil {
		return rtupacket.WriteResult{}, err
	}
	if result.StartAddress != address || int(result.Quantity) != len(values) {
		slog.Warn("write acknowledged a different range", "unitID", unitID,
			"address", address, "quantity", len(values),
			"ackAddress", result.StartAddress, "ackQuantity", result.Quantity)
	}
	return result, nil
}

// transact paces, sends and returns the raw reply. Exception replies are
// returned as *modbus.Error.
func (c *Client) transact(ctx context.Context, request []byte) ([]byte, error) {
	if c.pause != nil {
		if err := c.pause.Wait(ctx); err != nil {
			return nil, err
		}
	}

	c.metrics.Sent(request)
	frame, err := c.link.Send(ctx, request)
	if err != nil {
		c.metrics.Received(request[1], nil, err)
		return nil, err
	}
	if exc, ok := rtupacket.ParseException(frame, request[0]); ok {
		c.metrics.Received(request[1], frame, exc)
		return nil, exc
	}
	return frame, nil
}
