// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"

	"github.com/ffutop/mbrtu/modbus/rtu"
)

// Link moves complete RTU frames between the codec and a device.
// A Link carries one transaction at a time: Send writes a request frame
// and returns the matching reply frame as read off the wire, unverified.
// Partial-frame reassembly happens inside the Link.
type Link interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error)
	Close() error
}

// RequestHandler answers a decoded request on the device side. It returns
// the complete reply frame, or nil to stay silent.
type RequestHandler func(ctx context.Context, req *rtu.Request) []byte
