// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinSize is unit id, function code and CRC.
	MinSize = 4
	// MaxSize is the largest RTU ADU on a serial line.
	MaxSize = 256

	ExceptionSize = 5

	// ReadRequestSize and WriteResponseSize are fixed frame lengths.
	ReadRequestSize   = 8
	WriteResponseSize = 8

	// readResponseOverhead is unit id, function code, byte count and CRC.
	readResponseOverhead = 5
	// writeRequestHeaderSize is unit id, function code, address, quantity and byte count.
	writeRequestHeaderSize = 7
)

// Quantity limits of the Modbus application protocol.
const (
	MaxReadQuantity  = 125
	MaxWriteQuantity = 123
)
