// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"

	"github.com/ffutop/mbrtu/modbus"
	"github.com/ffutop/mbrtu/modbus/crc"
)

// BuildReadRequest encodes a Read Holding Registers request:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte (0x03)
//	Start Address   : 2 bytes
//	Quantity        : 2 bytes
//	CRC             : 2 bytes
//
// quantity is not range checked.
func BuildReadRequest(unitID byte, startAddress, quantity uint16) []byte {
	raw := make([]byte, 6, ReadRequestSize)
	raw[0] = unitID
	raw[1] = modbus.FuncCodeReadHoldingRegisters
	binary.BigEndian.PutUint16(raw[2:], startAddress)
	binary.BigEndian.PutUint16(raw[4:], quantity)
	return crc.Append(raw)
}

// BuildWriteRequest encodes a Write Multiple Registers request:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte (0x10)
//	Start Address   : 2 bytes
//	Quantity        : 2 bytes
//	Byte Count      : 1 byte
//	Values          : 2 bytes each
//	CRC             : 2 bytes
//
// More than MaxWriteQuantity values cannot be framed: the byte count
// field and the RTU ADU size would overflow. This is stricter than the
// 16-bit quantity field, which could name up to 65535 registers.
func BuildWriteRequest(unitID byte, startAddress uint16, values []uint16) ([]byte, error) {
	if len(values) > MaxWriteQuantity {
		return nil, &QuantityError{Quantity: len(values), Min: 0, Max: MaxWriteQuantity}
	}
	byteCount := len(values) * 2
	raw := make([]byte, writeRequestHeaderSize+byteCount, writeRequestHeaderSize+byteCount+2)
	raw[0] = unitID
	raw[1] = modbus.FuncCodeWriteMultipleRegisters
	binary.BigEndian.PutUint16(raw[2:], startAddress)
	binary.BigEndian.PutUint16(raw[4:], uint16(len(values)))
	raw[6] = byte(byteCount)
	for i, v := range values {
		binary.BigEndian.PutUint16(raw[writeRequestHeaderSize+i*2:], v)
	}
	return crc.Append(raw), nil
}

// Request is a decoded 0x03 or 0x10 request as seen by a device.
type Request struct {
	UnitID       byte
	FunctionCode byte
	StartAddress uint16
	Quantity     uint16
	// Values is only set for Write Multiple Registers.
	Values []uint16
}

// ParseRequest decodes a request frame received by a device. It applies
// the same check order as ParseResponse: length, then checksum.
func ParseRequest(frame []byte) (*Request, error) {
	if len(frame) < 2 {
		return nil, &MalformedLengthError{Length: len(frame)}
	}
	functionCode := frame[1]

	switch functionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		if len(frame) != ReadRequestSize {
			return nil, &MalformedLengthError{FunctionCode: functionCode, Length: len(frame), Expected: ReadRequestSize}
		}
	case modbus.FuncCodeWriteMultipleRegisters:
		if len(frame) < writeRequestHeaderSize {
			return nil, &MalformedLengthError{FunctionCode: functionCode, Length: len(frame)}
		}
		byteCount := int(frame[6])
		expected := writeRequestHeaderSize + byteCount + 2
		if len(frame) != expected || byteCount%2 != 0 {
			return nil, &MalformedLengthError{FunctionCode: functionCode, Length: len(frame), Expected: expected}
		}
	default:
		return nil, &UnsupportedFunctionCodeError{FunctionCode: functionCode}
	}

	if err := CheckFrame(frame); err != nil {
		return nil, err
	}

	req := &Request{
		UnitID:       frame[0],
		FunctionCode: functionCode,
		StartAddress: binary.BigEndian.Uint16(frame[2:]),
		Quantity:     binary.BigEndian.Uint16(frame[4:]),
	}
	if functionCode == modbus.FuncCodeWriteMultipleRegisters {
		req.Values = decodeRegisters(frame[writeRequestHeaderSize : len(frame)-2])
	}
	return req, nil
}

// RequestLength returns the total length of the request frame whose
// first bytes are header. Write requests need 7 bytes to see the byte count.
func RequestLength(header []byte) (int, error) {
	if len(header) < 2 {
		return 0, &MalformedLengthError{Length: len(header)}
	}
	switch functionCode := header[1]; functionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		return ReadRequestSize, nil
	case modbus.FuncCodeWriteMultipleRegisters:
		if len(header) < writeRequestHeaderSize {
			return 0, &MalformedLengthError{FunctionCode: functionCode, Length: len(header)}
		}
		return writeRequestHeaderSize + int(header[6]) + 2, nil
	default:
		return 0, &UnsupportedFunctionCodeError{FunctionCode: functionCode}
	}
}

func decodeRegisters(data []byte) []uint16 {
	values := make([]uint16, len(data)/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return values
}
