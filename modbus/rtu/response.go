// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"

	"github.com/ffutop/mbrtu/modbus"
	"github.com/ffutop/mbrtu/modbus/crc"
)

// Result is the decoded payload of a response: ReadResult or WriteResult.
type Result interface {
	FunctionCode() byte
}

// ReadResult holds the registers of a Read Holding Registers response in
// the order the device sent them.
type ReadResult struct {
	Registers []uint16
}

func (ReadResult) FunctionCode() byte { return modbus.FuncCodeReadHoldingRegisters }

// WriteResult is the range echoed by a Write Multiple Registers response.
type WriteResult struct {
	StartAddress uint16
	Quantity     uint16
}

func (WriteResult) FunctionCode() byte { return modbus.FuncCodeWriteMultipleRegisters }

// CheckFrame verifies the trailing CRC of frame.
func CheckFrame(frame []byte) error {
	n := len(frame)
	if n < 2 {
		return &MalformedLengthError{Length: n}
	}
	if !crc.Verify(frame) {
		return &ChecksumMismatchError{
			Received: uint16(frame[n-1])<<8 | uint16(frame[n-2]),
			Computed: crc.Checksum(frame[:n-2]),
		}
	}
	return nil
}

// ParseResponse validates frame as the reply of device unitID and decodes
// it. Checks run in a fixed order: length, checksum, unit id. Nothing is
// decoded unless all of them pass.
func ParseResponse(frame []byte, unitID byte) (Result, error) {
	if len(frame) < 2 {
		return nil, &MalformedLengthError{Length: len(frame)}
	}

	switch functionCode := frame[1]; functionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		if len(frame) < 3 {
			return nil, &MalformedLengthError{FunctionCode: functionCode, Length: len(frame)}
		}
		byteCount := int(frame[2])
		expected := byteCount + readResponseOverhead
		if len(frame) != expected {
			return nil, &MalformedLengthError{FunctionCode: functionCode, Length: len(frame), Expected: expected}
		}
		if err := checkReply(frame, unitID); err != nil {
			return nil, err
		}
		// a trailing odd byte is not a register
		return ReadResult{Registers: decodeRegisters(frame[3 : 3+byteCount&^1])}, nil

	case modbus.FuncCodeWriteMultipleRegisters:
		if len(frame) != WriteResponseSize {
			return nil, &MalformedLengthError{FunctionCode: functionCode, Length: len(frame), Expected: WriteResponseSize}
		}
		if err := checkReply(frame, unitID); err != nil {
			return nil, err
		}
		return WriteResult{
			StartAddress: binary.BigEndian.Uint16(frame[2:]),
			Quantity:     binary.BigEndian.Uint16(frame[4:]),
		}, nil

	default:
		return nil, &UnsupportedFunctionCodeError{FunctionCode: functionCode}
	}
}

// ParseReadResponse is ParseResponse restricted to function 0x03.
func ParseReadResponse(frame []byte, unitID byte) ([]uint16, error) {
	res, err := ParseResponse(frame, unitID)
	if err != nil {
		return nil, err
	}
	read, ok := res.(ReadResult)
	if !ok {
		return nil, &UnsupportedFunctionCodeError{FunctionCode: res.FunctionCode()}
	}
	return read.Registers, nil
}

// ParseWriteResponse is ParseResponse restricted to function 0x10.
func ParseWriteResponse(frame []byte, unitID byte) (WriteResult, error) {
	res, err := ParseResponse(frame, unitID)
	if err != nil {
		return WriteResult{}, err
	}
	write, ok := res.(WriteResult)
	if !ok {
		return WriteResult{}, &UnsupportedFunctionCodeError{FunctionCode: res.FunctionCode()}
	}
	return write, nil
}

// ParseException decodes an exception reply [unit][fc|0x80][code][crc].
// ok is false when frame is not a well-formed exception from unitID.
func ParseException(frame []byte, unitID byte) (exc *modbus.Error, ok bool) {
	if len(frame) != ExceptionSize || !modbus.IsException(frame[1]) {
		return nil, false
	}
	if checkReply(frame, unitID) != nil {
		return nil, false
	}
	return &modbus.Error{FunctionCode: frame[1], ExceptionCode: frame[2]}, true
}

func checkReply(frame []byte, unitID byte) error {
	if err := CheckFrame(frame); err != nil {
		return err
	}
	if frame[0] != unitID {
		return &UnitMismatchError{Expected: unitID, Actual: frame[0]}
	}
	return nil
}

// ResponseLength returns the length of the normal reply to request.
func ResponseLength(request []byte) (int, error) {
	if len(request) < 2 {
		return 0, &MalformedLengthError{Length: len(request)}
	}
	switch functionCode := request[1]; functionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		if len(request) < 6 {
			return 0, &MalformedLengthError{FunctionCode: functionCode, Length: len(request), Expected: ReadRequestSize}
		}
		count := int(binary.BigEndian.Uint16(request[4:]))
		return readResponseOverhead + count*2, nil
	case modbus.FuncCodeWriteMultipleRegisters:
		return WriteResponseSize, nil
	default:
		return 0, &UnsupportedFunctionCodeError{FunctionCode: functionCode}
	}
}

// BuildReadResponse encodes the device reply carrying values.
func BuildReadResponse(unitID byte, values []uint16) ([]byte, error) {
	if len(values) > MaxReadQuantity {
		return nil, &QuantityError{Quantity: len(values), Min: 0, Max: MaxReadQuantity}
	}
	raw := make([]byte, 3+len(values)*2, readResponseOverhead+len(values)*2)
	raw[0] = unitID
	raw[1] = modbus.FuncCodeReadHoldingRegisters
	raw[2] = byte(len(values) * 2)
	for i, v := range values {
		binary.BigEndian.PutUint16(raw[3+i*2:], v)
	}
	return crc.Append(raw), nil
}

// BuildWriteResponse encodes the device reply echoing a written range.
func BuildWriteResponse(unitID byte, startAddress, quantity uint16) []byte {
	raw := make([]byte, 6, WriteResponseSize)
	raw[0] = unitID
	raw[1] = modbus.FuncCodeWriteMultipleRegisters
	binary.BigEndian.PutUint16(raw[2:], startAddress)
	binary.BigEndian.PutUint16(raw[4:], quantity)
	return crc.Append(raw)
}

// BuildExceptionResponse encodes a device rejection of functionCode.
func BuildExceptionResponse(unitID, functionCode, exceptionCode byte) []byte {
	raw := make([]byte, 3, ExceptionSize)
	raw[0] = unitID
	raw[1] = modbus.ExceptionFunctionCode(functionCode)
	raw[2] = exceptionCode
	return crc.Append(raw)
}
