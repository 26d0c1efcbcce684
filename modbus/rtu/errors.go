// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the parser matches exactly one of
// these through errors.Is.
var (
	ErrMalformedLength         = errors.New("modbus: malformed length")
	ErrChecksumMismatch        = errors.New("modbus: checksum mismatch")
	ErrUnitMismatch            = errors.New("modbus: unit id mismatch")
	ErrUnsupportedFunctionCode = errors.New("modbus: unsupported function code")
	ErrQuantity                = errors.New("modbus: invalid quantity")
)

// MalformedLengthError reports a frame whose length does not match what
// its function code and byte count imply. Expected is zero when the frame
// was too short to derive an expected length.
type MalformedLengthError struct {
	FunctionCode byte
	Length       int
	Expected     int
}

func (e *MalformedLengthError) Error() string {
	if e.Expected == 0 {
		return fmt.Sprintf("modbus: frame length '%v' is too short for function '0x%02X'", e.Length, e.FunctionCode)
	}
	return fmt.Sprintf("modbus: frame length '%v' does not match expected '%v' for function '0x%02X'", e.Length, e.Expected, e.FunctionCode)
}

func (e *MalformedLengthError) Is(target error) bool { return target == ErrMalformedLength }

// ChecksumMismatchError reports a trailing CRC that differs from the CRC
// computed over the frame body.
type ChecksumMismatchError struct {
	Received uint16
	Computed uint16
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("modbus: response crc '0x%04X' does not match expected '0x%04X'", e.Received, e.Computed)
}

func (e *ChecksumMismatchError) Is(target error) bool { return target == ErrChecksumMismatch }

// UnitMismatchError reports a reply from a device other than the one addressed.
type UnitMismatchError struct {
	Expected byte
	Actual   byte
}

func (e *UnitMismatchError) Error() string {
	return fmt.Sprintf("modbus: response slave id '%v' does not match request '%v'", e.Actual, e.Expected)
}

func (e *UnitMismatchError) Is(target error) bool { return target == ErrUnitMismatch }

// UnsupportedFunctionCodeError reports a function code the codec does not implement.
type UnsupportedFunctionCodeError struct {
	FunctionCode byte
}

func (e *UnsupportedFunctionCodeError) Error() string {
	return fmt.Sprintf("modbus: unsupported function code: 0x%02X", e.FunctionCode)
}

func (e *UnsupportedFunctionCodeError) Is(target error) bool {
	return target == ErrUnsupportedFunctionCode
}

// QuantityError reports a register count that cannot be encoded or is
// outside the limits enforced by a caller-side guard.
type QuantityError struct {
	Quantity int
	Min, Max int
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("modbus: quantity '%v' must be between '%v' and '%v'", e.Quantity, e.Min, e.Max)
}

func (e *QuantityError) Is(target error) bool { return target == ErrQuantity }
