// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ffutop/mbrtu/modbus"
)

var ErrRequestTimedOut = errors.New("modbus: request timed out")

const (
	stateSlaveID = 1 << iota
	stateFunctionCode
	stateReadLength
	stateReadPayload
	stateCRC
)

// InvalidLengthError reports a byte count a read reply cannot carry.
type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

// ReadResponse reads one reply frame from r. Bytes preceding the expected
// unit id and function code are discarded, which resynchronises after
// line noise or a reply from another device. Exception replies are returned
// as complete 5 byte frames. The frame is not checksummed here.
func ReadResponse(unitID, functionCode byte, r io.Reader, deadline time.Time) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}
	switch functionCode {
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeWriteMultipleRegisters:
	default:
		return nil, &UnsupportedFunctionCodeError{FunctionCode: functionCode}
	}

	buf := make([]byte, 1)
	data := make([]byte, MaxSize)

	state := stateSlaveID
	var toRead int
	var n, crcCount int

	for {
		if time.Now().After(deadline) {
			return nil, ErrRequestTimedOut
		}

		if _, err := io.ReadAtLeast(r, buf, 1); err != nil {
			return nil, err
		}

		switch state {
		case stateSlaveID:
			if buf[0] == unitID {
				state = stateFunctionCode
				data[n] = buf[0]
				n++
			}
		case stateFunctionCode:
			switch buf[0] {
			case functionCode:
				if functionCode == modbus.FuncCodeReadHoldingRegisters {
					state = stateReadLength
				} else {
					state = stateReadPayload
					toRead = 4
				}
				data[n] = buf[0]
				n++
			case modbus.ExceptionFunctionCode(functionCode):
				state = stateReadPayload
				toRead = 1
				data[n] = buf[0]
				n++
			case unitID:
				// a repeated id byte may itself be the start of the frame
			default:
				state = stateSlaveID
				n = 0
			}
		case stateReadLength:
			length := buf[0]
			if int(length) > MaxSize-readResponseOverhead || length == 0 {
				return nil, &InvalidLengthError{Length: length}
			}
			toRead = int(length)
			data[n] = length
			n++
			state = stateReadPayload
		case stateReadPayload:
			data[n] = buf[0]
			toRead--
			n++
			if toRead == 0 {
				state = stateCRC
			}
		case stateCRC:
			data[n] = buf[0]
			crcCount++
			n++
			if crcCount == 2 {
				frame := make([]byte, n)
				copy(frame, data[:n])
				return frame, nil
			}
		}
	}
}
