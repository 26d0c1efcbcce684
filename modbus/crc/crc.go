// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc implements the CRC-16/MODBUS checksum (reflected polynomial
// 0xA001, seed 0xFFFF) carried little-endian at the end of every RTU frame.
package crc

const (
	seed       = 0xFFFF
	polynomial = 0xA001
)

// Checksum returns the CRC-16/MODBUS of data. The checksum of an empty
// slice is 0xFFFF.
func Checksum(data []byte) uint16 {
	return update(seed, data)
}

// Verify reports whether the last two bytes of frame, low byte first, hold
// the checksum of the bytes before them. Frames shorter than two bytes
// carry no checksum and never verify.
func Verify(frame []byte) bool {
	n := len(frame)
	if n < 2 {
		return false
	}
	received := uint16(frame[n-1])<<8 | uint16(frame[n-2])
	return received == Checksum(frame[:n-2])
}

// Append appends the checksum of frame to frame, low byte first.
func Append(frame []byte) []byte {
	sum := Checksum(frame)
	return append(frame, byte(sum), byte(sum>>8))
}

// CRC is an incremental checksum for frames assembled in pieces.
// The zero value is not ready for use; call Reset first.
type CRC struct {
	value uint16
}

// Reset sets the accumulator back to the seed.
func (c *CRC) Reset() *CRC {
	c.value = seed
	return c
}

// PushBytes folds data into the accumulator.
func (c *CRC) PushBytes(data []byte) *CRC {
	c.value = update(c.value, data)
	return c
}

// Value returns the checksum of everything pushed since the last Reset.
func (c *CRC) Value() uint16 {
	return c.value
}

func update(acc uint16, data []byte) uint16 {
	for _, b := range data {
		acc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if acc&0x0001 != 0 {
				acc = acc>>1 ^ polynomial
			} else {
				acc >>= 1
			}
		}
	}
	return acc
}
