// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"errors"
	"fmt"
	"sync"
)

const (
	MaxAddress = 65535
)

// ErrOutOfRange is returned for a register range past the address space.
var ErrOutOfRange = errors.New("address range out of bounds")

// Registers holds the full 16-bit holding register table of a device.
type Registers struct {
	mu sync.RWMutex

	// 4x Holding Registers (Read/Write).
	Holding []uint16
}

// NewRegisters creates a register table initialized to zero.
func NewRegisters() *Registers {
	return &Registers{
		Holding: make([]uint16, MaxAddress+1),
	}
}

// Read returns a copy of quantity registers starting at address.
func (m *Registers) Read(address, quantity uint16) ([]uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := validateRange(address, int(quantity)); err != nil {
		return nil, err
	}
	result := make([]uint16, quantity)
	copy(result, m.Holding[address:])
	return result, nil
}

// Write stores values starting at address.
func (m *Registers) Write(address uint16, values []uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateRange(address, len(values)); err != nil {
		return err
	}
	copy(m.Holding[address:], values)
	return nil
}

func validateRange(address uint16, quantity int) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	// address is 0-based.
	if int(address)+quantity > MaxAddress+1 {
		return fmt.Errorf("%w: %d registers at %d", ErrOutOfRange, quantity, address)
	}
	return nil
}
