// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/ffutop/mbrtu/internal/device/model"
)

// Storage persists the register table of a simulated device.
type Storage interface {
	// Load returns the register table, creating empty backing storage if
	// none exists yet.
	Load() (*model.Registers, error)

	// Save flushes the whole table.
	Save(m *model.Registers) error

	// OnWrite is called after registers [address, address+quantity) changed.
	OnWrite(address, quantity uint16)

	Close() error
}

// Storage type names accepted by New.
const (
	TypeMemory = "memory"
	TypeFile   = "file"
	TypeMmap   = "mmap"
)

// New returns the storage backend named by typ. Empty means memory.
func New(typ, path string) (Storage, error) {
	switch typ {
	case "", TypeMemory:
		return NewMemoryStorage(), nil
	case TypeFile:
		return NewFileStorage(afero.NewOsFs(), path), nil
	case TypeMmap:
		return NewMmapStorage(path), nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", typ)
	}
}
