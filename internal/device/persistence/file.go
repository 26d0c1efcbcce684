// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/ffutop/mbrtu/internal/device/model"
)

// FileStorage keeps the register table in memory and writes the whole
// image back to a file on every change.
//
// Layout:
// - HoldingRegisters: 65536 * 2 bytes (Offset 0), host byte order
// Total Size: 131072 bytes
type FileStorage struct {
	fs   afero.Fs
	path string
	file afero.File
	data []byte
}

// NewFileStorage creates a new FileStorage for path on fs.
func NewFileStorage(fs afero.Fs, path string) *FileStorage {
	return &FileStorage{
		fs:   fs,
		path: path,
	}
}

// Load reads the register image, creating or resizing the file as needed.
func (ms *FileStorage) Load() (*model.Registers, error) {
	f, err := ms.fs.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	ms.file = f

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize file: %w", err)
		}
	}

	data := make([]byte, totalSize)
	if _, err := f.ReadAt(data, 0); err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	ms.data = data

	return mapBytesToModel(data), nil
}

// Save flushes the data to disk.
func (ms *FileStorage) Save(m *model.Registers) error {
	return ms.sync()
}

// OnWrite syncs the file so a write survives a power loss.
func (ms *FileStorage) OnWrite(address, quantity uint16) {
	if err := ms.sync(); err != nil {
		slog.Error("Failed to sync file", "path", ms.path, "err", err)
	}
}

func (ms *FileStorage) sync() error {
	if ms.data == nil || ms.file == nil {
		return nil
	}
	if _, err := ms.file.WriteAt(ms.data, 0); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := ms.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

// Close the file.
func (ms *FileStorage) Close() error {
	if ms.file == nil {
		return nil
	}
	err := ms.file.Close()
	ms.file = nil
	return err
}
