package persistence

import (
	"unsafe"

	"github.com/ffutop/mbrtu/internal/device/model"
)

const (
	sizeHolding = (model.MaxAddress + 1) * 2
	totalSize   = sizeHolding

	offsetHolding = 0
)

// mapBytesToModel constructs a register table backed by the provided data slice.
// Warning: This function uses unsafe pointers to cast byte slices to uint16 slices.
// The resulting table relies on the host's endianness, so a backing file is
// not portable across architectures with different endianness.
func mapBytesToModel(data []byte) *model.Registers {
	holdingBytes := data[offsetHolding : offsetHolding+sizeHolding]
	return &model.Registers{
		Holding: unsafe.Slice((*uint16)(unsafe.Pointer(&holdingBytes[0])), sizeHolding/2),
	}
}
