// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package device simulates a Modbus RTU slave exposing holding registers.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ffutop/mbrtu/internal/device/model"
	"github.com/ffutop/mbrtu/internal/device/persistence"
	"github.com/ffutop/mbrtu/modbus"
	"github.com/ffutop/mbrtu/modbus/rtu"
)

// BroadcastID addresses every device on the line. Writes sent to it are
// applied but never answered.
const BroadcastID = 0

// Device answers Read Holding Registers and Write Multiple Registers
// against a register table.
type Device struct {
	unitID    byte
	registers *model.Registers
	storage   persistence.Storage
}

// New creates a Device for unitID backed by storage.
func New(unitID byte, storage persistence.Storage) (*Device, error) {
	if unitID == BroadcastID || unitID > 247 {
		return nil, fmt.Errorf("invalid unit id %d", unitID)
	}
	regs, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load registers: %w", err)
	}
	return &Device{unitID: unitID, registers: regs, storage: storage}, nil
}

// UnitID returns the address the device answers to.
func (d *Device) UnitID() byte {
	return d.unitID
}

// Registers exposes the register table.
func (d *Device) Registers() *model.Registers {
	return d.registers
}

// Handle processes one decoded request and returns the reply frame, or nil
// when the request is not answered.
func (d *Device) Handle(ctx context.Context, req *rtu.Request) []byte {
	if req.UnitID != d.unitID && req.UnitID != BroadcastID {
		return nil
	}

	var resp []byte
	switch req.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		resp = d.handleReadHoldingRegisters(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		resp = d.handleWriteMultipleRegisters(req)
	default:
		resp = d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}

	if req.UnitID == BroadcastID {
		return nil
	}
	return resp
}

// Close flushes and closes the storage.
func (d *Device) Close() error {
	return errors.Join(d.storage.Save(d.registers), d.storage.Close())
}

func (d *Device) handleReadHoldingRegisters(req *rtu.Request) []byte {
	if req.Quantity < 1 || req.Quantity > rtu.MaxReadQuantity {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	values, err := d.registers.Read(req.StartAddress, req.Quantity)
	if err != nil {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	resp, err := rtu.BuildReadResponse(d.unitID, values)
	if err != nil {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}
	return resp
}

func (d *Device) handleWriteMultipleRegisters(req *rtu.Request) []byte {
	if req.Quantity < 1 || req.Quantity > rtu.MaxWriteQuantity || int(req.Quantity) != len(req.Values) {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if err := d.registers.Write(req.StartAddress, req.Values); err != nil {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	d.storage.OnWrite(req.StartAddress, req.Quantity)
	slog.Debug("registers written", "unitID", d.unitID, "address", req.StartAddress, "quantity", req.Quantity)

	return rtu.BuildWriteResponse(d.unitID, req.StartAddress, req.Quantity)
}

func (d *Device) exception(funcCode, code byte) []byte {
	slog.Debug("exception reply", "unitID", d.unitID, "func", funcCode, "code", code)
	return rtu.BuildExceptionResponse(d.unitID, funcCode, code)
}
