package test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"

	"github.com/ffutop/mbrtu/internal/device/persistence"
	mbmodbus "github.com/ffutop/mbrtu/modbus"
	"github.com/ffutop/mbrtu/modbus/rtu"
)

// TestEncode_MatchesGoburrow checks request frames byte for byte against
// the goburrow RTU packager.
func TestEncode_MatchesGoburrow(t *testing.T) {
	handler := modbus.NewRTUClientHandler("/dev/null")
	handler.SlaveId = 17

	want, err := handler.Encode(&modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         []byte{0x00, 0x6B, 0x00, 0x03},
	})
	require.NoError(t, err)
	assert.Equal(t, want, rtu.BuildReadRequest(17, 0x006B, 3))

	got, err := rtu.BuildWriteRequest(17, 0x0001, []uint16{0x000A, 0x0102})
	require.NoError(t, err)
	want, err = handler.Encode(&modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteMultipleRegisters,
		Data:         []byte{0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02},
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// TestResponses_DecodedByGoburrow checks that the goburrow packager accepts
// the reply frames built for the simulator.
func TestResponses_DecodedByGoburrow(t *testing.T) {
	handler := modbus.NewRTUClientHandler("/dev/null")
	handler.SlaveId = 17

	resp, err := rtu.BuildReadResponse(17, []uint16{0x022B, 0x0000, 0x0064})
	require.NoError(t, err)
	pdu, err := handler.Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, byte(modbus.FuncCodeReadHoldingRegisters), pdu.FunctionCode)
	assert.Equal(t, []byte{0x06, 0x02, 0x2B, 0x00, 0x00, 0x00, 0x64}, pdu.Data)

	pdu, err = handler.Decode(rtu.BuildExceptionResponse(17, 0x03, mbmodbus.ExceptionCodeIllegalDataAddress))
	require.NoError(t, err)
	assert.Equal(t, byte(0x83), pdu.FunctionCode)
	assert.Equal(t, []byte{0x02}, pdu.Data)
}

// TestGoburrowClient_Device drives the simulated device with the goburrow
// master.
func TestGoburrowClient_Device(t *testing.T) {
	packager := modbus.NewRTUClientHandler("/dev/null")
	packager.SlaveId = slaveID
	client := modbus.NewClient2(packager, &deviceTransporter{dev: newDevice(t, persistence.NewMemoryStorage())})

	results, err := client.WriteMultipleRegisters(100, 3, []byte{0x00, 0x01, 0x00, 0x02, 0xFF, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x03}, results)

	results, err = client.ReadHoldingRegisters(100, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x02, 0xFF, 0xFF}, results)

	_, err = client.ReadHoldingRegisters(65535, 2)
	var mbErr *modbus.ModbusError
	require.True(t, errors.As(err, &mbErr), "got %v", err)
	assert.Equal(t, byte(modbus.ExceptionCodeIllegalDataAddress), mbErr.ExceptionCode)
}

// mbserverReply runs request through an mbserver handler the way its
// serial loop does.
func mbserverReply(t *testing.T, s *mbserver.Server, request []byte,
	handler func(*mbserver.Server, mbserver.Framer) ([]byte, *mbserver.Exception)) []byte {
	t.Helper()
	frame, err := mbserver.NewRTUFrame(request)
	require.NoError(t, err, "mbserver rejected %X", request)

	data, exc := handler(s, frame)
	response := frame.Copy()
	if exc != &mbserver.Success {
		response.SetException(exc)
	} else {
		response.SetData(data)
	}
	return response.Bytes()
}

// TestMbserver_ParsedReplies parses replies of the mbserver device model.
func TestMbserver_ParsedReplies(t *testing.T) {
	s := mbserver.NewServer()
	s.HoldingRegisters[0x10] = 10
	s.HoldingRegisters[0x11] = 20

	reply := mbserverReply(t, s, rtu.BuildReadRequest(slaveID, 0x0010, 2), mbserver.ReadHoldingRegisters)
	result, err := rtu.ParseResponse(reply, slaveID)
	require.NoError(t, err)
	assert.Equal(t, rtu.ReadResult{Registers: []uint16{10, 20}}, result)

	write, err := rtu.BuildWriteRequest(slaveID, 0x0020, []uint16{0xCAFE, 0xBABE, 0x0001})
	require.NoError(t, err)
	reply = mbserverReply(t, s, write, mbserver.WriteHoldingRegisters)
	result, err = rtu.ParseResponse(reply, slaveID)
	require.NoError(t, err)
	assert.Equal(t, rtu.WriteResult{StartAddress: 0x0020, Quantity: 3}, result)
	assert.Equal(t, []uint16{0xCAFE, 0xBABE, 0x0001}, s.HoldingRegisters[0x20:0x23])

	// the reply of another unit is rejected
	_, err = rtu.ParseResponse(reply, slaveID+1)
	assert.ErrorIs(t, err, rtu.ErrUnitMismatch)
}

func TestMbserver_Exception(t *testing.T) {
	s := mbserver.NewServer()
	reply := mbserverReply(t, s, rtu.BuildReadRequest(slaveID, 65535, 2), mbserver.ReadHoldingRegisters)

	exc, ok := rtu.ParseException(reply, slaveID)
	require.True(t, ok, "reply %X", reply)
	assert.Equal(t, byte(mbmodbus.ExceptionCodeIllegalDataAddress), exc.ExceptionCode)

	_, err := rtu.ParseResponse(reply, slaveID)
	assert.ErrorIs(t, err, rtu.ErrUnsupportedFunctionCode)
}

// TestDevice_MatchesMbserver sends the same requests to both device
// implementations and compares the reply frames.
func TestDevice_MatchesMbserver(t *testing.T) {
	s := mbserver.NewServer()
	dev := newDevice(t, persistence.NewMemoryStorage())
	transport := &deviceTransporter{dev: dev}

	write, err := rtu.BuildWriteRequest(slaveID, 500, []uint16{1, 2, 3, 4, 5})
	require.NoError(t, err)
	read := rtu.BuildReadRequest(slaveID, 499, 7)

	for _, step := range []struct {
		request []byte
		handler func(*mbserver.Server, mbserver.Framer) ([]byte, *mbserver.Exception)
	}{
		{write, mbserver.WriteHoldingRegisters},
		{read, mbserver.ReadHoldingRegisters},
	} {
		want := mbserverReply(t, s, step.request, step.handler)
		got, err := transport.Send(step.request)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(want, got), "request %X\nmbserver: %X\ndevice:   %X", step.request, want, got)
	}
}
