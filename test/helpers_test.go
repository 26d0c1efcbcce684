package test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ffutop/mbrtu/internal/device"
	"github.com/ffutop/mbrtu/internal/device/persistence"
	"github.com/ffutop/mbrtu/modbus/rtu"
	rtuovertcp "github.com/ffutop/mbrtu/transport/rtu-over-tcp"
)

const slaveID = 1

// deviceTransporter feeds goburrow requests straight into a simulated device.
type deviceTransporter struct {
	dev *device.Device
}

func (d *deviceTransporter) Send(aduRequest []byte) ([]byte, error) {
	req, err := rtu.ParseRequest(aduRequest)
	if err != nil {
		return nil, err
	}
	return d.dev.Handle(context.Background(), req), nil
}

// linkTransporter adapts a Link to the goburrow Transporter interface.
type linkTransporter struct {
	link *rtuovertcp.Link
}

func (l *linkTransporter) Send(aduRequest []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return l.link.Send(ctx, aduRequest)
}

func newDevice(t testing.TB, storage persistence.Storage) *device.Device {
	t.Helper()
	dev, err := device.New(slaveID, storage)
	if err != nil {
		t.Fatalf("device.New: %v", err)
	}
	return dev
}

// serveDevice runs dev behind an RTU-over-TCP server and returns its
// address and a stop function that waits for the server to exit.
func serveDevice(t testing.TB, dev *device.Device) (string, func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := rtuovertcp.NewServer(l.Addr().String()).Serve(ctx, l, dev.Handle); err != nil {
			t.Errorf("Serve: %v", err)
		}
	}()
	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return l.Addr().String(), stop
}
