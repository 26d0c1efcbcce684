// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serial finds serial devices and opens them.
//
// Discovery reads the USB device tree exported by sysfs:
//
//	/sys/bus/usb/devices/1-1/idVendor             device attributes
//	/sys/bus/usb/devices/1-1:1.0/tty/ttyACM0      CDC ACM interface
//	/sys/bus/usb/devices/1-2:1.0/ttyUSB0          usb-serial interface
package serial

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const (
	usbDevicesDir = "/sys/bus/usb/devices"
	devDir        = "/dev"

	// VendorArduino is the USB vendor id of Arduino SA.
	VendorArduino = 0x2341
)

// Device is a USB serial port found on the host.
type Device struct {
	Path         string `json:"path" yaml:"path"`
	VendorID     uint16 `json:"vendor_id" yaml:"vendor_id"`
	ProductID    uint16 `json:"product_id" yaml:"product_id"`
	Manufacturer string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty" yaml:"product,omitempty"`
	SerialNumber string `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
}

func (d Device) String() string {
	desc := strings.TrimSpace(d.Manufacturer + " " + d.Product)
	if desc == "" {
		return fmt.Sprintf("%s [%04x:%04x]", d.Path, d.VendorID, d.ProductID)
	}
	return fmt.Sprintf("%s [%04x:%04x] %s", d.Path, d.VendorID, d.ProductID, desc)
}

// Filter narrows discovery. A zero VendorID matches every vendor.
type Filter struct {
	VendorID uint16
}

func (f Filter) match(d Device) bool {
	return f.VendorID == 0 || f.VendorID == d.VendorID
}

// Supported reports whether the host exposes the device tree Discover reads.
func Supported(fs afero.Fs) bool {
	ok, err := afero.DirExists(fs, usbDevicesDir)
	return err == nil && ok
}

// Discover lists USB serial ports on fs matching filter, sorted by path.
func Discover(fs afero.Fs, filter Filter) ([]Device, error) {
	entries, err := afero.ReadDir(fs, usbDevicesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", usbDevicesDir, err)
	}

	var devices []Device
	for _, e := range entries {
		iface := e.Name()
		parent, _, isInterface := strings.Cut(iface, ":")
		if !isInterface {
			continue
		}
		ttys := interfaceTTYs(fs, path.Join(usbDevicesDir, iface))
		if len(ttys) == 0 {
			continue
		}

		usbDir := path.Join(usbDevicesDir, parent)
		vendor, err := readHex(fs, path.Join(usbDir, "idVendor"))
		if err != nil {
			continue
		}
		product, _ := readHex(fs, path.Join(usbDir, "idProduct"))

		for _, tty := range ttys {
			d := Device{
				Path:         path.Join(devDir, tty),
				VendorID:     vendor,
				ProductID:    product,
				Manufacturer: readAttr(fs, path.Join(usbDir, "manufacturer")),
				Product:      readAttr(fs, path.Join(usbDir, "product")),
				SerialNumber: readAttr(fs, path.Join(usbDir, "serial")),
			}
			if filter.match(d) {
				devices = append(devices, d)
			}
		}
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })
	return devices, nil
}

// interfaceTTYs returns the tty names bound to a USB interface directory.
func interfaceTTYs(fs afero.Fs, dir string) []string {
	var ttys []string
	if entries, err := afero.ReadDir(fs, path.Join(dir, "tty")); err == nil {
		for _, e := range entries {
			ttys = append(ttys, e.Name())
		}
	}
	if entries, err := afero.ReadDir(fs, dir); err == nil {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "ttyUSB") {
				ttys = append(ttys, e.Name())
			}
		}
	}
	return ttys
}

func readAttr(fs afero.Fs, name string) string {
	b, err := afero.ReadFile(fs, name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readHex(fs afero.Fs, name string) (uint16, error) {
	s := readAttr(fs, name)
	if s == "" {
		return 0, os.ErrNotExist
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid id in %s: %w", name, err)
	}
	return uint16(v), nil
}

// ParseVendorID parses a vendor id written as hex, with or without 0x.
func ParseVendorID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid vendor id %q: %w", s, err)
	}
	return uint16(v), nil
}
