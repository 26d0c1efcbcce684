// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
serial:
  device: /dev/ttyACM0
  baud_rate: 19200
  parity: e
  timeout: 1s
link:
  type: RTU-over-TCP
  address: 192.168.1.50:4001
log:
  level: debug
  file: /var/log/mbrtu.log
simulator:
  unit_id: 17
  persistence:
    type: mmap
    path: /var/lib/mbrtu/registers.bin
metrics:
  address: ":9100"
`

func writeConfig(t *testing.T, fs afero.Fs, name, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(afero.NewMemMapFs(), "", nil)
	require.NoError(t, err)

	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 8, cfg.Serial.DataBits)
	assert.Equal(t, "N", cfg.Serial.Parity)
	assert.Equal(t, 1, cfg.Serial.StopBits)
	assert.Equal(t, 500*time.Millisecond, cfg.Serial.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Serial.RqstPause)
	assert.Equal(t, LinkRTU, cfg.Link.Type)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1, cfg.Simulator.UnitID)
	assert.Equal(t, "memory", cfg.Simulator.Persistence.Type)
	assert.Empty(t, cfg.Metrics.Address)
}

func TestLoad_File(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/etc/mbrtu/config.yaml", sampleConfig)

	cfg, err := Load(fs, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Device)
	assert.Equal(t, 19200, cfg.Serial.BaudRate)
	assert.Equal(t, "E", cfg.Serial.Parity, "parity is upper-cased")
	assert.Equal(t, time.Second, cfg.Serial.Timeout)
	assert.Equal(t, LinkRTUOverTCP, cfg.Link.Type)
	assert.Equal(t, "192.168.1.50:4001", cfg.Link.Address)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 17, cfg.Simulator.UnitID)
	assert.Equal(t, PersistenceConfig{Type: "mmap", Path: "/var/lib/mbrtu/registers.bin"}, cfg.Simulator.Persistence)
	assert.Equal(t, ":9100", cfg.Metrics.Address)

	s := cfg.Serial.Settings()
	assert.Equal(t, "/dev/ttyACM0", s.Device)
	assert.Equal(t, 19200, s.BaudRate)
}

func TestLoad_ExplicitFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/tmp/bench.yaml", "serial:\n  device: /dev/ttyUSB3\n")

	cfg, err := Load(fs, "/tmp/bench.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Serial.Device)

	_, err = Load(fs, "/tmp/missing.yaml", nil)
	assert.Error(t, err, "an explicit config file must exist")
}

func TestLoad_EnvAndFlags(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/etc/mbrtu/config.yaml", sampleConfig)

	t.Setenv("MBRTU_SERIAL_DEVICE", "/dev/ttyUSB9")
	t.Setenv("MBRTU_LOG_LEVEL", "warn")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.Int("baud", 9600, "")
	flags.String("unrelated", "", "")
	require.NoError(t, flags.Parse([]string{"--log-level=error"}))

	cfg, err := Load(fs, "", flags)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB9", cfg.Serial.Device, "env beats file")
	assert.Equal(t, "error", cfg.Log.Level, "a set flag beats env")
	assert.Equal(t, 19200, cfg.Serial.BaudRate, "an unset flag does not beat the file")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown link", "link:\n  type: carrier-pigeon\n"},
		{"tcp without address", "link:\n  type: rtu-over-tcp\n"},
		{"bad parity", "serial:\n  parity: x\n"},
		{"bad unit", "simulator:\n  unit_id: 0\n"},
		{"bad yaml", "serial: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeConfig(t, fs, "/etc/mbrtu/config.yaml", tt.content)
			_, err := Load(fs, "", nil)
			assert.Error(t, err)
		})
	}
}
