// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	mbserial "github.com/ffutop/mbrtu/transport/serial"
)

// Link types
const (
	LinkRTU        = "rtu"
	LinkRTUOverTCP = "rtu-over-tcp"
)

// EnvPrefix prefixes environment overrides, e.g. MBRTU_SERIAL_DEVICE.
const EnvPrefix = "MBRTU"

// Config defines the global configuration structure
type Config struct {
	Serial    SerialConfig    `mapstructure:"serial"`
	Link      LinkConfig      `mapstructure:"link"`
	Log       LogConfig       `mapstructure:"log"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`        // debug, info, warn, error
	File       string `mapstructure:"file"`         // Log file path, "" or "-" for stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // rotate after this size
	MaxBackups int    `mapstructure:"max_backups"`  // rotated files kept
	MaxAgeDays int    `mapstructure:"max_age_days"` // days a rotated file is kept
	Compress   bool   `mapstructure:"compress"`
}

// LinkConfig selects how frames reach the device.
type LinkConfig struct {
	Type    string `mapstructure:"type"`    // "rtu" or "rtu-over-tcp"
	Address string `mapstructure:"address"` // host:port for "rtu-over-tcp"
}

// SimulatorConfig defines the simulated device served by "mbrtu simulate".
type SimulatorConfig struct {
	UnitID      int               `mapstructure:"unit_id"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Address string `mapstructure:"address"` // empty disables the endpoint
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device    string        `mapstructure:"device"`
	BaudRate  int           `mapstructure:"baud_rate"`
	DataBits  int           `mapstructure:"data_bits"`
	Parity    string        `mapstructure:"parity"`
	StopBits  int           `mapstructure:"stop_bits"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RqstPause time.Duration `mapstructure:"rqst_pause"` // Pause between requests

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// Settings converts s to the serial transport settings.
func (s SerialConfig) Settings() mbserial.Settings {
	return mbserial.Settings{
		Device:             s.Device,
		BaudRate:           s.BaudRate,
		DataBits:           s.DataBits,
		Parity:             s.Parity,
		StopBits:           s.StopBits,
		Timeout:            s.Timeout,
		RS485:              s.RS485,
		DelayRtsBeforeSend: s.DelayRtsBeforeSend,
		DelayRtsAfterSend:  s.DelayRtsAfterSend,
		RtsHighDuringSend:  s.RtsHighDuringSend,
		RtsHighAfterSend:   s.RtsHighAfterSend,
		RxDuringTx:         s.RxDuringTx,
	}
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"device":       "serial.device",
	"baud":         "serial.baud_rate",
	"data-bits":    "serial.data_bits",
	"parity":       "serial.parity",
	"stop-bits":    "serial.stop_bits",
	"timeout":      "serial.timeout",
	"pause":        "serial.rqst_pause",
	"link":         "link.type",
	"address":      "link.address",
	"log-level":    "log.level",
	"log-file":     "log.file",
	"persistence":  "simulator.persistence.type",
	"data-file":    "simulator.persistence.path",
	"metrics-addr": "metrics.address",
}

// Load reads configFile, or config.yaml from the default locations when
// configFile is empty, and overlays MBRTU_* environment variables and the
// flags in flags that are known to flagKeys. A missing default config
// file is not an error. fs may be nil to use the OS filesystem.
func Load(fs afero.Fs, configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if fs != nil {
		v.SetFs(fs)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/mbrtu/")
		v.AddConfigPath("$HOME/.mbrtu")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&config.Serial)
	config.Link.Type = strings.ToLower(config.Link.Type)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults also registers every key that environment variables may
// override, since viper only unmarshals keys it knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("serial.device", "")
	v.SetDefault("serial.baud_rate", mbserial.DefaultBaudRate)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.timeout", 500*time.Millisecond)
	v.SetDefault("serial.rqst_pause", 100*time.Millisecond)

	v.SetDefault("link.type", LinkRTU)
	v.SetDefault("link.address", "")

	v.SetDefault("simulator.unit_id", 1)
	v.SetDefault("simulator.persistence.type", "memory")
	v.SetDefault("simulator.persistence.path", "")

	v.SetDefault("metrics.address", "")
}

// Validate reports settings no command can work with.
func (c *Config) Validate() error {
	switch c.Link.Type {
	case LinkRTU:
	case LinkRTUOverTCP:
		if c.Link.Address == "" {
			return fmt.Errorf("link type %s needs link.address", c.Link.Type)
		}
	default:
		return fmt.Errorf("unknown link type %q", c.Link.Type)
	}
	switch c.Serial.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("unknown parity %q", c.Serial.Parity)
	}
	if c.Simulator.UnitID < 1 || c.Simulator.UnitID > 247 {
		return fmt.Errorf("simulator unit id %d out of range 1..247", c.Simulator.UnitID)
	}
	return nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
	if s.RqstPause == 0 {
		s.RqstPause = 100 * time.Millisecond
	}
}
