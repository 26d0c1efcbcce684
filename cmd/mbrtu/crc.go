// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ffutop/mbrtu/modbus/crc"
	"github.com/ffutop/mbrtu/modbus/rtu"
)

type crcFlags struct {
	verify bool
}

type crcDump struct {
	Data     string `json:"data" yaml:"data"`
	CRC      string `json:"crc" yaml:"crc"`
	Frame    string `json:"frame,omitempty" yaml:"frame,omitempty"`
	Valid    *bool  `json:"valid,omitempty" yaml:"valid,omitempty"`
	Received string `json:"received,omitempty" yaml:"received,omitempty"`
}

func newCRCCmd(a *app) *cobra.Command {
	flags := &crcFlags{}

	cmd := &cobra.Command{
		Use:   "crc <hex>...",
		Short: "Compute or verify the CRC-16/Modbus of a frame",
		Long: `Compute the CRC-16/Modbus of hex encoded bytes and print the frame with
the checksum appended low byte first. With --verify the input must be a
complete frame whose last two bytes are checked.

Each argument holds whole bytes, optionally prefixed with 0x and separated
by colons, dashes or commas.`,
		Example: `  mbrtu crc 01 03 00 10 00 02
  mbrtu crc --verify 010300100002C5CE`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				sum  crc.CRC
			)
			sum.Reset()
			for _, arg := range args {
				part, err := parseHex(arg)
				if err != nil {
					return err
				}
				data = append(data, part...)
				sum.PushBytes(part)
			}
			if flags.verify {
				return runVerify(a, data, cmd.OutOrStdout())
			}
			return runCRC(a, data, sum.Value(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&flags.verify, "verify", false, "Verify the trailing checksum of a complete frame")
	return cmd
}

func runCRC(a *app, data []byte, sum uint16, w io.Writer) error {
	frame := append(append([]byte(nil), data...), byte(sum), byte(sum>>8))
	dump := crcDump{
		Data:  hex.EncodeToString(data),
		CRC:   fmt.Sprintf("0x%04X", sum),
		Frame: hex.EncodeToString(frame),
	}
	return render(w, a.output, dump, func(w io.Writer) error {
		fmt.Fprintf(w, "crc:   0x%04X\n", sum)
		fmt.Fprintf(w, "frame: % X\n", frame)
		return nil
	})
}

func runVerify(a *app, frame []byte, w io.Writer) error {
	if len(frame) < 2 {
		return &rtu.MalformedLengthError{Length: len(frame)}
	}
	valid := crc.Verify(frame)
	body := frame[:len(frame)-2]
	dump := crcDump{
		Data:     hex.EncodeToString(body),
		CRC:      fmt.Sprintf("0x%04X", crc.Checksum(body)),
		Valid:    &valid,
		Received: fmt.Sprintf("0x%02X%02X", frame[len(frame)-1], frame[len(frame)-2]),
	}
	if err := render(w, a.output, dump, func(w io.Writer) error {
		if valid {
			fmt.Fprintf(w, "ok: crc 0x%04X\n", crc.Checksum(body))
		}
		return nil
	}); err != nil {
		return err
	}
	if !valid {
		return rtu.CheckFrame(frame)
	}
	return nil
}

// parseHex decodes hex text ignoring separators and an optional 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "", ",", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no input bytes")
	}
	return data, nil
}
