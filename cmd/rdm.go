// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/dmxstat/pkg/rdm"
	"github.com/Thermoquad/dmxstat/pkg/transaction"
)

var rdmSubDevice uint16

var rdmCmd = &cobra.Command{
	Use:   "rdm",
	Short: "Send RDM GET and SET requests",
	Long: `Send a single RDM request to a responder and print the reply.

Parameters are given by E1.20 name (DEVICE_LABEL, DMX_START_ADDRESS, ...)
or as a hexadecimal PID (0x0082). UIDs are written MMMM:DDDDDDDD.

Parameter data is parsed by parameter:
  labels             - text
  DMX_START_ADDRESS  - decimal address
  DMX_PERSONALITY    - decimal personality number
  IDENTIFY_DEVICE    - on or off
  anything else      - hexadecimal bytes (0x0102 or 0102)

Examples:
  dmxstat rdm get 4a50:00000001 DEVICE_INFO -p /dev/ttyUSB0
  dmxstat rdm set 4a50:00000001 DMX_START_ADDRESS 100 -p /dev/ttyUSB0
  dmxstat rdm set ffff:ffffffff IDENTIFY_DEVICE off --sim bus.toml

Exit codes:
  0 - Request acknowledged
  1 - Request NACKed or not answered
  2 - Connection error`,
}

var rdmGetCmd = &cobra.Command{
	Use:   "get <uid> <pid> [data]",
	Short: "Read a parameter",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRDM(rdm.GetCommand, args)
	},
}

var rdmSetCmd = &cobra.Command{
	Use:   "set <uid> <pid> <value>",
	Short: "Write a parameter",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRDM(rdm.SetCommand, args)
	},
}

func init() {
	rootCmd.AddCommand(rdmCmd)
	rdmCmd.AddCommand(rdmGetCmd, rdmSetCmd)
	rdmCmd.PersistentFlags().Uint16Var(&rdmSubDevice, "sub-device", rdm.RootDevice, "Sub-device number")
}

// parsePID resolves a parameter name or a hexadecimal PID.
func parsePID(s string) (rdm.ParameterID, error) {
	if pid, ok := rdm.ParseParameterName(strings.ToUpper(strings.TrimSpace(s))); ok {
		return pid, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown parameter %q", s)
	}
	return rdm.ParameterID(v), nil
}

// parseParameterData encodes a command-line value as parameter data for pid.
func parseParameterData(pid rdm.ParameterID, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	switch pid {
	case rdm.PIDDeviceLabel, rdm.PIDManufacturerLabel, rdm.PIDDeviceModelDescription, rdm.PIDSoftwareVersionLabel:
		return rdm.LabelData(s), nil

	case rdm.PIDDMXStartAddress:
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil || v < 1 || v > 512 {
			return nil, fmt.Errorf("invalid start address %q (1-512)", s)
		}
		return rdm.Uint16Data(uint16(v)), nil

	case rdm.PIDDMXPersonality, rdm.PIDDMXPersonalityDescription, rdm.PIDSensorValue, rdm.PIDSensorDefinition:
		v, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q (0-255)", s)
		}
		return []byte{byte(v)}, nil

	case rdm.PIDIdentifyDevice:
		switch strings.ToLower(s) {
		case "on", "1", "true":
			return []byte{1}, nil
		case "off", "0", "false":
			return []byte{0}, nil
		}
		return nil, fmt.Errorf("invalid identify state %q (on/off)", s)
	}

	data, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid parameter data %q: %w", s, err)
	}
	return data, nil
}

func runRDM(cc rdm.CommandClass, args []string) error {
	uid, err := rdm.ParseUID(args[0])
	if err != nil {
		return err
	}
	pid, err := parsePID(args[1])
	if err != nil {
		return err
	}
	var value string
	if len(args) > 2 {
		value = args[2]
	}
	data, err := parseParameterData(pid, value)
	if err != nil {
		return err
	}

	b, err := openLine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer b.Close()

	m, err := newManager(b)
	if err != nil {
		return err
	}

	verb := "GET"
	request := m.Get
	if cc == rdm.SetCommand {
		verb = "SET"
		request = m.Set
	}
	fmt.Printf("%s %s %s (sub-device %d) on %s\n", verb, uid, rdm.ParameterName(pid), rdmSubDevice, b.Info())

	reply, err := request(uid, rdmSubDevice, pid, data)
	if err != nil {
		var nack *transaction.NackError
		switch {
		case errors.As(err, &nack):
			fmt.Printf("NACK: %s\n", rdm.FormatNackReason(nack.Reason))
		case errors.Is(err, transaction.ErrTimeout):
			fmt.Printf("No reply: %v\n", err)
		default:
			fmt.Printf("FAILED: %v\n", err)
		}
		os.Exit(1)
	}
	if uid.IsBroadcast() {
		fmt.Printf("Broadcast sent\n")
		return nil
	}

	fmt.Printf("ACK\n")
	fmt.Print(rdm.FormatParameterData(&rdm.Command{
		Source:        uid,
		CommandClass:  cc.Response(),
		ParameterID:   pid,
		ParameterData: reply,
	}))
	return nil
}
