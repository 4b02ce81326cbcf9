/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(printConfigCmd)
}

var printConfigCmd = &cobra.Command{
	Use:   "print-config",
	Short: "query a running nportd over the global config protocol and print its overview and serial port table",
	RunE: func(_ *cobra.Command, _ []string) error {
		ConfigureVerbosity()

		if err := printOverview(rootAddrFlag); err != nil {
			return fmt.Errorf("overview: %w", err)
		}
		if err := printSerial(rootAddrFlag); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
		return nil
	},
}

func printOverview(addr string) error {
	_, _, data, err := request(addr, cmdOverview, 0x00, nil)
	if err != nil {
		return err
	}
	if len(data) < 1 {
		return fmt.Errorf("short overview response")
	}

	modelLen := int(data[0])
	off := 1 + 31 // pstr field is always the 31-byte max width regardless of modelLen
	if off+6+4+3+3+4+1 > len(data) {
		return fmt.Errorf("truncated overview response")
	}
	model := string(data[1 : 1+modelLen])
	mac := data[off : off+6]
	off += 6
	serial := binary.BigEndian.Uint32(data[off : off+4])
	off += 4
	fw := data[off : off+3]
	off += 3
	hw := data[off : off+3]
	off += 3
	days, hrs, mins, secs := data[off], data[off+1], data[off+2], data[off+3]

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"model", "mac", "serial", "fw", "hw", "uptime"})
	table.Append([]string{
		model,
		fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5]),
		fmt.Sprintf("%d", serial),
		fmt.Sprintf("%d.%d.%d", fw[0], fw[1], fw[2]),
		fmt.Sprintf("%d.%d.%d", hw[0], hw[1], hw[2]),
		fmt.Sprintf("%dd%dh%dm%ds", days, hrs, mins, secs),
	})
	table.Render()
	return nil
}

const serialRecordLen = 1 + 1 + 19 + 4 + 1 + 1 + 1 + 1 + 1 + 1 // port + pstr(alias,19) + baud + databits + stopbits + parity + fifo + flowctrl + iftype

func printSerial(addr string) error {
	_, _, data, err := request(addr, cmdSerial, 0x00, nil)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"port", "alias", "baud", "data/stop/parity", "fifo", "flow", "interface"})
	for off := 0; off+serialRecordLen <= len(data); off += serialRecordLen {
		rec := data[off : off+serialRecordLen]
		port := rec[0]
		aliasLen := int(rec[1])
		alias := string(rec[2 : 2+aliasLen])
		p := rec[1+1+19:]
		baud := binary.BigEndian.Uint32(p[0:4])
		dataBits, stopBits, parity := p[4], p[5], p[6]
		fifo, flow, iface := p[7], p[8], p[9]
		table.Append([]string{
			fmt.Sprintf("%d", port),
			alias,
			fmt.Sprintf("%d", baud),
			fmt.Sprintf("%d/%d/%d", dataBits, stopBits, parity),
			boolLabel(fifo != 0),
			boolLabel(flow != 0),
			ifaceLabel(iface),
		})
	}
	table.Render()
	return nil
}

func boolLabel(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func ifaceLabel(b byte) string {
	switch b {
	case 1:
		return "RS422"
	case 2:
		return "RS485"
	default:
		return "RS232"
	}
}
