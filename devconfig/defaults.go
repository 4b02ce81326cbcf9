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

package devconfig

import (
	"fmt"

	"github.com/facebook/nportd/uart"
)

const (
	defaultBaud           = 9600
	defaultDataBits       = 8
	defaultStopBits       = 1
	defaultMaxConnections = 4
	defaultDataPortBase   = 950 // channel N -> 950+N, matching the 966-for-channel-0-command scenario family
	defaultCmdPortBase    = 966
)

func defaultSystemConfiguration() SystemConfiguration {
	var cfg SystemConfiguration
	cfg.Device = Device{
		ModelName:  "NP-1600-16",
		MAC:        [6]byte{0x00, 0x90, 0xE8, 0x00, 0x00, 0x01},
		SerialNo:   1,
		FWVersion:  [3]int{1, 0, 0},
		HWVersion:  [3]int{1, 0, 0},
		ServerName: "nportd",
		User:       "admin",
		Password:   "admin",
		TimeZone:   "UTC",
		TimeServer: "pool.ntp.org",
		Net: [NumNetInterfaces]NetworkInterface{
			{IP: ipv4("192.168.127.254"), Mask: ipv4("255.255.255.0"), DHCP: true},
		},
		WebEnable:    true,
		TelnetEnable: true,
	}

	for i := 0; i < NumPorts; i++ {
		ch := &cfg.Channels[i]
		ch.Index = i
		ch.Alias = fmt.Sprintf("Port %d", i+1)
		ch.UARTState = UARTClosed
		ch.Baud = defaultBaud
		ch.DataBits = defaultDataBits
		ch.StopBits = defaultStopBits
		ch.Parity = uart.ParityNone
		ch.InterfaceType = "RS232"
		ch.OpMode = OpTCPServer
		ch.TCPServer = TCPServerParams{
			MaxConnections:   defaultMaxConnections,
			LocalTCPPort:     defaultDataPortBase + i,
			CommandPort:      defaultCmdPortBase + i,
			InactivityTimeMs: 0,
		}
		ch.RealCOM = RealCOMParams{
			MaxConnections: defaultMaxConnections,
			DataPort:       defaultDataPortBase + i,
			CommandPort:    defaultCmdPortBase + i,
		}
		ch.PacketSize, ch.SendIntervalMs = DefaultPacketSizeFor(defaultBaud)
		ch.MaxConnectionsCap = defaultMaxConnections
	}
	return cfg
}

func ipv4(s string) uint32 {
	var a, b, c, d uint32
	if _, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d); err != nil {
		return 0
	}
	return a<<24 | b<<16 | c<<8 | d
}
