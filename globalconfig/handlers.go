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

package globalconfig

import (
	"encoding/binary"
	"net"

	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/uart"
	"github.com/shirou/gopsutil/v3/host"
)

const maxAliasLen = 19
const maxModelNameLen = 31

// pstr appends a Pascal-style [len(1)][bytes(max)] field, matching
// original_source/APP/app_net_cfg.c's strncpy-into-fixed-field pattern.
func pstr(out []byte, s string, max int) []byte {
	if len(s) > max {
		s = s[:max]
	}
	out = append(out, byte(len(s)))
	field := make([]byte, max)
	copy(field, s)
	return append(out, field...)
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func be64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func (s *Server) handleOverview() []byte {
	var dev devconfig.Device
	s.Store.View(func(cfg *devconfig.SystemConfiguration) { dev = cfg.Device })

	out := make([]byte, 0, 96)
	out = pstr(out, dev.ModelName, maxModelNameLen)
	out = append(out, dev.MAC[:]...)
	out = append(out, be32(dev.SerialNo)...)
	out = append(out, byte(dev.FWVersion[0]), byte(dev.FWVersion[1]), byte(dev.FWVersion[2]))
	out = append(out, byte(dev.HWVersion[0]), byte(dev.HWVersion[1]), byte(dev.HWVersion[2]))

	uptime, _ := host.Uptime() // seconds; wired per the ambient gopsutil stack
	out = append(out, byte(uptime/86400), byte((uptime%86400)/3600), byte((uptime%3600)/60), byte(uptime%60))

	lcm := byte(0)
	if dev.LCMPresent {
		lcm = 1
	}
	out = append(out, lcm)

	return encodeFrame(CmdOverview, 0x01, out)
}

func (s *Server) handleBasic(f frame) []byte {
	if f.sub == 0x01 && len(f.data) > 0 {
		parts := splitPascalStrings(f.data, 4)
		if len(parts) != 4 {
			return simpleAck(CmdBasic, f.sub, 0, false)
		}
		flagsOff := 0
		for _, p := range parts {
			flagsOff += 1 + len(p)
		}
		if flagsOff+4 > len(f.data) {
			return simpleAck(CmdBasic, f.sub, 0, false)
		}
		flags := f.data[flagsOff : flagsOff+4]
		s.Store.Mutate(func(cfg *devconfig.SystemConfiguration) {
			d := &cfg.Device
			d.ServerName, d.TimeZone, d.LocalTime, d.TimeServer = parts[0], parts[1], parts[2], parts[3]
			d.WebEnable, d.TelnetEnable, d.LCMProtect, d.ResetProtect = flags[0] != 0, flags[1] != 0, flags[2] != 0, flags[3] != 0
		})
		return simpleAck(CmdBasic, f.sub, 0, true)
	}

	var dev devconfig.Device
	s.Store.View(func(cfg *devconfig.SystemConfiguration) { dev = cfg.Device })
	out := make([]byte, 0, 64)
	out = pstr(out, dev.ServerName, 31)
	out = pstr(out, dev.TimeZone, 31)
	out = pstr(out, dev.LocalTime, 19)
	out = pstr(out, dev.TimeServer, 31)
	out = append(out, boolByte(dev.WebEnable), boolByte(dev.TelnetEnable), boolByte(dev.LCMProtect), boolByte(dev.ResetProtect))
	return encodeFrame(CmdBasic, 0x00, out)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// networkWriteLen is ip(4)+mask(4)+gw(4)+dhcp(1)+dns1(4)+dns2(4)+snmp(1)+
// auto_report{enabled(1)+ip(4)+udp_port(4)+period(4)}, matching the read
// path's field order (spec.md §4.9 NETWORK write).
const networkWriteLen = 4 + 4 + 4 + 1 + 4 + 4 + 1 + 1 + 4 + 4 + 4

func (s *Server) handleNetwork(f frame) []byte {
	if f.sub == 0x01 && len(f.data) >= networkWriteLen {
		ip := net.IPv4(f.data[0], f.data[1], f.data[2], f.data[3])
		mask := net.IPv4(f.data[4], f.data[5], f.data[6], f.data[7])
		gw := net.IPv4(f.data[8], f.data[9], f.data[10], f.data[11])
		dhcp := f.data[12] != 0
		dns1 := binary.BigEndian.Uint32(f.data[13:17])
		dns2 := binary.BigEndian.Uint32(f.data[17:21])
		snmp := f.data[21] != 0
		arEnabled := f.data[22] != 0
		arIP := binary.BigEndian.Uint32(f.data[23:27])
		arPort := binary.BigEndian.Uint32(f.data[27:31])
		arPeriod := binary.BigEndian.Uint32(f.data[31:35])

		err := s.Store.ApplyNetwork("eth0", ip, mask, gw, dhcp)
		s.Store.Mutate(func(cfg *devconfig.SystemConfiguration) {
			cfg.Device.DNS[0] = dns1
			cfg.Device.DNS[1] = dns2
			cfg.Device.SNMPEnable = snmp
			cfg.Device.AutoReport.Enabled = arEnabled
			cfg.Device.AutoReport.IP = arIP
			cfg.Device.AutoReport.UDPPort = int(arPort)
			cfg.Device.AutoReport.PeriodS = int(arPeriod)
		})
		return simpleAck(CmdNetwork, f.sub, 0, err == nil)
	}

	var dev devconfig.Device
	s.Store.View(func(cfg *devconfig.SystemConfiguration) { dev = cfg.Device })
	iface := dev.Net[0]
	out := make([]byte, 0, 32)
	out = append(out, be32(iface.IP)...)
	out = append(out, be32(iface.Mask)...)
	out = append(out, be32(iface.Gateway)...)
	out = append(out, boolByte(iface.DHCP))
	out = append(out, be32(dev.DNS[0])...)
	out = append(out, be32(dev.DNS[1])...)
	out = append(out, boolByte(dev.SNMPEnable))
	out = append(out, boolByte(dev.AutoReport.Enabled))
	out = append(out, be32(dev.AutoReport.IP)...)
	out = append(out, be32(uint32(dev.AutoReport.UDPPort))...)
	out = append(out, be32(uint32(dev.AutoReport.PeriodS))...)
	return encodeFrame(CmdNetwork, 0x00, out)
}

func (s *Server) handleSerial(f frame) []byte {
	switch f.sub {
	case 0x00: // read all
		var chans [devconfig.NumPorts]devconfig.Channel
		s.Store.View(func(cfg *devconfig.SystemConfiguration) { chans = cfg.Channels })
		out := make([]byte, 0, devconfig.NumPorts*32)
		for i := range chans {
			out = append(out, encodeSerialPort(i, &chans[i])...)
		}
		return encodeFrame(CmdSerial, 0x00, out)

	case 0x01: // read one
		if len(f.data) < 1 {
			return simpleAck(CmdSerial, f.sub, 0, false)
		}
		idx := int(f.data[0]) - 1
		if idx < 0 || idx >= devconfig.NumPorts {
			return simpleAck(CmdSerial, f.sub, f.data[0], false)
		}
		var ch devconfig.Channel
		s.Store.View(func(cfg *devconfig.SystemConfiguration) { ch = cfg.Channels[idx] })
		return encodeFrame(CmdSerial, 0x01, encodeSerialPort(idx, &ch))

	case 0x02: // write one
		if len(f.data) < 1 {
			return simpleAck(CmdSerial, f.sub, 0, false)
		}
		idx := int(f.data[0]) - 1
		if idx < 0 || idx >= devconfig.NumPorts || len(f.data) < 1+1+maxAliasLen+4+6 {
			return simpleAck(CmdSerial, f.sub, f.data[0], false)
		}
		p := f.data[1:]
		aliasLen := int(p[0])
		if aliasLen > maxAliasLen {
			aliasLen = maxAliasLen
		}
		alias := string(p[1 : 1+aliasLen])
		rest := p[1+maxAliasLen:]
		baud := binary.BigEndian.Uint32(rest[0:4])
		s.Store.Mutate(func(cfg *devconfig.SystemConfiguration) {
			ch := &cfg.Channels[idx]
			ch.Alias = alias
			ch.Baud = int(baud)
			if len(rest) >= 10 {
				ch.DataBits = int(rest[4])
				ch.StopBits = int(rest[5])
				ch.Parity = uart.Parity(rest[6])
				ch.FifoEnable = rest[7] != 0
				ch.FlowCtrl = rest[8] != 0
				ch.InterfaceType = interfaceTypeFromByte(rest[9])
			}
		})
		return simpleAck(CmdSerial, f.sub, byte(idx+1), true)

	default:
		return simpleAck(CmdSerial, f.sub, 0, false)
	}
}

func encodeSerialPort(idx int, ch *devconfig.Channel) []byte {
	out := make([]byte, 0, 1+1+maxAliasLen+4+6)
	out = append(out, byte(idx+1))
	out = pstr(out, ch.Alias, maxAliasLen)
	out = append(out, be32(uint32(ch.Baud))...)
	out = append(out, byte(ch.DataBits), byte(ch.StopBits), byte(ch.Parity))
	out = append(out, boolByte(ch.FifoEnable), boolByte(ch.FlowCtrl))
	out = append(out, interfaceTypeByte(ch.InterfaceType))
	return out
}

func interfaceTypeByte(s string) byte {
	switch s {
	case "RS422":
		return 1
	case "RS485":
		return 2
	default:
		return 0
	}
}

func interfaceTypeFromByte(b byte) string {
	switch b {
	case 1:
		return "RS422"
	case 2:
		return "RS485"
	default:
		return "RS232"
	}
}

func (s *Server) handleOperating(f frame) []byte {
	if len(f.data) < 1 {
		return simpleAck(CmdOperating, f.sub, 0, false)
	}
	idx := int(f.data[0]) - 1
	if idx < 0 || idx >= devconfig.NumPorts {
		return simpleAck(CmdOperating, f.sub, f.data[0], false)
	}

	switch f.sub {
	case 0x01: // read one
		var mode devconfig.OpMode
		s.Store.View(func(cfg *devconfig.SystemConfiguration) { mode = cfg.Channels[idx].OpMode })
		return encodeFrame(CmdOperating, f.sub, []byte{byte(idx + 1), byte(mode)})

	case 0x02: // set one
		if len(f.data) < 2 {
			return simpleAck(CmdOperating, f.sub, f.data[0], false)
		}
		mode := devconfig.OpMode(f.data[1])
		if mode < devconfig.OpDisabled || mode > devconfig.OpUDP {
			return simpleAck(CmdOperating, f.sub, f.data[0], false) // unknown mode: rollback, no write
		}
		s.Store.Mutate(func(cfg *devconfig.SystemConfiguration) { cfg.Channels[idx].OpMode = mode })
		return simpleAck(CmdOperating, f.sub, byte(idx+1), true)

	default: // 0x00 query all/one falls back to a read-one response
		var mode devconfig.OpMode
		s.Store.View(func(cfg *devconfig.SystemConfiguration) { mode = cfg.Channels[idx].OpMode })
		return encodeFrame(CmdOperating, f.sub, []byte{byte(idx + 1), byte(mode)})
	}
}

func (s *Server) handleMonitor(f frame) []byte {
	if len(f.data) < 1 {
		return simpleAck(CmdMonitor, f.sub, 0, false)
	}
	idx := int(f.data[0]) - 1
	if idx < 0 || idx >= devconfig.NumPorts {
		return simpleAck(CmdMonitor, f.sub, f.data[0], false)
	}
	var ch devconfig.Channel
	s.Store.View(func(cfg *devconfig.SystemConfiguration) { ch = cfg.Channels[idx] })

	switch f.sub {
	case 0x01: // Line
		out := []byte{byte(idx + 1), byte(ch.OpMode)}
		return encodeFrame(CmdMonitor, f.sub, out)
	case 0x02: // Async
		out := make([]byte, 0, 1+16+3)
		out = append(out, byte(idx+1))
		out = append(out, be64(ch.RxCount)...)
		out = append(out, be64(ch.TxCount)...)
		out = append(out, boolByte(ch.DSR), boolByte(ch.CTS), boolByte(ch.DCD))
		return encodeFrame(CmdMonitor, f.sub, out)
	case 0x03: // Async-Settings
		out := make([]byte, 0, 1+4+7)
		out = append(out, byte(idx+1))
		out = append(out, be32(uint32(ch.Baud))...)
		out = append(out, byte(ch.DataBits), byte(ch.StopBits), byte(ch.Parity))
		out = append(out, boolByte(ch.FifoEnable), boolByte(ch.RTSCTS), boolByte(ch.XonXoff), boolByte(ch.DTR))
		return encodeFrame(CmdMonitor, f.sub, out)
	default:
		return simpleAck(CmdMonitor, f.sub, f.data[0], false)
	}
}

func (s *Server) handleAdmin(f frame) []byte {
	switch f.sub {
	case 0x00: // Login
		if len(f.data) < 2 {
			return simpleAck(CmdAdmin, f.sub, 0, false)
		}
		userLen := int(f.data[0])
		if 1+userLen >= len(f.data) {
			return simpleAck(CmdAdmin, f.sub, 0, false)
		}
		user := string(f.data[1 : 1+userLen])
		passLen := int(f.data[1+userLen])
		passStart := 1 + userLen + 1
		if passStart+passLen > len(f.data) {
			return simpleAck(CmdAdmin, f.sub, 0, false)
		}
		pass := string(f.data[passStart : passStart+passLen])

		var ok bool
		s.Store.View(func(cfg *devconfig.SystemConfiguration) {
			ok = cfg.Device.User == user && cfg.Device.Password == pass
		})
		return simpleAck(CmdAdmin, f.sub, 0, ok)

	case 0x01: // Change Password
		parts := splitPascalStrings(f.data, 3)
		if len(parts) != 3 {
			return simpleAck(CmdAdmin, f.sub, 0, false)
		}
		oldPass, newPass, confirm := parts[0], parts[1], parts[2]
		success := false
		if newPass == confirm {
			s.Store.Mutate(func(cfg *devconfig.SystemConfiguration) {
				if cfg.Device.Password == oldPass {
					cfg.Device.Password = newPass
					success = true
				}
			})
		}
		if success {
			if err := s.Store.Save(); err != nil {
				success = false
			}
		}
		return simpleAck(CmdAdmin, f.sub, 0, success)

	case 0x02: // Load Factory Defaults
		s.Store.LoadDefaults()
		err := s.Store.Save()
		return simpleAck(CmdAdmin, f.sub, 0, err == nil)

	case 0x03: // Save & Reboot
		err := s.Store.Save()
		if err == nil && s.OnReboot != nil {
			s.OnReboot()
		}
		return simpleAck(CmdAdmin, f.sub, 0, err == nil)

	default:
		return simpleAck(CmdAdmin, f.sub, 0, false)
	}
}

// splitPascalStrings reads n consecutive [len(1)][bytes] fields.
func splitPascalStrings(data []byte, n int) []string {
	out := make([]string, 0, n)
	off := 0
	for i := 0; i < n; i++ {
		if off >= len(data) {
			return out
		}
		l := int(data[off])
		off++
		if off+l > len(data) {
			return out
		}
		out = append(out, string(data[off:off+l]))
		off += l
	}
	return out
}
