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

// Package realcom implements the RealCOM ASPP command-plane protocol: a
// fixed [cmd][len][payload] framing carried over each channel's command
// socket, used by RealCOM driver clients to program the line and query
// its state (spec.md §4.8).
package realcom

// Command identifies one ASPP command byte (original_source/APP/inc/app_uart.h).
type Command byte

// ASPP command codes.
const (
	CmdLineControl Command = 0x12
	CmdFlush       Command = 0x14
	CmdSetBaud     Command = 0x17
	CmdXonXoff     Command = 0x18
	CmdStartBreak  Command = 0x21
	CmdStopBreak   Command = 0x22
	CmdNotify      Command = 0x26
	CmdPolling     Command = 0x27
	CmdAlive       Command = 0x28
	CmdPortInit    Command = 0x2c
	CmdWaitOQueue  Command = 0x2f
	CmdTXFifo      Command = 0x30
	CmdSetXon      Command = 0x33
	CmdSetXoff     Command = 0x34
)

func (c Command) String() string {
	switch c {
	case CmdLineControl:
		return "LINECTRL"
	case CmdFlush:
		return "FLUSH"
	case CmdSetBaud:
		return "SETBAUD"
	case CmdXonXoff:
		return "XONXOFF"
	case CmdStartBreak:
		return "START_BREAK"
	case CmdStopBreak:
		return "STOP_BREAK"
	case CmdNotify:
		return "NOTIFY"
	case CmdPolling:
		return "POLLING"
	case CmdAlive:
		return "ALIVE"
	case CmdPortInit:
		return "PORT_INIT"
	case CmdWaitOQueue:
		return "WAIT_OQUEUE"
	case CmdTXFifo:
		return "TX_FIFO"
	case CmdSetXon:
		return "SETXON"
	case CmdSetXoff:
		return "SETXOFF"
	default:
		return "UNKNOWN"
	}
}

// dataBitTable maps the 2-bit data_bit field of a PORT_INIT parameter
// byte to an actual bit count.
var dataBitTable = [4]int{5, 6, 7, 8}
