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

// Package uart abstracts the per-channel UART register surface behind a
// minimal HAL interface, with an in-memory simulator for tests and a
// real Linux TTY backend for hardware.
package uart

import "fmt"

// Parity enumerates the line parity modes a channel can be configured with.
type Parity int

// Parity values, in the bit-packing order used by the RealCOM PORT_INIT
// command (see realcom package).
const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
	ParityMark
	ParitySpace
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return fmt.Sprintf("parity(%d)", int(p))
	}
}

// Params is the set of line parameters a channel programs via Configure.
type Params struct {
	Baud     int
	DataBits int // 5, 6, 7, 8
	StopBits int // 1, 2
	Parity   Parity
}

// LED identifies one of the per-channel, per-purpose indicator bits.
type LED int

// LED bit identities.
const (
	LEDTx LED = iota
	LEDRx
	LEDPort
)

// HAL is the per-channel UART register surface. Every method is pure
// side effect: no state is retained beyond what the hardware (or, for
// Sim, the simulated hardware) itself holds.
type HAL interface {
	// Configure atomically programs the baud divisor, line control
	// register and FIFO control register for channel ch. An error
	// means the caller must transition the channel's UART state to
	// ERROR.
	Configure(ch int, p Params) error

	// SetModem read-modify-writes the modem control register (DTR/RTS).
	SetModem(ch int, dtr, rts bool) error

	// BreakOn/BreakOff toggle the BREAK control bit.
	BreakOn(ch int) error
	BreakOff(ch int) error

	// TXReady reports whether the transmit holding register has space.
	TXReady(ch int) bool

	// TXByte writes a single byte to the transmit holding register.
	// Precondition: TXReady(ch) was observed true.
	TXByte(ch int, b byte) error

	// RXDrain reads until the "data available" bit clears or len(buf)
	// bytes have been read, returning the count actually read.
	RXDrain(ch int, buf []byte) int

	// FIFODepth returns the hardware FIFO's configured depth in bytes,
	// used to derive the per-tick TX burst size (UART_HW_FIFO_SIZE/2).
	FIFODepth(ch int) int

	// SetLED sets or clears a memory-mapped LED bit.
	SetLED(ch int, which LED, on bool) error

	// ModemStatus reports the live DSR/CTS/DCD input bits.
	ModemStatus(ch int) (dsr, cts, dcd bool)
}

// BaudTable is the fixed RealCOM PORT_INIT baud index table (app_cmd.c).
var BaudTable = [...]int{
	300, 600, 1200, 2400, 4800, 7200, 9600, 19200, 38400, 57600,
	115200, 230400, 460800, 921600, 150, 134, 110, 75, 50,
}

// BaudFromIndex translates a PORT_INIT baud-table index into a baud rate.
func BaudFromIndex(idx int) (int, error) {
	if idx < 0 || idx >= len(BaudTable) {
		return 0, fmt.Errorf("uart: baud index %d out of range", idx)
	}
	return BaudTable[idx], nil
}
