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

//go:build linux

package uart

import (
	"fmt"
	"sync"
	"time"

	"github.com/daedaluz/goserial"
)

// txByteTimeout bounds TXByte's wait on the kernel's TTY output queue so a
// stalled line (flow control held, unplugged peer) can't block the
// single-goroutine scheduler tick indefinitely (spec.md §4.2).
const txByteTimeout = 100 * time.Millisecond

// LinuxTTY is a HAL backed by real /dev/ttyS* or /dev/ttyUSB* devices,
// one per channel, reachable from a fixed channel->device-path table.
type LinuxTTY struct {
	mu     sync.Mutex
	paths  map[int]string
	ports  map[int]*goserial.Port
	fifoSz int
}

// NewLinuxTTY builds a LinuxTTY HAL. devicePaths maps channel_index to a
// TTY device node, e.g. {0: "/dev/ttyS0", 1: "/dev/ttyS1", ...}.
func NewLinuxTTY(devicePaths map[int]string) *LinuxTTY {
	return &LinuxTTY{
		paths:  devicePaths,
		ports:  make(map[int]*goserial.Port),
		fifoSz: 16,
	}
}

func (l *LinuxTTY) port(ch int) (*goserial.Port, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.ports[ch]; ok {
		return p, nil
	}
	path, ok := l.paths[ch]
	if !ok {
		return nil, fmt.Errorf("uart: no device path configured for channel %d", ch)
	}
	p, err := goserial.Open(path, goserial.NewOptions())
	if err != nil {
		return nil, fmt.Errorf("uart: open %s: %w", path, err)
	}
	l.ports[ch] = p
	return p, nil
}

func cflagForParams(p Params) (goserial.CFlag, error) {
	var cflag goserial.CFlag
	switch p.DataBits {
	case 5:
		cflag |= goserial.CS5
	case 6:
		cflag |= goserial.CS6
	case 7:
		cflag |= goserial.CS7
	case 8:
		cflag |= goserial.CS8
	default:
		return 0, fmt.Errorf("uart: unsupported data bits %d", p.DataBits)
	}
	if p.StopBits == 2 {
		cflag |= goserial.CSTOPB
	}
	switch p.Parity {
	case ParityEven:
		cflag |= goserial.PARENB
	case ParityOdd:
		cflag |= goserial.PARENB | goserial.PARODD
	case ParityNone:
		// no bits set
	default:
		// MARK/SPACE parity has no direct termios equivalent on Linux;
		// approximate with even/odd plus CMSPAR is left to future work.
		cflag |= goserial.PARENB
	}
	return cflag, nil
}

// Configure implements HAL.
func (l *LinuxTTY) Configure(ch int, p Params) error {
	port, err := l.port(ch)
	if err != nil {
		return err
	}
	attrs, err := port.GetAttr2()
	if err != nil {
		return fmt.Errorf("uart: get attrs: %w", err)
	}
	attrs.MakeRaw()
	cflag, err := cflagForParams(p)
	if err != nil {
		return err
	}
	attrs.Cflag &^= goserial.CSIZE | goserial.PARENB | goserial.PARODD | goserial.CSTOPB
	attrs.Cflag |= cflag
	attrs.SetCustomSpeed(uint32(p.Baud))
	if err := port.SetAttr2(goserial.TCSANOW, attrs); err != nil {
		return fmt.Errorf("uart: set attrs: %w", err)
	}
	return nil
}

// SetModem implements HAL.
func (l *LinuxTTY) SetModem(ch int, dtr, rts bool) error {
	port, err := l.port(ch)
	if err != nil {
		return err
	}
	var set, clear goserial.ModemLine
	if dtr {
		set |= goserial.TIOCM_DTR
	} else {
		clear |= goserial.TIOCM_DTR
	}
	if rts {
		set |= goserial.TIOCM_RTS
	} else {
		clear |= goserial.TIOCM_RTS
	}
	if set != 0 {
		if err := port.EnableModemLines(set); err != nil {
			return err
		}
	}
	if clear != 0 {
		if err := port.DisableModemLines(clear); err != nil {
			return err
		}
	}
	return nil
}

// BreakOn implements HAL.
func (l *LinuxTTY) BreakOn(ch int) error {
	port, err := l.port(ch)
	if err != nil {
		return err
	}
	return port.SetBreak()
}

// BreakOff implements HAL.
func (l *LinuxTTY) BreakOff(ch int) error {
	port, err := l.port(ch)
	if err != nil {
		return err
	}
	return port.ClearBreak()
}

// TXReady implements HAL. goserial has no non-blocking "ready" probe, so
// the real backend treats the TTY driver's own output queue as always
// having space and relies on Write's own blocking semantics.
func (l *LinuxTTY) TXReady(_ int) bool {
	return true
}

// TXByte implements HAL. The underlying port.Write has no deadline
// support, so the write runs on its own goroutine and TXByte gives up
// after txByteTimeout rather than risk blocking the scheduler tick
// forever on a stalled line.
func (l *LinuxTTY) TXByte(ch int, b byte) error {
	port, err := l.port(ch)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		_, werr := port.Write([]byte{b})
		done <- werr
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(txByteTimeout):
		return fmt.Errorf("uart: channel %d tx_byte timed out after %s", ch, txByteTimeout)
	}
}

// RXDrain implements HAL.
func (l *LinuxTTY) RXDrain(ch int, buf []byte) int {
	port, err := l.port(ch)
	if err != nil {
		return 0
	}
	n, err := port.ReadTimeout(buf, 0)
	if err != nil {
		return 0
	}
	return n
}

// FIFODepth implements HAL.
func (l *LinuxTTY) FIFODepth(_ int) int {
	return l.fifoSz
}

// SetLED implements HAL. Real channel boards expose LEDs through a
// separate GPIO/memory-mapped surface outside what goserial models;
// this backend is a no-op and exists so LinuxTTY satisfies HAL without
// a second device handle.
func (l *LinuxTTY) SetLED(_ int, _ LED, _ bool) error {
	return nil
}

// ModemStatus implements HAL.
func (l *LinuxTTY) ModemStatus(ch int) (dsr, cts, dcd bool) {
	port, err := l.port(ch)
	if err != nil {
		return false, false, false
	}
	lines, err := port.GetModemLines()
	if err != nil {
		return false, false, false
	}
	return lines&goserial.TIOCM_DSR != 0, lines&goserial.TIOCM_CTS != 0, lines&goserial.TIOCM_CAR != 0
}
