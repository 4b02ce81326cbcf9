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

package realcom

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/uart"
	log "github.com/sirupsen/logrus"
)

// Handler serves the ASPP command protocol for one channel across
// however many command connections the Connection Manager hands it
// (spec.md §4.8).
type Handler struct {
	Channel int
	HAL     uart.HAL
	Store   *devconfig.Store
}

// Serve reads frames from conn until it errors or ctx-equivalent
// closure, dispatching each to the matching command handler. It returns
// when the connection is no longer usable; callers run one Serve per
// accepted command connection.
func (h *Handler) Serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		cmd, payload, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				log.Debugf("realcom: channel %d command read: %v", h.Channel, err)
			}
			return
		}
		if err := h.dispatch(conn, cmd, payload); err != nil {
			log.Warnf("realcom: channel %d command %s: %v", h.Channel, cmd, err)
		}
	}
}

// readFrame reads one [cmd][len][payload] frame (spec.md §4.8).
func readFrame(r *bufio.Reader) (Command, []byte, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	n := int(header[1])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return Command(header[0]), payload, nil
}

func (h *Handler) dispatch(conn net.Conn, cmd Command, payload []byte) error {
	switch cmd {
	case CmdPortInit:
		return h.portInit(conn, payload)
	case CmdSetBaud:
		return h.setBaud(conn, payload)
	case CmdXonXoff:
		return ackShort(conn, byte(cmd))
	case CmdTXFifo:
		return h.setTXFifo(conn, payload)
	case CmdLineControl:
		return h.lineControl(conn, payload)
	case CmdSetXon, CmdSetXoff:
		return ackShort(conn, byte(cmd))
	case CmdStartBreak:
		if err := h.HAL.BreakOn(h.Channel); err != nil {
			return err
		}
		return ackShort(conn, byte(cmd))
	case CmdStopBreak:
		if err := h.HAL.BreakOff(h.Channel); err != nil {
			return err
		}
		return ackShort(conn, byte(cmd))
	case CmdWaitOQueue:
		return ackQueue(conn, byte(cmd))
	case CmdFlush:
		return ackShort(conn, byte(cmd))
	case CmdNotify, CmdAlive, CmdPolling:
		return nil // no response, per original_source/APP/app_cmd.c
	default:
		log.Warnf("realcom: channel %d unknown command 0x%02x", h.Channel, byte(cmd))
		return nil
	}
}

// portInit applies PORT_INIT's line parameters and modem lines, then
// acks with a 5-byte frame (spec.md §4.8, original_source's init_usart).
func (h *Handler) portInit(conn net.Conn, payload []byte) error {
	if len(payload) < 5 {
		return fmt.Errorf("short PORT_INIT payload (%d bytes)", len(payload))
	}
	baud, err := uart.BaudFromIndex(int(payload[0]))
	if err != nil {
		return err
	}
	dataBits := dataBitTable[payload[1]&0x03]
	stopBits := 1
	if payload[1]&0x04 != 0 {
		stopBits = 2
	}
	parity := parityFromMask(payload[1] & 0x38)
	dtr := payload[2] != 0
	rts := payload[3] != 0

	params := uart.Params{Baud: baud, DataBits: dataBits, StopBits: stopBits, Parity: parity}
	if err := h.HAL.Configure(h.Channel, params); err != nil {
		h.setUARTState(devconfig.UARTError)
		return err
	}
	if err := h.HAL.SetModem(h.Channel, dtr, rts); err != nil {
		return err
	}

	h.Store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		ch := &cfg.Channels[h.Channel]
		ch.Baud = baud
		ch.DataBits = dataBits
		ch.StopBits = stopBits
		ch.Parity = parity
		ch.DTR = dtr
		ch.RTS = rts
		ch.UARTState = devconfig.UARTOpened
		ch.PacketSize, ch.SendIntervalMs = devconfig.DefaultPacketSizeFor(baud)
	})

	_, err = conn.Write([]byte{byte(CmdPortInit), 0x03, 0x00, 0x00, 0x00})
	return err
}

func parityFromMask(mask byte) uart.Parity {
	switch mask {
	case 0x00:
		return uart.ParityNone
	case 0x08:
		return uart.ParityEven
	case 0x10:
		return uart.ParityOdd
	case 0x18:
		return uart.ParityMark
	case 0x20:
		return uart.ParitySpace
	default:
		return uart.ParityNone
	}
}

// setBaud reprograms only the baud rate, acking with a 3-byte "OK" frame.
func (h *Handler) setBaud(conn net.Conn, payload []byte) error {
	if len(payload) < 4 {
		return fmt.Errorf("short SETBAUD payload (%d bytes)", len(payload))
	}
	baud := int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])

	var params uart.Params
	h.Store.View(func(cfg *devconfig.SystemConfiguration) {
		ch := &cfg.Channels[h.Channel]
		params = uart.Params{Baud: baud, DataBits: ch.DataBits, StopBits: ch.StopBits, Parity: ch.Parity}
	})
	if err := h.HAL.Configure(h.Channel, params); err != nil {
		return err
	}
	h.Store.Mutate(func(cfg *devconfig.SystemConfiguration) { cfg.Channels[h.Channel].Baud = baud })
	return ackShort(conn, byte(CmdSetBaud))
}

// setTXFifo only records whether the FIFO is enabled (a nonzero payload
// byte); the hardware FIFO depth is fixed and reported via
// uart.HAL.FIFODepth.
func (h *Handler) setTXFifo(conn net.Conn, payload []byte) error {
	if len(payload) < 1 {
		return fmt.Errorf("short TX_FIFO payload")
	}
	h.Store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		cfg.Channels[h.Channel].FifoEnable = payload[0] != 0
	})
	return ackShort(conn, byte(CmdTXFifo))
}

func (h *Handler) lineControl(conn net.Conn, payload []byte) error {
	if len(payload) < 2 {
		return fmt.Errorf("short LINECTRL payload")
	}
	dtr := payload[0] != 0
	rts := payload[1] != 0
	if err := h.HAL.SetModem(h.Channel, dtr, rts); err != nil {
		return err
	}
	h.Store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		cfg.Channels[h.Channel].DTR = dtr
		cfg.Channels[h.Channel].RTS = rts
	})
	return ackShort(conn, byte(CmdLineControl))
}

func (h *Handler) setUARTState(state devconfig.UARTState) {
	h.Store.Mutate(func(cfg *devconfig.SystemConfiguration) { cfg.Channels[h.Channel].UARTState = state })
}

// ackShort writes the 3-byte [cmd]['O']['K'] acknowledgement every
// fixed-response ASPP command shares.
func ackShort(conn net.Conn, cmd byte) error {
	_, err := conn.Write([]byte{cmd, 'O', 'K'})
	return err
}

// ackQueue writes WAIT_OQUEUE's 4-byte reply, reporting zero bytes
// still queued for transmit (spec.md leaves the TX queue depth
// unspecified for the Go translation; 0 is always a truthful lower
// bound once the ring buffer has drained).
func ackQueue(conn net.Conn, cmd byte) error {
	_, err := conn.Write([]byte{cmd, 0x02, 0x00, 0x00})
	return err
}
