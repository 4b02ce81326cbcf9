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

package firmware

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/flashenv"
	log "github.com/sirupsen/logrus"
)

// Port is the fixed TCP port the update server listens on.
const Port = 19001

// Status codes, sent as a big-endian uint32 (spec.md §4.11,
// update_protocol.h). 0x00000000 is deliberately never issued.
const (
	StatusOKToProceed   uint32 = 0x00000001
	StatusWriteComplete uint32 = 0x00000002
	StatusError         uint32 = 0xFFFFFFFF
)

// Flash layout for the inactive ("B") bitstream and application slots,
// and the shared boot-environment region the committed package flips
// over to (spec.md §6).
const (
	bitstreamOffsetB   = 0xB40000
	bitstreamSizeB     = 0x500000
	applicationOffsetB = 0x1040000
	applicationSizeB   = 0x500000
)

// Server accepts one firmware package per connection, validates it, and
// on success writes it to the inactive slot and flips the boot
// environment over to it.
type Server struct {
	Store *devconfig.Store
}

// ListenAndServe listens on Port until ctx is canceled. Each connection
// is handled to completion before the next accept, matching the
// original's MAX_CLIENT_QUEUE = 1 single-client-at-a-time design.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp4", fmt.Sprintf(":%d", Port))
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		log.Infof("firmware: client %s connected", conn.RemoteAddr())
		if err := s.handle(conn); err != nil {
			log.Warnf("firmware: update from %s failed: %v", conn.RemoteAddr(), err)
		} else {
			log.Infof("firmware: update from %s completed", conn.RemoteAddr())
		}
		conn.Close()
	}
}

func (s *Server) handle(conn net.Conn) error {
	var netSize uint32
	if err := binary.Read(conn, binary.BigEndian, &netSize); err != nil {
		return fmt.Errorf("reading package size: %w", err)
	}

	if netSize == 0 || netSize > MaxPackageSize {
		sendStatus(conn, StatusError)
		return fmt.Errorf("invalid package size %d", netSize)
	}
	log.Infof("firmware: receiving %d byte package", netSize)

	buf := make([]byte, netSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		// The client disconnected mid-transfer; no point replying.
		return fmt.Errorf("receiving package body: %w", err)
	}

	h, bitData, appData, err := validate(buf)
	if err != nil {
		sendStatus(conn, StatusError)
		return err
	}
	log.Infof("firmware: package validated (pkg=%s bit=%s app=%s, bit_len=%d app_len=%d)",
		versionString(h.PkgVersion), versionString(h.BitVersion), versionString(h.AppVersion),
		h.BitLength, h.AppLength)

	var currentFW [3]int
	s.Store.View(func(cfg *devconfig.SystemConfiguration) { currentFW = cfg.Device.FWVersion })
	if err := checkNotDowngrade(currentFW, versionString(h.AppVersion)); err != nil {
		sendStatus(conn, StatusError)
		return err
	}

	if err := sendStatus(conn, StatusOKToProceed); err != nil {
		return fmt.Errorf("sending OK_TO_PROCEED: %w", err)
	}

	if err := s.writeToFlash(h, bitData, appData); err != nil {
		sendStatus(conn, StatusError)
		return fmt.Errorf("writing to flash: %w", err)
	}

	// A failure to deliver the final ack does not undo a successful
	// flash write: the client only misses the notification.
	if err := sendStatus(conn, StatusWriteComplete); err != nil {
		log.Warnf("firmware: sending WRITE_COMPLETE: %v", err)
	}
	return nil
}

func sendStatus(w io.Writer, status uint32) error {
	return binary.Write(w, binary.BigEndian, status)
}

// writeToFlash erases and writes the inactive bitstream/application
// slots, then flips the shared boot environment over to them. The
// environment commit happens strictly last: a crash at any earlier
// step leaves the currently-active slot, and its environment, intact.
func (s *Server) writeToFlash(h header, bitData, appData []byte) error {
	flash := s.Store.Flash()

	log.Infof("firmware: erasing bitstream slot B (0x%X, %d bytes)", bitstreamOffsetB, bitstreamSizeB)
	if err := flash.Erase(bitstreamOffsetB, bitstreamSizeB); err != nil {
		return fmt.Errorf("erasing bitstream slot: %w", err)
	}
	if err := flash.Write(bitstreamOffsetB, bitData); err != nil {
		return fmt.Errorf("writing bitstream slot: %w", err)
	}

	log.Infof("firmware: erasing application slot B (0x%X, %d bytes)", applicationOffsetB, applicationSizeB)
	if err := flash.Erase(applicationOffsetB, applicationSizeB); err != nil {
		return fmt.Errorf("erasing application slot: %w", err)
	}
	if err := flash.Write(applicationOffsetB, appData); err != nil {
		return fmt.Errorf("writing application slot: %w", err)
	}

	env, err := flashenv.FindEnv(flash)
	if err != nil {
		return fmt.Errorf("loading boot environment: %w", err)
	}
	if err := env.SetEnv("fpga_size_b", fmt.Sprintf("%d", h.BitLength)); err != nil {
		return fmt.Errorf("setenv fpga_size_b: %w", err)
	}
	if err := env.SetEnv("app_size_b", fmt.Sprintf("%d", h.AppLength)); err != nil {
		return fmt.Errorf("setenv app_size_b: %w", err)
	}
	if err := env.SetEnv("boot_count", "3"); err != nil {
		return fmt.Errorf("setenv boot_count: %w", err)
	}
	if err := env.SetEnv("ver_select", "b"); err != nil {
		return fmt.Errorf("setenv ver_select: %w", err)
	}
	if err := env.Save(); err != nil {
		return fmt.Errorf("saving boot environment: %w", err)
	}
	return nil
}
