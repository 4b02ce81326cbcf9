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
	"context"
	"net"
	"time"

	"github.com/facebook/nportd/devconfig"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
)

// InactivityTimeout closes a session after this much silence (spec.md
// §4.9, §5: 30s, not original_source's 300s).
const InactivityTimeout = 30 * time.Second

// MaxConfigClients bounds the number of simultaneous config sessions
// (spec.md §4.9, original_source's MAX_CONFIG_CLIENTS).
const MaxConfigClients = 8

// Server accepts and serves Global Config sessions.
type Server struct {
	Store *devconfig.Store

	// OnReboot, if set, is invoked after a successful Admin "Save &
	// Reboot" (sub 0x03). It is the daemon's hook to trigger its own
	// graceful shutdown (app_dev.c's dev_reboot intent: a clean
	// restart under the process supervisor, not a hard kill) - this
	// package only owns the wire protocol, not process lifecycle.
	OnReboot func()

	sessions chan struct{} // capacity MaxConfigClients, used as a counting semaphore
}

// NewServer constructs a Server bound to store.
func NewServer(store *devconfig.Store) *Server {
	return &Server{Store: store, sessions: make(chan struct{}, MaxConfigClients)}
}

// ListenAndServe listens on addr (":5000"-style) and serves Global
// Config sessions until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp4", addr)
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
		select {
		case s.sessions <- struct{}{}:
			go s.serve(ctx, conn)
		default:
			log.Warnf("globalconfig: MAX_CONFIG_CLIENTS reached, rejecting %s", conn.RemoteAddr())
			conn.Close()
		}
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	sessionID := xid.New().String()
	log.Infof("globalconfig: session %s opened from %s", sessionID, conn.RemoteAddr())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	defer func() {
		conn.Close()
		<-s.sessions
		log.Infof("globalconfig: session %s closed", sessionID)
	}()

	buf := make([]byte, 0, MaxCommandLen)
	read := make([]byte, 512)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(InactivityTimeout))
		n, err := conn.Read(read)
		if err != nil {
			return
		}
		if len(buf)+n > MaxCommandLen {
			buf = buf[:0] // overflow: clear and resync on the next header
		}
		buf = append(buf, read[:n]...)

		frames, consumed := extractFrames(buf)
		buf = append(buf[:0], buf[consumed:]...)

		for _, f := range frames {
			resp := s.handle(f)
			if resp == nil {
				continue
			}
			if _, err := conn.Write(resp); err != nil {
				return
			}
		}
	}
}

func (s *Server) handle(f frame) []byte {
	switch f.cmd {
	case CmdOverview:
		return s.handleOverview()
	case CmdBasic:
		return s.handleBasic(f)
	case CmdNetwork:
		return s.handleNetwork(f)
	case CmdSerial:
		return s.handleSerial(f)
	case CmdOperating:
		return s.handleOperating(f)
	case CmdMonitor:
		return s.handleMonitor(f)
	case CmdAdmin:
		return s.handleAdmin(f)
	default:
		log.Warnf("globalconfig: unknown command_id 0x%02x", byte(f.cmd))
		return nil
	}
}

func simpleAck(cmd Command, sub byte, portNum byte, success bool) []byte {
	status := byte(0x00)
	if success {
		status = 0x01
	}
	return encodeFrame(cmd, sub, []byte{portNum, status})
}
