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
	"fmt"
	"net"
	"time"
)

// Global config command IDs, mirrored from globalconfig.Command since
// that package keeps its frame codec unexported (it's a server-side
// wire format, not a client library) - the admin CLI here only needs
// the handful it drives.
const (
	cmdOverview byte = 0x01
	cmdSerial   byte = 0x04
	cmdAdmin    byte = 0x07
)

const (
	adminLogin         byte = 0x00
	adminChangePass    byte = 0x01
	adminFactoryReset  byte = 0x02
	adminSaveAndReboot byte = 0x03
)

var frameHeader = [2]byte{0xA5, 0xA5}
var frameTrailer = [2]byte{0x5A, 0x5A}

func encodeFrame(cmd, sub byte, data []byte) []byte {
	out := make([]byte, 0, 6+len(data))
	out = append(out, frameHeader[0], frameHeader[1], cmd, sub)
	out = append(out, data...)
	return append(out, frameTrailer[0], frameTrailer[1])
}

func pstr(out []byte, s string, max int) []byte {
	if len(s) > max {
		s = s[:max]
	}
	out = append(out, byte(len(s)))
	field := make([]byte, max)
	copy(field, s)
	return append(out, field...)
}

// request dials addr, writes one encoded frame, and returns the next
// frame's [cmd][sub][data...] body (header/trailer already stripped).
func request(addr string, cmd, sub byte, data []byte) (respCmd, respSub byte, body []byte, err error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write(encodeFrame(cmd, sub, data)); err != nil {
		return 0, 0, nil, fmt.Errorf("write request: %w", err)
	}

	buf := make([]byte, 0, 1024)
	tmp := make([]byte, 512)
	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if f, ok := findFrame(buf); ok {
			return f.cmd, f.sub, f.data, nil
		}
		if err != nil {
			return 0, 0, nil, fmt.Errorf("read response: %w", err)
		}
	}
}

type wireFrame struct {
	cmd  byte
	sub  byte
	data []byte
}

func findFrame(buf []byte) (wireFrame, bool) {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] != frameHeader[0] || buf[i+1] != frameHeader[1] {
			continue
		}
		rest := buf[i+2:]
		if len(rest) < 4 {
			return wireFrame{}, false
		}
		for j := 2; j+1 < len(rest); j++ {
			if rest[j] == frameTrailer[0] && rest[j+1] == frameTrailer[1] {
				return wireFrame{cmd: rest[0], sub: rest[1], data: rest[2:j]}, true
			}
		}
		return wireFrame{}, false
	}
	return wireFrame{}, false
}
