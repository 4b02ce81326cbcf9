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

// Package globalconfig implements the Global Config Handler: a
// per-session 0xA5A5...0x5A5A framed management protocol serving
// OVERVIEW/BASIC/NETWORK/SERIAL/OPERATING/MONITOR/ADMIN requests
// (spec.md §4.9).
package globalconfig

// MaxCommandLen bounds a session's receive buffer (spec.md §4.9).
const MaxCommandLen = 1024

// MinFrameSize is the smallest legal frame: 2-byte header + cmd + sub +
// 2-byte trailer, no payload.
const MinFrameSize = 6

var header = [2]byte{0xA5, 0xA5}
var trailer = [2]byte{0x5A, 0x5A}

// Command identifies one global-config command_id.
type Command byte

// Global config command IDs (spec.md §4.9).
const (
	CmdOverview Command = 0x01
	CmdBasic    Command = 0x02
	CmdNetwork  Command = 0x03
	CmdSerial   Command = 0x04
	CmdOperating Command = 0x05
	CmdMonitor  Command = 0x06
	CmdAdmin    Command = 0x07
)

// frame is one fully extracted [cmd][sub][data...] payload, trailer
// already stripped.
type frame struct {
	cmd Command
	sub byte
	data []byte
}

// extractFrames scans buf for as many complete 0xA5A5...0x5A5A frames
// as it holds, returning them plus the number of leading bytes
// consumed. Bytes before a header match, or an entire buffer with no
// header at all, are dropped (spec.md §4.9 "on miss, drop bytes before
// the header or clear the buffer").
func extractFrames(buf []byte) (frames []frame, consumed int) {
	for {
		hdrAt := indexHeader(buf[consumed:])
		if hdrAt < 0 {
			// No header anywhere in the remainder: drop it all.
			consumed = len(buf)
			return frames, consumed
		}
		consumed += hdrAt
		rest := buf[consumed:]
		if len(rest) < MinFrameSize {
			return frames, consumed
		}
		trailerAt := indexTrailer(rest[MinFrameSize-2:])
		if trailerAt < 0 {
			return frames, consumed // incomplete: wait for more bytes
		}
		frameEnd := (MinFrameSize - 2) + trailerAt + 2
		body := rest[2 : frameEnd-2] // strip header/trailer
		if len(body) < 2 {
			consumed += frameEnd
			continue
		}
		frames = append(frames, frame{cmd: Command(body[0]), sub: body[1], data: body[2:]})
		consumed += frameEnd
	}
}

func indexHeader(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == header[0] && buf[i+1] == header[1] {
			return i
		}
	}
	return -1
}

func indexTrailer(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == trailer[0] && buf[i+1] == trailer[1] {
			return i
		}
	}
	return -1
}

// encodeFrame wraps cmd/sub/data in the 0xA5A5...0x5A5A envelope.
func encodeFrame(cmd Command, sub byte, data []byte) []byte {
	out := make([]byte, 0, 2+2+len(data)+2)
	out = append(out, header[0], header[1])
	out = append(out, byte(cmd), sub)
	out = append(out, data...)
	out = append(out, trailer[0], trailer[1])
	return out
}
