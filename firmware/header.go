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

// Package firmware implements the TCP firmware update server: it
// accepts a single binary package, validates it against five ordered
// checks, and flashes the inactive bitstream/application slots
// (spec.md §4.11).
package firmware

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Magic identifies a valid firmware package ('UPDT' in ASCII).
const Magic = 0x55504454

// HeaderSize is the fixed, packed size of packageHeader in bytes.
const HeaderSize = 128

const versionStringLen = 32

// MaxPackageSize bounds the total package size accepted over the wire,
// guarding against a malicious or broken client exhausting RAM.
const MaxPackageSize = 20 * 1024 * 1024

// header is the 128-byte package header, little-endian on the wire.
type header struct {
	Magic       uint32
	HeaderCRC32 uint32
	PkgVersion  [versionStringLen]byte
	BitVersion  [versionStringLen]byte
	AppVersion  [versionStringLen]byte
	Timestamp   uint32
	BitLength   uint32
	BitCRC32    uint32
	AppLength   uint32
	AppCRC32    uint32
	Reserved    [4]byte
}

func parseHeader(buf []byte) (header, error) {
	var h header
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("firmware: package too small for header (%d < %d)", len(buf), HeaderSize)
	}
	if err := binary.Read(bytes.NewReader(buf[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("firmware: decoding header: %w", err)
	}
	return h, nil
}

func versionString(b [versionStringLen]byte) string {
	n := bytes.IndexByte(b[:], 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

// validate runs the five ordered checks from spec.md §4.11 against a
// fully-received package buffer and returns the parsed header plus the
// bitstream/application slices on success. It stops at the first
// failing check, matching the original's fail-fast ordering.
func validate(buf []byte) (header, []byte, []byte, error) {
	h, err := parseHeader(buf)
	if err != nil {
		return h, nil, nil, err
	}

	if h.Magic != Magic {
		return h, nil, nil, fmt.Errorf("firmware: bad magic number 0x%08X", h.Magic)
	}

	headerCRC := crc32.ChecksumIEEE(buf[8:HeaderSize])
	if headerCRC != h.HeaderCRC32 {
		return h, nil, nil, fmt.Errorf("firmware: header CRC mismatch (want 0x%08X, got 0x%08X)", h.HeaderCRC32, headerCRC)
	}

	expectedTotal := uint64(HeaderSize) + uint64(h.BitLength) + uint64(h.AppLength)
	if uint64(len(buf)) != expectedTotal {
		return h, nil, nil, fmt.Errorf("firmware: total size mismatch (want %d, got %d)", expectedTotal, len(buf))
	}

	bitData := buf[HeaderSize : HeaderSize+int(h.BitLength)]
	appData := buf[HeaderSize+int(h.BitLength) : HeaderSize+int(h.BitLength)+int(h.AppLength)]

	bitCRC := crc32.ChecksumIEEE(bitData)
	if bitCRC != h.BitCRC32 {
		return h, nil, nil, fmt.Errorf("firmware: bitstream CRC mismatch (want 0x%08X, got 0x%08X)", h.BitCRC32, bitCRC)
	}

	appCRC := crc32.ChecksumIEEE(appData)
	if appCRC != h.AppCRC32 {
		return h, nil, nil, fmt.Errorf("firmware: application CRC mismatch (want 0x%08X, got 0x%08X)", h.AppCRC32, appCRC)
	}

	return h, bitData, appData, nil
}
