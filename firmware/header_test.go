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
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildPackage assembles a well-formed package buffer with correct CRCs,
// for use as a validate() fixture.
func buildPackage(t *testing.T, bitLen, appLen int) []byte {
	t.Helper()
	bitData := bytes.Repeat([]byte{0xAB}, bitLen)
	appData := bytes.Repeat([]byte{0xCD}, appLen)

	buf := make([]byte, HeaderSize+bitLen+appLen)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	// header_crc32 at [4:8], filled in after the rest of the header.
	copy(buf[8:40], []byte("pkg-1.0"))
	copy(buf[40:72], []byte("bit-1.0"))
	copy(buf[72:104], []byte("app-2.0.0"))
	binary.LittleEndian.PutUint32(buf[104:108], 1700000000)
	binary.LittleEndian.PutUint32(buf[108:112], uint32(bitLen))
	binary.LittleEndian.PutUint32(buf[112:116], crc32.ChecksumIEEE(bitData))
	binary.LittleEndian.PutUint32(buf[116:120], uint32(appLen))
	binary.LittleEndian.PutUint32(buf[120:124], crc32.ChecksumIEEE(appData))

	copy(buf[HeaderSize:], bitData)
	copy(buf[HeaderSize+bitLen:], appData)

	headerCRC := crc32.ChecksumIEEE(buf[8:HeaderSize])
	binary.LittleEndian.PutUint32(buf[4:8], headerCRC)
	return buf
}

func recomputeHeaderCRC(buf []byte) {
	headerCRC := crc32.ChecksumIEEE(buf[8:HeaderSize])
	binary.LittleEndian.PutUint32(buf[4:8], headerCRC)
}

func TestValidateAcceptsWellFormedPackage(t *testing.T) {
	buf := buildPackage(t, 1024, 512)
	h, bitData, appData, err := validate(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(Magic), h.Magic)
	require.Len(t, bitData, 1024)
	require.Len(t, appData, 512)
	require.Equal(t, "pkg-1.0", versionString(h.PkgVersion))
}

func TestValidateRejectsBadMagic(t *testing.T) {
	buf := buildPackage(t, 64, 64)
	binary.LittleEndian.PutUint32(buf[0:4], 0xDEADBEEF)
	_, _, _, err := validate(buf)
	require.Error(t, err)
}

func TestValidateRejectsHeaderCRCMismatch(t *testing.T) {
	buf := buildPackage(t, 64, 64)
	buf[10] ^= 0xFF // corrupt a header byte covered by header_crc32
	_, _, _, err := validate(buf)
	require.Error(t, err)
}

func TestValidateRejectsTotalSizeMismatch(t *testing.T) {
	buf := buildPackage(t, 64, 64)
	buf = append(buf, 0x00) // trailing garbage byte
	_, _, _, err := validate(buf)
	require.Error(t, err)
}

func TestValidateRejectsBitstreamCRCMismatch(t *testing.T) {
	buf := buildPackage(t, 64, 64)
	buf[HeaderSize] ^= 0xFF // corrupt a bitstream byte
	_, _, _, err := validate(buf)
	require.Error(t, err)
}

func TestValidateRejectsApplicationCRCMismatch(t *testing.T) {
	buf := buildPackage(t, 64, 64)
	buf[HeaderSize+63] ^= 0xFF // corrupt an application byte
	_, _, _, err := validate(buf)
	require.Error(t, err)
}
