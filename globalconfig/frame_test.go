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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractFramesRoundTrip(t *testing.T) {
	encoded := encodeFrame(CmdOverview, 0x01, []byte{0xDE, 0xAD})
	frames, consumed := extractFrames(encoded)
	require.Len(t, frames, 1)
	require.Equal(t, CmdOverview, frames[0].cmd)
	require.Equal(t, byte(0x01), frames[0].sub)
	require.Equal(t, []byte{0xDE, 0xAD}, frames[0].data)
	require.Equal(t, len(encoded), consumed)
}

func TestExtractFramesDropsGarbagePrefix(t *testing.T) {
	garbage := []byte{0x00, 0x11, 0x22}
	encoded := encodeFrame(CmdAdmin, 0x00, nil)
	buf := append(garbage, encoded...)
	frames, consumed := extractFrames(buf)
	require.Len(t, frames, 1)
	require.Equal(t, len(buf), consumed)
}

func TestExtractFramesWaitsForIncompleteFrame(t *testing.T) {
	encoded := encodeFrame(CmdBasic, 0x00, []byte{1, 2, 3})
	partial := encoded[:len(encoded)-3] // missing trailer
	frames, consumed := extractFrames(partial)
	require.Len(t, frames, 0)
	require.Equal(t, 0, consumed)
}

func TestExtractFramesHandlesMultipleFramesInOneBuffer(t *testing.T) {
	a := encodeFrame(CmdOverview, 0x01, nil)
	b := encodeFrame(CmdMonitor, 0x02, []byte{1})
	buf := append(append([]byte{}, a...), b...)
	frames, consumed := extractFrames(buf)
	require.Len(t, frames, 2)
	require.Equal(t, len(buf), consumed)
}
