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

package uart

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimLoopback(t *testing.T) {
	s := NewSim(true)
	require.NoError(t, s.Configure(0, Params{Baud: 115200, DataBits: 8, StopBits: 1, Parity: ParityNone}))
	require.True(t, s.TXReady(0))
	for _, b := range []byte("HELLO") {
		require.NoError(t, s.TXByte(0, b))
	}
	buf := make([]byte, 16)
	n := s.RXDrain(0, buf)
	require.Equal(t, "HELLO", string(buf[:n]))
}

func TestSimInjectAndDrain(t *testing.T) {
	s := NewSim(false)
	s.Inject(3, []byte("abc"))
	buf := make([]byte, 2)
	n := s.RXDrain(3, buf)
	require.Equal(t, 2, n)
	require.Equal(t, "ab", string(buf[:n]))
	n = s.RXDrain(3, buf)
	require.Equal(t, 1, n)
	require.Equal(t, "c", string(buf[:n]))
}

func TestSimLED(t *testing.T) {
	s := NewSim(false)
	require.NoError(t, s.SetLED(0, LEDRx, true))
	_, rx, _ := s.LEDState(0)
	require.True(t, rx)
}

func TestBaudFromIndex(t *testing.T) {
	b, err := BaudFromIndex(10)
	require.NoError(t, err)
	require.Equal(t, 115200, b)

	_, err = BaudFromIndex(99)
	require.Error(t, err)
}
