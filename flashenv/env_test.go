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

package flashenv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFlash(t *testing.T) Flash {
	t.Helper()
	return NewInMemory(0x200000)
}

func TestFindEnvBlankInit(t *testing.T) {
	f := newTestFlash(t)
	env, err := FindEnv(f)
	require.NoError(t, err)
	require.Equal(t, byte(1), env.flag)
	_, ok := env.Get("anything")
	require.False(t, ok)
}

func TestSetEnvSaveRoundTrip(t *testing.T) {
	f := newTestFlash(t)
	env, err := FindEnv(f)
	require.NoError(t, err)

	require.NoError(t, env.SetEnv("boot_count", "3"))
	require.NoError(t, env.SetEnv("ver_select", "b"))
	require.NoError(t, env.Save())

	reloaded, err := FindEnv(f)
	require.NoError(t, err)
	v, ok := reloaded.Get("boot_count")
	require.True(t, ok)
	require.Equal(t, "3", v)
	v, ok = reloaded.Get("ver_select")
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestSaveAlternatesSectors(t *testing.T) {
	f := newTestFlash(t)
	env, err := FindEnv(f)
	require.NoError(t, err)

	require.NoError(t, env.SetEnv("k", "v1"))
	require.NoError(t, env.Save())
	flag1 := env.flag

	require.NoError(t, env.SetEnv("k", "v2"))
	require.NoError(t, env.Save())
	flag2 := env.flag

	require.NotEqual(t, flag1, flag2)

	reloaded, err := FindEnv(f)
	require.NoError(t, err)
	v, ok := reloaded.Get("k")
	require.True(t, ok)
	require.Equal(t, "v2", v)
}

func TestSetEnvDeleteByEmptyValue(t *testing.T) {
	f := newTestFlash(t)
	env, err := FindEnv(f)
	require.NoError(t, err)

	require.NoError(t, env.SetEnv("k", "v"))
	require.NoError(t, env.SetEnv("k", ""))
	_, ok := env.Get("k")
	require.False(t, ok)
}

func TestSetEnvNoSpace(t *testing.T) {
	f := newTestFlash(t)
	env, err := FindEnv(f)
	require.NoError(t, err)

	big := make([]byte, envDataSize)
	for i := range big {
		big[i] = 'x'
	}
	err = env.SetEnv("huge", string(big))
	require.ErrorIs(t, err, ErrNoSpace)
}

func TestFlagWraparound(t *testing.T) {
	require.True(t, flagNewer(1, 0xFF))
	require.True(t, flagNewer(2, 0xFE))
	require.False(t, flagNewer(0xFE, 2))
	require.Equal(t, byte(1), nextFlag(0xFF))
	require.Equal(t, byte(2), nextFlag(1))
}

func TestFindEnvPrefersValidSectorWhenOneCorrupt(t *testing.T) {
	f := newTestFlash(t)
	env, err := FindEnv(f)
	require.NoError(t, err)

	// First save lands in sector B (flag starts at 1, odd -> B).
	require.NoError(t, env.SetEnv("k", "v1"))
	require.NoError(t, env.Save())
	// Second save lands in sector A, carrying the newer value.
	require.NoError(t, env.SetEnv("k", "v2"))
	require.NoError(t, env.Save())

	// Corrupt sector A, the newer one; FindEnv must fall back to the
	// still-valid, older sector B rather than fail outright.
	garbage := make([]byte, EnvSectSize)
	for i := range garbage {
		garbage[i] = 0xAA
	}
	require.NoError(t, f.Erase(EnvOffsetA, EnvSectSize))
	require.NoError(t, f.Write(EnvOffsetA, garbage))

	reloaded, err := FindEnv(f)
	require.NoError(t, err)
	v, ok := reloaded.Get("k")
	require.True(t, ok)
	require.Equal(t, "v1", v)
}
