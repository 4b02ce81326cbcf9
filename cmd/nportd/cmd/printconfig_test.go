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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrintOverviewAgainstRealServer(t *testing.T) {
	const addr = "127.0.0.1:14001"
	startTestServer(t, addr)
	require.NoError(t, printOverview(addr))
}

func TestPrintSerialAgainstRealServer(t *testing.T) {
	const addr = "127.0.0.1:14002"
	startTestServer(t, addr)
	require.NoError(t, printSerial(addr))
}
