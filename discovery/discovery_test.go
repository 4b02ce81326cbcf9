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

package discovery

import (
	"strings"
	"testing"

	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/flashenv"
	"github.com/stretchr/testify/require"
)

func TestSummaryFormat(t *testing.T) {
	store := devconfig.New(flashenv.NewInMemory(0x200000))
	store.LoadDefaults()
	r := &Responder{Store: store}

	line := r.summary()
	parts := strings.Split(line, ";")
	require.Len(t, parts, 6)
}
