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
	"fmt"
	"regexp"

	"github.com/hashicorp/go-version"
)

// dottedVersion pulls the first "N.N.N"-shaped substring out of a
// free-form version string such as "app-1.4.2" or "V1.4.2-g3f9c1",
// mirroring sa53fw/firmware.go's footer-scraping approach without
// assuming its exact "?v=V%d.%d.%d.%8s" footer format.
var dottedVersion = regexp.MustCompile(`\d+(\.\d+){1,2}`)

func parseVersion(s string) (*version.Version, error) {
	m := dottedVersion.FindString(s)
	if m == "" {
		return nil, fmt.Errorf("firmware: no version number found in %q", s)
	}
	return version.NewVersion(m)
}

// checkNotDowngrade rejects a package whose declared app_version is not
// strictly newer than the currently-running firmware. This is a
// deliberate addition with no analogue in the original update server
// (see SPEC_FULL.md §4, "Firmware package version metadata logging").
func checkNotDowngrade(currentFW [3]int, candidate string) error {
	current, err := version.NewVersion(fmt.Sprintf("%d.%d.%d", currentFW[0], currentFW[1], currentFW[2]))
	if err != nil {
		return fmt.Errorf("firmware: parsing running version: %w", err)
	}
	next, err := parseVersion(candidate)
	if err != nil {
		return err
	}
	if !next.GreaterThan(current) {
		return fmt.Errorf("firmware: refusing downgrade/same-version update (running %s, package %s)", current, next)
	}
	return nil
}
