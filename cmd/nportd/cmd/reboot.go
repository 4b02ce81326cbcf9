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

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(rebootCmd)
	RootCmd.AddCommand(factoryResetCmd)
}

var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "persist the current configuration and reboot the device",
	RunE: func(_ *cobra.Command, _ []string) error {
		ConfigureVerbosity()
		return adminCommand(rootAddrFlag, adminSaveAndReboot)
	},
}

var factoryResetCmd = &cobra.Command{
	Use:   "factory-reset",
	Short: "load and persist the factory default configuration",
	RunE: func(_ *cobra.Command, _ []string) error {
		ConfigureVerbosity()
		return adminCommand(rootAddrFlag, adminFactoryReset)
	},
}

func adminCommand(addr string, sub byte) error {
	_, _, data, err := request(addr, cmdAdmin, sub, nil)
	if err != nil {
		return err
	}
	if len(data) < 2 || data[1] == 0 {
		return fmt.Errorf("device rejected the request")
	}
	fmt.Println("ok")
	return nil
}
