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
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "administrative device commands",
}

var changePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "change the device admin password",
	RunE: func(_ *cobra.Command, _ []string) error {
		ConfigureVerbosity()

		oldPass, err := readPassword("current password: ")
		if err != nil {
			return err
		}
		newPass, err := readPassword("new password: ")
		if err != nil {
			return err
		}
		confirm, err := readPassword("confirm new password: ")
		if err != nil {
			return err
		}

		var data []byte
		for _, s := range []string{oldPass, newPass, confirm} {
			if len(s) > 31 {
				s = s[:31]
			}
			data = append(data, byte(len(s)))
			data = append(data, s...)
		}

		_, _, resp, err := request(rootAddrFlag, cmdAdmin, adminChangePass, data)
		if err != nil {
			return err
		}
		if len(resp) < 2 || resp[1] == 0 {
			fmt.Println(color.RedString("password change rejected"))
			return fmt.Errorf("password change rejected")
		}
		fmt.Println(color.GreenString("password changed"))
		return nil
	},
}

var dumpConfigCmd = &cobra.Command{
	Use:   "dump-raw",
	Short: "print the raw decoded overview frame for debugging",
	RunE: func(_ *cobra.Command, _ []string) error {
		ConfigureVerbosity()
		_, _, data, err := request(rootAddrFlag, cmdOverview, 0x00, nil)
		if err != nil {
			return err
		}
		spew.Fdump(os.Stdout, data)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(changePasswordCmd)
	adminCmd.AddCommand(dumpConfigCmd)
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
