// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/pyvm/pyvm/cmd/pyvm"

func main() {
	cmd.Execute()
}
