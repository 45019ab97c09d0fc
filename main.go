// SPDX-License-Identifier: Apache 2.0

package main

import "github.com/swarmsync/swarmsync/cmd"

func main() {
	cmd.Execute()
}
