// Command gompi launches groups of processes and runs the broadcast program.
package main

import "github.com/sarchlab/gompi/cmd/gompi/cmd"

func main() {
	cmd.Execute()
}
