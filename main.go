// Command flowbridge runs a single pub-sub bridge flow described by a
// config file, until a shutdown signal arrives.
package main

import (
	"os"

	"flowbridge.dev/flowbridge/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
