// Command autoserver runs the on-device bookkeeping service. The positional
// command selects foreground or supervised daemon operation; the optional
// workspace argument overrides the probe list.
package main

import (
	"os"

	"github.com/ezbook/autoserver/daemon"
)

func main() {
	os.Exit(daemon.Run(os.Args[1:], os.Stdout, os.Stderr))
}
