// Command paramctl drives the demo parameter tree offline: it applies
// commands through the same validation and commit path the daemon uses and
// prints the resulting statuses and manifest.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "paramctl:", err)
		os.Exit(1)
	}
}
