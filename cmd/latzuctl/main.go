// latzuctl is a command-line client for a latzu-edge server: it tails push
// events, emits interaction events and runs chat turns through the relay.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
