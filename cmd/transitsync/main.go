// Command transitsync serves static GTFS data and live GTFS-Realtime state
// over HTTP, and imports static archives into the store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
