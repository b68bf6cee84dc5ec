// Command kubilitics-anomaly serves the anomaly detection API and runs
// one-off detections from the command line.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
