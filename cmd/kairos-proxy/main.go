// Command kairos-proxy routes time-series query requests to backend
// databases by metric name.
package main

import (
	"fmt"
	"os"

	"github.com/metricrelay/kairos-proxy/cmd/kairos-proxy/cmd"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cmd.SetVersion(version, buildTime, gitCommit)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
