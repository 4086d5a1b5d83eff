// fadmin bridges a Factorio server's RCON console to a Discord channel
// and exports game statistics to Prometheus.
package main

import (
	"fmt"
	"os"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const banner = `
   __           _           _
  / _| __ _  __| |_ __ ___ (_)_ __
 | |_ / _' |/ _' | '_ ' _ \| | '_ \
 |  _| (_| | (_| | | | | | | | | | |
 |_|  \__,_|\__,_|_| |_| |_|_|_| |_|  %s
 Factorio RCON bridge
`

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
