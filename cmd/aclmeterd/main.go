// aclmeterd - MQTT broker with the access-control and metering engine.
package main

import (
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/cli"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	cli.Version = Version
	cli.Commit = Commit
	cli.BuildDate = BuildDate
	cli.Execute()
}
