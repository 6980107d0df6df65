// GrowthGovernor serves the outbound action governor API and its operator commands.
package main

import (
	"fmt"
	"os"

	"github.com/BTreeMap/GrowthGovernor/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
