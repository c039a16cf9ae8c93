// Command loyaltyd serves the loyalty points API and runs ledger maintenance.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/R3E-Network/loyalty_layer/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd := cli.NewRootCommand(version)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "loyaltyd:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
