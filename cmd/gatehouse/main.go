// Command gatehouse is the operator CLI of the approval governance engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/gatehouse/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "gatehouse:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
