package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/atlas/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	err := cmd.ExecuteContext(context.Background())
	if err != nil && !cli.IsReported(err) {
		fmt.Fprintln(os.Stderr, "atlas:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
