// Command queryctl is the QueryGuard operator CLI.
package main

import (
	"context"
	"os"

	"queryguard/internal/cli"
	"queryguard/internal/config"
)

func main() {
	os.Exit(cli.Execute(context.Background(), cli.Options{
		Version: config.NewBuildInfo().String(),
	}, os.Args[1:]))
}
