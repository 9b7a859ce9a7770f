// Command incarnator runs and inspects the background state graphs of an
// incarnator server.
package main

import (
	"context"
	"os"

	"github.com/avaraline/incarnator/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
