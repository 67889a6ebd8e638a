// Command forge is the workflow orchestration CLI: it drives issue
// classification, phase execution, and pull-request delivery for the
// workflow engine.
package main

import (
	"os"

	"github.com/forgeflow/forge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
