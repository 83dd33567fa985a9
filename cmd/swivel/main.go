// Command swivel coordinates zero-downtime Weaviate index migrations.
package main

import (
	"os"

	"github.com/kilupskalvis/swivel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
