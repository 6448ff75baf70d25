// Command semcache builds, queries, evaluates and serves a semantic FAQ cache.
package main

import (
	"fmt"
	"os"

	"github.com/kailas-cloud/semcache/cmd/semcache/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
