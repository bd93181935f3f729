// Command elemctl is the engine's operator tool: schema migration,
// integrity checking, store-wide statistics, ephemeral-workflow garbage
// collection and pouring playbooks into workflows. It is deliberately thin — element and dependency CRUD are not
// exposed here, matching the ops-only CLI surface the engine carries.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
