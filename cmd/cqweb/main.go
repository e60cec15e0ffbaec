// Command cqweb serves a cqweb application and runs its maintenance tasks.
//
// Usage:
//
//	cqweb serve --config config.yaml --properties configuration/db.properties
//	cqweb schema-init --config config.yaml
//	cqweb statements --config config.yaml
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
