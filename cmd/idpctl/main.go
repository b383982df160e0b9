// Command idpctl is the operator CLI for the ingestion pipeline.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(openServices).Execute(); err != nil {
		os.Exit(1)
	}
}
