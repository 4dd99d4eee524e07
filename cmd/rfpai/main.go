// Command rfpai answers RFP questions from a company knowledge base. It
// provides a CLI (via Cobra) for ingesting documents and running the
// pipeline in-process, and an HTTP server for asynchronous processing.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/rfpai-go/cmd/rfpai/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
