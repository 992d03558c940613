package main

import (
	"os"

	"github.com/pubflow/pubflow/cmd/pubflow"
)

func main() {
	if err := pubflow.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
