package main

import (
	"os"

	"github.com/taskloop-dev/taskloop/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
