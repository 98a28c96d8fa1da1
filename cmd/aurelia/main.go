package main

import (
	"os"

	"github.com/antigravity-dev/aurelia/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
