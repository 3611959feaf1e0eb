package main

import (
	"os"

	"github.com/ppiankov/marketpan/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
