package main

import (
	"os"

	"github.com/conneroisu/sowing/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
