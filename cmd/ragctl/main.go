package main

import (
	"os"

	"ragassist/cmd/ragctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
