package main

import (
	"os"

	"gsraster/cmd/gsbatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
