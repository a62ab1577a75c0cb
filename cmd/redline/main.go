package main

import (
	"fmt"
	"os"

	"github.com/quillworks/redline/cmd/redline/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
