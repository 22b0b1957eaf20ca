package main

import (
	"fmt"
	"os"

	"github.com/ponderer/ponderer/internal/config"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	baseDir, err := config.BaseDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine state directory: %v\n", err)
		os.Exit(1)
	}

	app := newCLIApp(baseDir)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
