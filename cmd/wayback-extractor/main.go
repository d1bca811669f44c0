package main

import (
	"fmt"
	"os"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wayback-extractor: %v\n", err)
		os.Exit(exitCode(err))
	}
}
