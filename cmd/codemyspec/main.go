package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/codemyspec/codemyspec/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
