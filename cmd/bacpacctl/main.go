// Package main is the bacpacctl entry point.
package main

import (
	"context"
	"os"

	"github.com/pterm/pterm"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
