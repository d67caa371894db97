package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/integems/caption-agent/src/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
