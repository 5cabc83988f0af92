package main

import (
	"fmt"
	"os"

	"github.com/quotekit/quotectl/cmd/quotectl/cmd"
	"github.com/quotekit/quotectl/internal/clierror"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, clierror.Render(err))
		os.Exit(1)
	}
}
