// Command nbmap-stress drives concurrent workloads against nbmap and
// exits non-zero when it observes a consistency violation.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
