package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// version is set at build time.
var version = "dev"

// errDenied signals a Deny that was already reported; it maps to exit 2.
var errDenied = errors.New("denied")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code: 0 on success,
// 2 when an operation was denied and 1 on any other error.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdin, stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, errDenied) {
			return 2
		}
		fmt.Fprintf(stderr, "ward: %v\n", err)
		return 1
	}
	return 0
}
