// Command rdelta computes and applies binary deltas between files.
//
//	rdelta signature BASE [SIG]
//	rdelta diff SIG TARGET [PATCH]
//	rdelta patch BASE PATCH OUT
//	rdelta inspect FILE
//	rdelta cache gc
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/quantarax/deltasync/internal/errs"
)

var version = "dev"

// Exit codes.
const (
	exitOK        = 0
	exitGeneric   = 1
	exitContract  = 2
	exitIntegrity = 3
	exitMismatch  = 4
)

func main() {
	a := &app{}
	root := newRootCmd(a)
	err := root.Execute()
	a.finish(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errs.ErrDigestMismatch):
		return exitMismatch
	case errs.IsIntegrity(err):
		return exitIntegrity
	case errs.IsContractViolation(err):
		return exitContract
	default:
		return exitGeneric
	}
}
