// Package errs defines the error taxonomy shared by the delta engine.
//
// Every specific error wraps one of two class sentinels so callers can
// branch on the class with errors.Is without knowing every cause.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrContractViolation marks caller or programmer errors. These are
	// never retried.
	ErrContractViolation = errors.New("contract violation")

	// ErrIntegrity marks data errors: the inputs are well formed but do not
	// describe a consistent reconstruction.
	ErrIntegrity = errors.New("integrity failure")
)

var (
	ErrInvalidBlockSize  = fmt.Errorf("%w: block size must be positive", ErrContractViolation)
	ErrAlgorithmMismatch = fmt.Errorf("%w: algorithm mismatch", ErrContractViolation)
	ErrBlockIndexRange   = fmt.Errorf("%w: block index out of range", ErrContractViolation)
	ErrUnknownAlgorithm  = fmt.Errorf("%w: unknown algorithm", ErrContractViolation)

	ErrBlockOutOfRange = fmt.Errorf("%w: copy references block beyond base", ErrIntegrity)
	ErrDigestMismatch  = fmt.Errorf("%w: target digest mismatch", ErrIntegrity)
	ErrMalformedDelta  = fmt.Errorf("%w: malformed delta", ErrIntegrity)
	ErrMalformedSig    = fmt.Errorf("%w: malformed signature", ErrIntegrity)
)

// IsContractViolation reports whether err is a contract violation.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}

// IsIntegrity reports whether err is an integrity failure.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}
