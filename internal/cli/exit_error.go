// SPDX-License-Identifier: MPL-2.0

package cli

import "fmt"

// Process exit codes. Repository failures get their own code so scripts can
// tell a broken build-script checkout from every other failure.
const (
	exitFailure    = 1
	exitRepository = 2
)

// ExitError carries a process exit code through the Cobra error path.
// Execute unwraps it to set the final exit status, so command code never
// calls os.Exit directly.
type ExitError struct {
	// Code is the process exit code.
	Code int
	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ExitError) Unwrap() error { return e.Err }
