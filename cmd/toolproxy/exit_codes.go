package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/mfgintel/toolproxy/internal/cli/output"
	"github.com/mfgintel/toolproxy/internal/config"
	"github.com/mfgintel/toolproxy/internal/descriptor"
	"github.com/mfgintel/toolproxy/internal/registry"
)

// Exit codes for toolproxy so scripts can tell failures apart

const (
	// ExitCodeSuccess indicates normal program termination
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates a generic error (default)
	ExitCodeGeneralError = 1

	// ExitCodeFailed indicates the operation ran but reported failure:
	// a tool call whose status is not success, or an unhealthy server
	ExitCodeFailed = 2

	// ExitCodeConfigError indicates configuration validation failed
	ExitCodeConfigError = 4
)

// exitError carries an explicit exit code. When reported is set the command
// already printed its outcome and main stays quiet.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return exitCodeDescription(e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCodeFor maps a command error onto an exit code
func exitCodeFor(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, config.ErrInvalid) || descriptor.IsConfigError(err) {
		return ExitCodeConfigError
	}
	return ExitCodeGeneralError
}

// exitCodeDescription returns a human-readable description of the exit code
func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeGeneralError:
		return "General error"
	case ExitCodeFailed:
		return "Operation reported failure"
	case ExitCodeConfigError:
		return "Configuration error"
	default:
		return "Unknown error"
	}
}

func isReported(err error) bool {
	var ee *exitError
	return errors.As(err, &ee) && ee.reported
}

// errorCode classifies err for StructuredError output
func errorCode(err error) string {
	switch {
	case errors.Is(err, config.ErrInvalid) || descriptor.IsConfigError(err):
		return output.ErrCodeConfigInvalid
	case errors.Is(err, registry.ErrServerNotFound):
		return output.ErrCodeServerNotFound
	default:
		return output.ErrCodeOperationFailed
	}
}

// reportError prints err as "Error [CODE]: message" with any guidance it carries
func reportError(w io.Writer, err error) {
	text, ferr := (&output.TableFormatter{}).FormatError(output.FromError(err, errorCode(err)))
	if ferr != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprint(w, text)
}
