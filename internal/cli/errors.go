package cli

import (
	"errors"

	"github.com/roach88/mnemo/internal/compiler"
	"github.com/roach88/mnemo/internal/memory"
	"github.com/roach88/mnemo/internal/workflow"
)

// Error codes reported in the error envelope.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E005" // Record or workflow not found
	ErrCodeValidation  = "E010" // Invalid record
	ErrCodePersistence = "E011" // Store failure
	ErrCodeWorkflow    = "E020" // Invalid workflow definition
	ErrCodeConfig      = "E030" // Configuration or startup error
	ErrCodeUsage       = "E040" // Invalid flag value
)

// errorCode classifies err for the envelope.
func errorCode(err error) string {
	var compileErr *compiler.CompileError
	switch {
	case memory.IsNotFound(err), errors.Is(err, workflow.ErrNotFound):
		return ErrCodeNotFound
	case memory.IsValidation(err):
		return ErrCodeValidation
	case memory.IsPersistence(err):
		return ErrCodePersistence
	case errors.Is(err, workflow.ErrInvalid), errors.Is(err, compiler.ErrInvalid), errors.As(err, &compileErr):
		return ErrCodeWorkflow
	default:
		return ErrCodeGeneric
	}
}

// outputError reports err under its classified code with ExitFailure.
func outputError(f *OutputFormatter, message string, err error) error {
	return f.Fail(ExitFailure, "", message, err)
}

// outputCommandError reports a setup or usage problem with ExitCommandError.
func outputCommandError(f *OutputFormatter, code, message string, err error) error {
	return f.Fail(ExitCommandError, code, message, err)
}
