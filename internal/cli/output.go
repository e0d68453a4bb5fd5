package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (not found, invalid record, failed action)
	ExitCommandError = 2 // Command error (bad config, unopenable database, bad flags)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results either as the JSON envelope
// ({status, data, error}) or as text for a terminal.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; falls back to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope every command writes in json mode.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // record, list or summary
	Error  *CLIError `json:"error,omitempty"` // set when Status is "error"
}

// CLIError is the error half of the envelope.
type CLIError struct {
	Code    string `json:"code"`              // ErrCode* constant
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Result writes data in the envelope, or in text mode hands the writer to
// text. A nil text renders data as indented JSON.
func (f *OutputFormatter) Result(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.encode(f.Writer, CLIResponse{Status: "ok", Data: data}, "")
	}
	if text == nil {
		return f.writeText(data)
	}
	text(f.Writer)
	return nil
}

// Success is Result with the default text rendering.
func (f *OutputFormatter) Success(data any) error {
	return f.Result(data, nil)
}

// Error writes an error envelope, or "Error [code]: message" in text mode.
// Details are shown in text mode only with --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(f.Writer, CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		}, "")
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintln(f.Writer, "Details:")
		return f.writeText(details)
	}
	return nil
}

// Fail reports err and returns an ExitError carrying exit. An empty code is
// derived from err (not found, validation, persistence, workflow).
func (f *OutputFormatter) Fail(exit int, code, message string, err error) error {
	if code == "" {
		code = errorCode(err)
	}
	_ = f.Error(code, err.Error(), nil)
	return WrapExitError(exit, message, err)
}

// VerboseLog writes a diagnostic line with --verbose. It goes to ErrWriter
// so json output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// writeText prints strings as-is and anything else (records, lists) as
// indented JSON.
func (f *OutputFormatter) writeText(data any) error {
	switch v := data.(type) {
	case string:
		_, err := fmt.Fprintln(f.Writer, v)
		return err
	case fmt.Stringer:
		_, err := fmt.Fprintln(f.Writer, v.String())
		return err
	}
	return f.encode(f.Writer, data, "  ")
}

// encode writes v as one JSON document. Record content is user text, so
// <, > and & are kept literal.
func (f *OutputFormatter) encode(w io.Writer, v any, indent string) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(v)
}
