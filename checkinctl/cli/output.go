package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation was refused, locally or by the server
	ExitCommandError = 2 // configuration, cache or connection error
)

// ExitError carries the exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that are not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

type response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
}

// formatter writes command output as text or as one JSON document per line.
// watch prints from the notification goroutine, hence the lock.
type formatter struct {
	format string
	writer io.Writer
	mu     sync.Mutex
}

func (f *formatter) print(status string, data interface{}, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.format == "json" {
		return json.NewEncoder(f.writer).Encode(response{Status: status, Data: data})
	}
	_, err := fmt.Fprintln(f.writer, text)
	return err
}
