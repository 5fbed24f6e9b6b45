// Package exitcode carries process exit codes alongside errors for the CLI.
package exitcode

import "fmt"

const (
	Normal  int = 0
	Errored int = 1
	// the training job ended in the failed state
	JobFailed int = 2
	// the server answered 404
	NotFound int = 3
)

// Carries an exit code along with an error so the app can exit correctly
type ExitError struct {
	Err  error
	Code int
}

func (e ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d", e.Code)
	}

	return fmt.Sprintf("%d: %s", e.Code, e.Err.Error())
}

func (e ExitError) Unwrap() error {
	return e.Err
}

// Wrap an error with an exit code
func Wrap(code int, err error) error {
	return ExitError{Code: code, Err: err}
}
