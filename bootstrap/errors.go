package bootstrap

import "fmt"

// ApplicationError represents an error that occurred during application lifecycle
type ApplicationError struct {
	Operation string
	Target    string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Operation, e.Target, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
