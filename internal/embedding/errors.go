package embedding

import "fmt"

// Error reports a failed embedding call. No partial results accompany it.
type Error struct {
	Model string
	Err   error
}

func (e *Error) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("embedding failed: %v", e.Err)
	}
	return fmt.Sprintf("embedding with %s failed: %v", e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
