package artifactcache

import (
	"fmt"
)

// ClearError reports a failed Clear. DropErr is set when the database could
// not be deleted; ReopenErr when the fresh database could not be opened
// afterwards. At least one is non-nil.
type ClearError struct {
	Database  string
	DropErr   error
	ReopenErr error
}

func (e *ClearError) Error() string {
	switch {
	case e.DropErr != nil && e.ReopenErr != nil:
		return fmt.Sprintf("clear %q failed: drop and reopen failed: drop=%v; reopen=%v",
			e.Database, e.DropErr, e.ReopenErr)
	case e.DropErr != nil:
		return fmt.Sprintf("clear %q: drop failed: %v", e.Database, e.DropErr)
	case e.ReopenErr != nil:
		return fmt.Sprintf("clear %q: reopen failed: %v", e.Database, e.ReopenErr)
	default:
		return fmt.Sprintf("clear %q: unknown error", e.Database)
	}
}

func (e *ClearError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.DropErr != nil {
		errs = append(errs, e.DropErr)
	}
	if e.ReopenErr != nil {
		errs = append(errs, e.ReopenErr)
	}
	return errs
}
