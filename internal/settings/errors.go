package settings

import (
	"errors"
	"fmt"
)

var (
	// ErrMigrationFailed matches any *MigrationError via errors.Is.
	ErrMigrationFailed = errors.New("version migration failed")
	// ErrNotInitialized is returned by accessors before InitializeSettings ran.
	ErrNotInitialized = errors.New("settings not initialized")
)

// MigrationError reports the chain link whose action failed.
type MigrationError struct {
	Key  string
	From string
	To   string
	Err  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("version migration failed: %v", e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

func (e *MigrationError) Is(target error) bool {
	return target == ErrMigrationFailed
}
