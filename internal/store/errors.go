package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/oidcstore/internal/model"
)

// ErrConflict is returned when an upsert would give a second record of the
// same kind an already-claimed userCode or uid.
var ErrConflict = errors.New("secondary key already in use")

// KindFailure records why provisioning one kind failed.
type KindFailure struct {
	Kind model.Kind
	Err  error
}

// ProvisionError reports every kind whose table or indexes could not be
// provisioned. Kinds not listed were provisioned successfully.
type ProvisionError struct {
	Failures []KindFailure
}

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("provision failed for %d kind(s): %s", len(e.Failures), strings.Join(names, "; "))
}

// Unwrap exposes the per-kind causes to errors.Is and errors.As.
func (e *ProvisionError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Kinds lists the kinds that failed, in table order.
func (e *ProvisionError) Kinds() []model.Kind {
	kinds := make([]model.Kind, len(e.Failures))
	for i, f := range e.Failures {
		kinds[i] = f.Kind
	}
	return kinds
}

// IsProvisionError returns the ProvisionError in err's chain, if any.
func IsProvisionError(err error) (*ProvisionError, bool) {
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsConflict reports whether err is a secondary-key conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// isUniqueViolation detects SQLITE_CONSTRAINT_UNIQUE from the driver.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
