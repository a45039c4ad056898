package errors

import "errors"

var (
	ErrPackageNotFound = errors.New("credit package not found")

	ErrGrantNotFound = errors.New("credit grant not found")

	ErrInvalidID = errors.New("invalid ID format")

	// ErrNoEligibleGrant means no grant can fund the deduction: everything is
	// expired or drained.
	ErrNoEligibleGrant = errors.New("no eligible credit grant")

	// ErrGrantChanged means the guarded deduction matched no document: the
	// grant was drained or expired between selection and deduction.
	ErrGrantChanged = errors.New("credit grant changed concurrently")
)
