package sid

import "github.com/pkg/errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateName     = errors.New("locator already exists")
	ErrDuplicateFunction = errors.New("function already allocated")
	ErrInvalidLocator    = errors.New("invalid locator")
	ErrLocatorInUse      = errors.New("locator has functions")
	ErrPrefixMismatch    = errors.New("function prefix does not match locator")
	ErrExhausted         = errors.New("no free function in locator")
)
