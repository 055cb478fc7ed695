package kb

import "errors"

var (
	// ErrNotFound is returned when a query, oid, nsid or handle does not
	// resolve to a live entity. It is an expected outcome, not a fault.
	ErrNotFound = errors.New("not found")
	// ErrUnsupported is returned when listing is requested on an entity that
	// cannot list, or without a hint the module requires.
	ErrUnsupported = errors.New("listing not supported")
	// ErrAgain reports that backing data is still loading: the listing is
	// valid but incomplete and should be repeated on a later frame.
	ErrAgain = errors.New("data still loading, try again")
	// ErrRejected is returned when no module recognised a data source.
	ErrRejected = errors.New("data source not recognised")
	// ErrInvalidSource wraps data-source validation failures of a module that
	// did recognise the source type.
	ErrInvalidSource = errors.New("invalid data source")

	// ErrCycle is returned when an attachment would make an entity its own
	// ancestor.
	ErrCycle = errors.New("attachment would create a cycle")
	// ErrHasParent is returned when attaching an entity that already has a
	// parent.
	ErrHasParent = errors.New("entity already has a parent")
	// ErrNotModule is returned when attaching under an entity that is not a
	// module.
	ErrNotModule = errors.New("entity is not a module")
	// ErrDuplicateOID is returned when an oid is already used by a live
	// entity.
	ErrDuplicateOID = errors.New("oid already registered")
	// ErrStale is returned for handles whose entity has been destroyed.
	ErrStale = errors.New("stale handle")
)
