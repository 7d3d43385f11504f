package domain

// The pipeline distinguishes four failure classes. Transport, parse, and
// empty-result failures are isolated to the unit of work that raised them;
// a FilesystemError means the data directory is misconfigured or unwritable
// and aborts the whole pass.

// TransportError wraps a network failure during a catalog query or an image
// retrieval. The affected query or unit is skipped; there are no retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// ResourceParseError wraps a malformed external resource: a missing or
// unparsable band declaration, a corrupt raster, or a band-count mismatch
// between a mosaic and its declared band order.
type ResourceParseError struct {
	Resource string
	Err      error
}

func (e *ResourceParseError) Error() string { return e.Resource + ": " + e.Err.Error() }
func (e *ResourceParseError) Unwrap() error { return e.Err }

// FilesystemError wraps a failed directory creation or output write. Unlike
// the other classes it is not skipped per unit; the pass aborts.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string { return e.Path + ": " + e.Err.Error() }
func (e *FilesystemError) Unwrap() error { return e.Err }

// EmptyResultError marks a unit that produced nothing to work on: no
// available dates, no downloaded tiles, or an all-masked cohort.
type EmptyResultError struct {
	What string
}

func (e *EmptyResultError) Error() string { return e.What }
