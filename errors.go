package mirror

import "fmt"

// Each failure category is a distinct exported type rather than a
// sentinel value, since most carry a path or a pair of mismatched
// values the caller needs in the message.

// ValidationError reports that a proposed state failed external schema
// validation. Fatal to the setState call when Options.ThrowOnValidationError.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mirror: validation failed: %v", e.Messages)
}

// UnsupportedSegmentError reports a path segment the navigator cannot
// resolve. Fatal to the event being applied; the applier continues with
// the rest of the batch.
type UnsupportedSegmentError struct {
	Segment any
}

func (e *UnsupportedSegmentError) Error() string {
	return fmt.Sprintf("mirror: unsupported path segment %#v", e.Segment)
}

// UnsupportedDiffError reports a diff kind the applier does not
// recognize. Logged and skipped.
type UnsupportedDiffError struct {
	Kind ContainerKind
}

func (e *UnsupportedDiffError) Error() string {
	return fmt.Sprintf("mirror: unsupported diff kind %q", e.Kind)
}

// StaleReferenceError reports that an outbound operation addressed a
// container CID the document no longer has. Fatal to the outbound
// cycle; the engine rolls the in-memory state back to the pre-cycle
// snapshot.
type StaleReferenceError struct {
	CID CID
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("mirror: stale container reference %q", e.CID)
}

// DuplicateIdentityError reports that an identity selector produced the
// same id twice within one proposed list. Fatal to the setState call.
type DuplicateIdentityError struct {
	ID string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("mirror: duplicate identity %q in proposed list", e.ID)
}

// InvalidShapeError reports a value that does not have the shape its
// schema or container kind requires (e.g. a tree value that isn't a
// sequence). Fatal to the setState call.
type InvalidShapeError struct {
	Path   []PathSegment
	Reason string
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("mirror: invalid shape at %v: %s", e.Path, e.Reason)
}

// ConsistencyDivergenceError reports that, with Options.CheckStateConsistency
// enabled, the post-commit state differs from the document's own
// normalized snapshot. Fatal to the setState call.
type ConsistencyDivergenceError struct {
	Path []PathSegment
}

func (e *ConsistencyDivergenceError) Error() string {
	return fmt.Sprintf("mirror: state diverged from document snapshot at %v", e.Path)
}

// InternalError surfaces an unexpected container kind or a missing
// child the schema promised would exist, with enough context to debug
// without leaking raw CRDT internals.
type InternalError struct {
	Context string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("mirror: internal error: %s", e.Context)
}
