package crawl

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound signals that no crawl matches the requested id.
	ErrNotFound = errors.New("crawl not found")
	// ErrPrecondition signals a lifecycle call made in the wrong state.
	ErrPrecondition = errors.New("lifecycle precondition violated")
	// ErrNoSeedURLs signals that seed resolution produced nothing usable.
	ErrNoSeedURLs = errors.New("no seed urls resolved")
	// ErrSchemaMismatch signals an existing index incompatible with its schema.
	ErrSchemaMismatch = errors.New("index schema mismatch")
	// ErrMissingID signals an operation that needs a persisted crawl.
	ErrMissingID = errors.New("crawl has no id")
)

// PreconditionError reports the state a lifecycle call required and the state
// the crawl was actually in.
type PreconditionError struct {
	Op     string
	Want   State
	Actual State
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s requires state %s, crawl is %s", e.Op, e.Want, e.Actual)
}

// Unwrap lets errors.Is match ErrPrecondition.
func (e *PreconditionError) Unwrap() error {
	return ErrPrecondition
}

// Failure is one skipped unit of keyword or seed resolution.
type Failure struct {
	Language string
	Keywords []string
	Err      error
}

// PartialResolutionError collects the groups or languages that failed while
// the rest of the resolution went ahead.
type PartialResolutionError struct {
	Stage    string
	Failures []Failure
}

func (e *PartialResolutionError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s [%s]: %v", f.Language, strings.Join(f.Keywords, " "), f.Err))
	}
	return fmt.Sprintf("%s: %d failed: %s", e.Stage, len(e.Failures), strings.Join(parts, "; "))
}

func (e *PartialResolutionError) add(f Failure) {
	e.Failures = append(e.Failures, f)
}

func (e *PartialResolutionError) orNil() error {
	if e == nil || len(e.Failures) == 0 {
		return nil
	}
	return e
}

// StoreError wraps an I/O failure from the search store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// BulkItemError is a single rejected document from a bulk write.
type BulkItemError struct {
	URL    string
	Status int
	Reason string
}

// BulkError reports the items a bulk write rejected. The remaining items were
// indexed.
type BulkError struct {
	Index  string
	Total  int
	Failed []BulkItemError
}

func (e *BulkError) Error() string {
	first := ""
	if len(e.Failed) > 0 {
		first = fmt.Sprintf(" (first: %s: %s)", e.Failed[0].URL, e.Failed[0].Reason)
	}
	return fmt.Sprintf("bulk write to %s: %d of %d items rejected%s", e.Index, len(e.Failed), e.Total, first)
}
