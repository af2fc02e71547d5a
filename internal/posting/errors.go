package posting

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingBinding indicates a searchable row with no caller-supplied
	// account, or a row whose amount cannot be resolved.
	ErrMissingBinding = errors.New("posting: unresolved row binding")
	// ErrImbalancedPosting indicates debit and credit totals differ. This is
	// fatal and never auto-corrected.
	ErrImbalancedPosting = errors.New("posting: debits do not equal credits")
	// ErrAccountNotPostable indicates a missing account or one that rejects
	// direct postings.
	ErrAccountNotPostable = errors.New("posting: account not postable")
	// ErrNegativeAmount indicates a line amount below zero.
	ErrNegativeAmount = errors.New("posting: line amount must not be negative")
	// ErrProtocolConflict indicates the protocol allocation raced another
	// writer. Transient: the whole Post call is safe to retry from scratch.
	ErrProtocolConflict = errors.New("posting: protocol allocation conflict")
	// ErrSourceAlreadyPosted indicates the source reference was posted before.
	ErrSourceAlreadyPosted = errors.New("posting: source reference already posted")
	// ErrChainTooDeep indicates a linked-function cycle or runaway chain.
	ErrChainTooDeep = errors.New("posting: chain depth limit exceeded")
)

// ChainError wraps the first failure inside a linked-function chain with the
// path of function codes leading to it. The primary's own write is rolled
// back together with the failing secondary, so callers see exactly one
// terminal cause and no partial chain.
type ChainError struct {
	Depth int
	Path  []string
	Err   error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("posting: chain failed at depth %d (%s): %v", e.Depth, strings.Join(e.Path, " -> "), e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}
