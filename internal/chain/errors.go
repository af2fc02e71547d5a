package chain

import "errors"

var (
	// ErrSelfLoop indicates a function linked to itself.
	ErrSelfLoop = errors.New("chain: function cannot link to itself")
	// ErrDuplicateEdge indicates the primary/secondary pair already exists.
	ErrDuplicateEdge = errors.New("chain: link already exists for this pair")
	// ErrDuplicateOrder indicates two siblings share an execution order.
	ErrDuplicateOrder = errors.New("chain: execution order already taken")
	// ErrEdgeNotFound indicates the link does not exist.
	ErrEdgeNotFound = errors.New("chain: link not found")
	// ErrInvalidMapping indicates a parameter mapping that cannot be stored.
	ErrInvalidMapping = errors.New("chain: invalid parameter mapping")
)
