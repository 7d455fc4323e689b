package sync

import (
	"errors"
	"fmt"
)

// ErrVersionNotSupported means the client speaks a push/pull protocol
// version this server does not. The client must upgrade and resync.
var ErrVersionNotSupported = errors.New("protocol version not supported")

// ErrClientStateNotFound means the server has no record matching the state
// the client claims to have. The client must discard local state and resync
// from empty.
var ErrClientStateNotFound = errors.New("client state not found")

// Store sentinels.
var (
	ErrGroupNotFound  = errors.New("client group not found")
	ErrClientNotFound = errors.New("client not found")
	ErrViewNotFound   = errors.New("client view not found")
)

// FutureMutationError means a client submitted mutation id N while the
// server expected a smaller id: either the client skipped ids or a
// concurrent push from the same client has not landed yet. Nothing is
// applied; the client resends in order.
type FutureMutationError struct {
	ClientID   string
	MutationID int64
	Expected   int64
}

func (e *FutureMutationError) Error() string {
	return fmt.Sprintf("mutation %d from client %s is from the future, expected %d", e.MutationID, e.ClientID, e.Expected)
}

// IsFutureMutation reports whether err is (or wraps) a future-mutation error.
func IsFutureMutation(err error) bool {
	var future *FutureMutationError
	return errors.As(err, &future)
}
