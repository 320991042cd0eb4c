package network

import (
	"errors"
	"fmt"

	"github.com/shruggr/chainsync/models"
)

// Kind classifies a bootstrap failure
type Kind int

const (
	KindRuntimeInit Kind = iota + 1
	KindConnect
	KindClientNotReady
	KindPullRequestFailed
	KindPullStreamFailed
	KindHeaderCheckFailed
	KindBlockAlreadyPresent
	KindBlockMissingParent
	KindApplyBlockFailed
	KindChainSelectionFailed
)

// String returns a short label, used for metrics
func (k Kind) String() string {
	switch k {
	case KindRuntimeInit:
		return "runtime_init"
	case KindConnect:
		return "connect"
	case KindClientNotReady:
		return "client_not_ready"
	case KindPullRequestFailed:
		return "pull_request_failed"
	case KindPullStreamFailed:
		return "pull_stream_failed"
	case KindHeaderCheckFailed:
		return "header_check_failed"
	case KindBlockAlreadyPresent:
		return "block_already_present"
	case KindBlockMissingParent:
		return "block_missing_parent"
	case KindApplyBlockFailed:
		return "apply_block_failed"
	case KindChainSelectionFailed:
		return "chain_selection_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a failed bootstrap. Block is set for the kinds that name a block;
// Err carries the underlying cause, if any.
type Error struct {
	Kind  Kind
	Block models.HeaderHash
	Err   error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindRuntimeInit:
		msg = "runtime initialization failed"
	case KindConnect:
		msg = "failed to connect to bootstrap peer"
	case KindClientNotReady:
		msg = "connection broken"
	case KindPullRequestFailed:
		msg = "bootstrap pull request failed"
	case KindPullStreamFailed:
		msg = "bootstrap pull stream failed"
	case KindHeaderCheckFailed:
		msg = "block header check failed"
	case KindBlockAlreadyPresent:
		msg = fmt.Sprintf("received block %s is already present", e.Block)
	case KindBlockMissingParent:
		msg = fmt.Sprintf("received block %s is not connected to the block chain", e.Block)
	case KindApplyBlockFailed:
		msg = "failed to apply block to the blockchain"
	case KindChainSelectionFailed:
		msg = "failed to select the new tip"
	default:
		msg = "bootstrap failed"
	}

	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func blockError(kind Kind, block models.HeaderHash) *Error {
	return &Error{Kind: kind, Block: block}
}

// AsError checks whether err is, or wraps, a bootstrap Error and returns it
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a bootstrap Error of the given kind
func IsKind(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}
