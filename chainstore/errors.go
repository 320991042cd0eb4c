package chainstore

import "errors"

var (
	// ErrInvalidHeader wraps every post-check rule violation
	ErrInvalidHeader = errors.New("invalid block header")

	// ErrBlockExists is returned when applying a block that is already stored
	ErrBlockExists = errors.New("block already exists")

	// ErrContentMismatch is returned when a block body does not match the
	// size or content hash declared by its header
	ErrContentMismatch = errors.New("block content does not match header")

	// ErrRefNotFound is returned when a hash the chain relies on is not indexed
	ErrRefNotFound = errors.New("block reference not found")

	// ErrNoCommonAncestor is returned by BlocksToTip when none of the
	// requested checkpoints is on the served branch
	ErrNoCommonAncestor = errors.New("no common ancestor")

	// ErrBlock0Mismatch is returned when the genesis block does not hash to
	// the configured block0
	ErrBlock0Mismatch = errors.New("block0 mismatch")
)
