package models

// Ref is an applied block in the locally materialized chain. Refs are
// immutable and shared by pointer between tips, caches and later blocks.
// A Ref does not own its parent: the parent is resolved by hash.
type Ref struct {
	hash   HeaderHash
	header *Header
}

// NewRef wraps a header that has been applied and stored. Only the chain
// store's apply and load paths create Refs.
func NewRef(header *Header) *Ref {
	return &Ref{hash: header.Hash(), header: header}
}

func (r *Ref) Hash() HeaderHash {
	return r.hash
}

func (r *Ref) Header() *Header {
	return r.header
}

func (r *Ref) ParentHash() HeaderHash {
	return r.header.Parent
}

// ChainLength is the number of blocks between this one and block0
func (r *Ref) ChainLength() uint32 {
	return r.header.ChainLength
}

func (r *Ref) BlockDate() BlockDate {
	return r.header.Date
}
