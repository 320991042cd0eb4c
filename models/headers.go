package models

import (
	"encoding/binary"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"lukechampine.com/blake3"
)

// HeaderHash identifies a block header. It is the BLAKE3-256 digest of the
// header's canonical bytes.
type HeaderHash = chainhash.Hash

// HeaderSize is the length of a canonically encoded header
const HeaderSize = 84

// ContentHashSize is the length of the BLAKE3 multihash of a block body
const ContentHashSize = 34

// HeaderVersion is the only header version this node produces and accepts
const HeaderVersion uint16 = 1

// BlockDate orders blocks in time: an epoch and a slot within it
type BlockDate struct {
	Epoch uint32
	Slot  uint32
}

// Less reports whether d comes strictly before other
func (d BlockDate) Less(other BlockDate) bool {
	if d.Epoch != other.Epoch {
		return d.Epoch < other.Epoch
	}
	return d.Slot < other.Slot
}

func (d BlockDate) String() string {
	return fmt.Sprintf("%d.%d", d.Epoch, d.Slot)
}

// Header is the identifying metadata of a block.
// Header structure (84 bytes, little endian):
// 0-2:   version (uint16)
// 2-34:  parent hash (32 bytes)
// 34-38: epoch (uint32)
// 38-42: slot (uint32)
// 42-46: chain length (uint32)
// 46-50: content size (uint32)
// 50-84: content hash (34-byte BLAKE3 multihash)
type Header struct {
	Version     uint16
	Parent      HeaderHash
	Date        BlockDate
	ChainLength uint32
	ContentSize uint32
	ContentHash [ContentHashSize]byte

	hash HeaderHash
}

// ParseHeader decodes a canonically encoded header and derives its hash
func ParseHeader(b []byte) (*Header, error) {
	if len(b) != HeaderSize {
		return nil, fmt.Errorf("invalid block header length: got %d, expected %d", len(b), HeaderSize)
	}

	h := &Header{
		Version:     binary.LittleEndian.Uint16(b[0:2]),
		Date:        BlockDate{Epoch: binary.LittleEndian.Uint32(b[34:38]), Slot: binary.LittleEndian.Uint32(b[38:42])},
		ChainLength: binary.LittleEndian.Uint32(b[42:46]),
		ContentSize: binary.LittleEndian.Uint32(b[46:50]),
	}
	copy(h.Parent[:], b[2:34])
	copy(h.ContentHash[:], b[50:84])
	h.hash = blake3.Sum256(b)

	return h, nil
}

// Bytes returns the canonical encoding of the header
func (h *Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(b[0:2], h.Version)
	copy(b[2:34], h.Parent[:])
	binary.LittleEndian.PutUint32(b[34:38], h.Date.Epoch)
	binary.LittleEndian.PutUint32(b[38:42], h.Date.Slot)
	binary.LittleEndian.PutUint32(b[42:46], h.ChainLength)
	binary.LittleEndian.PutUint32(b[46:50], h.ContentSize)
	copy(b[50:84], h.ContentHash[:])
	return b
}

// Hash returns the header hash
func (h *Header) Hash() HeaderHash {
	return h.hash
}

// seal computes the cached hash; headers built in code must be sealed
// before they are handed out
func (h *Header) seal() *Header {
	h.hash = blake3.Sum256(h.Bytes())
	return h
}
