package durable

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf16"

	"github.com/cespare/xxhash/v2"
)

// Hasher computes snapshot checksums. Checksums detect accidental corruption;
// they are not a defence against deliberate tampering.
type Hasher interface {
	Name() string
	Sum(data []byte) string
}

// RollingHasher is the 32-bit h = h*31 + c rolling hash over UTF-16 code
// units. It matches checksums written by earlier versions of the application.
type RollingHasher struct{}

func (RollingHasher) Name() string { return "rolling" }

func (RollingHasher) Sum(data []byte) string {
	var h int32
	for _, c := range utf16.Encode([]rune(string(data))) {
		h = (h << 5) - h + int32(c)
	}
	return fmt.Sprintf("%08x", uint32(h))
}

// XXHasher uses 64-bit xxHash.
type XXHasher struct{}

func (XXHasher) Name() string { return "xxhash" }

func (XXHasher) Sum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// NewHasher returns the Hasher registered under name. An empty name selects
// the rolling hash.
func NewHasher(name string) (Hasher, error) {
	switch name {
	case "", "rolling":
		return RollingHasher{}, nil
	case "xxhash":
		return XXHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown checksum algorithm: %q", name)
	}
}

// canonicalJSON encodes v with object keys sorted at every level, so equal
// values always hash the same regardless of field order in the source.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return canonicalize(raw)
}

func canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}
