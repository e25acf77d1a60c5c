/*
	Hash is an opaque content-addressed identifier.

	A Hash's serial form is three colon-delimited fields: a type tag,
	a base58-encoded digest, and a decimal byte size -- e.g.
	"value:7f9Km2...:4096".  The type tag is what lets this package
	classify a name without ever touching the blob it names.
*/
package thunk

import (
	"fmt"
	"strconv"
	"strings"
)

// Type distinguishes what kind of content a Hash names.
type Type string

const (
	// TypeThunk names a computation that still needs reduction.
	TypeThunk Type = "thunk"
	// TypeValue names a terminal, non-executable blob.
	TypeValue Type = "value"
	// TypeExecutable names a terminal blob that should be marked executable.
	TypeExecutable Type = "executable"
)

// Hash is comparable by value and safe to use as a map key.
type Hash string

// ErrMalformedHash is raised when a string doesn't parse as a Hash.
type ErrMalformedHash struct {
	Input string
	Msg   string
}

func (e ErrMalformedHash) Error() string {
	return fmt.Sprintf("malformed hash %q: %s", e.Input, e.Msg)
}

// Parse validates a candidate hash string and returns it unchanged as a Hash.
func Parse(s string) (Hash, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return "", ErrMalformedHash{s, "expected three colon-delimited fields (type:digest:size)"}
	}
	switch Type(parts[0]) {
	case TypeThunk, TypeValue, TypeExecutable:
	default:
		return "", ErrMalformedHash{s, fmt.Sprintf("unrecognized type tag %q", parts[0])}
	}
	if parts[1] == "" {
		return "", ErrMalformedHash{s, "digest field is empty"}
	}
	if _, err := strconv.ParseInt(parts[2], 10, 64); err != nil {
		return "", ErrMalformedHash{s, "size field is not a decimal integer"}
	}
	return Hash(s), nil
}

// New builds a Hash from its constituent fields without re-validating them;
// callers are expected to have produced digest from an actual content hash.
func New(t Type, digest string, size int64) Hash {
	return Hash(fmt.Sprintf("%s:%s:%d", t, digest, size))
}

// Type reports the content class this hash claims to be.
func (h Hash) Type() Type {
	parts := strings.SplitN(string(h), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return Type(parts[0])
}

// Digest reports the base58 digest portion, with no type tag or size.
func (h Hash) Digest() string {
	parts := strings.SplitN(string(h), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// Size reports the claimed blob size in bytes.
func (h Hash) Size() int64 {
	parts := strings.SplitN(string(h), ":", 3)
	if len(parts) != 3 {
		return 0
	}
	n, _ := strconv.ParseInt(parts[2], 10, 64)
	return n
}

// IsThunk reports whether this hash still requires reduction.
func (h Hash) IsThunk() bool {
	return h.Type() == TypeThunk
}

// IsTerminal reports whether this hash already names a concrete blob.
func (h Hash) IsTerminal() bool {
	switch h.Type() {
	case TypeValue, TypeExecutable:
		return true
	default:
		return false
	}
}

func (h Hash) String() string {
	return string(h)
}
