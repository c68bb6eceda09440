// Package httpmsg implements the HTTP/1.1 message codec: parsing request and
// response heads and bodies off a byte stream, and serialising them back out
// with hop-by-hop headers stripped and framing headers recomputed to match
// the body actually being sent.
package httpmsg

import (
	"net/textproto"
)

// field is one header line, kept in the order it was added so re-serialised
// messages preserve the insertion order the client or origin used.
type field struct {
	key   string // canonical form, e.g. "Content-Type"
	value string
}

// Header is a case-insensitive, insertion-ordered multimap of header fields.
// Unlike net/http.Header (a map), it preserves the original field order
// across distinct keys, which RFC 7230 framing and some origins care about.
type Header struct {
	fields []field
}

// Add appends a field, preserving any existing values for the same key.
func (h *Header) Add(key, value string) {
	h.fields = append(h.fields, field{key: canonicalKey(key), value: value})
}

// Set replaces all values for key with a single value, preserving the
// position of the first existing occurrence (or appending if absent).
func (h *Header) Set(key, value string) {
	ck := canonicalKey(key)
	for i := range h.fields {
		if h.fields[i].key == ck {
			h.fields[i].value = value
			h.del(ck, i+1)
			return
		}
	}
	h.fields = append(h.fields, field{key: ck, value: value})
}

// Del removes all values for key.
func (h *Header) Del(key string) {
	h.del(canonicalKey(key), 0)
}

func (h *Header) del(canonical string, from int) {
	out := h.fields[:from]
	for _, f := range h.fields[from:] {
		if f.key != canonical {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Get returns the first value for key, if any.
func (h *Header) Get(key string) (string, bool) {
	ck := canonicalKey(key)
	for _, f := range h.fields {
		if f.key == ck {
			return f.value, true
		}
	}
	return "", false
}

// Values returns all values for key, in insertion order.
func (h *Header) Values(key string) []string {
	ck := canonicalKey(key)
	var out []string
	for _, f := range h.fields {
		if f.key == ck {
			out = append(out, f.value)
		}
	}
	return out
}

// Has reports whether key has at least one value.
func (h *Header) Has(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// Len returns the number of fields (not distinct keys).
func (h *Header) Len() int { return len(h.fields) }

// ForEach calls f for every field in insertion order.
func (h *Header) ForEach(f func(key, value string)) {
	for _, fl := range h.fields {
		f(fl.key, fl.value)
	}
}

// Clone returns an independent deep copy.
func (h *Header) Clone() Header {
	out := Header{fields: make([]field, len(h.fields))}
	copy(out.fields, h.fields)
	return out
}

func canonicalKey(key string) string {
	return textproto.CanonicalMIMEHeaderKey(key)
}
