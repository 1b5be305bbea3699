// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/lemon4ksan/zipkit/internal"
)

// LookupEncoding returns the encoding registered under an IANA name or
// alias such as "IBM437", "cp866" or "Shift_JIS". "utf-8" returns nil, which
// selects UTF-8 names.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "cp437":
		return charmap.CodePage437, nil
	case "cp866":
		return charmap.CodePage866, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("zip: unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("zip: encoding %q is not supported", name)
	}
	return enc, nil
}

// nameCodec converts entry names and comments between their stored bytes
// and Go strings.
type nameCodec struct {
	enc encoding.Encoding // nil writes UTF-8 with the language encoding flag
}

// decode returns the string for raw. Names without the UTF-8 flag are
// decoded with the configured encoding, or CP437 when none is set.
func (c nameCodec) decode(raw []byte, utf8Flag bool) string {
	if utf8Flag {
		return string(raw)
	}
	enc := c.enc
	if enc == nil {
		if isASCII(raw) {
			return string(raw)
		}
		enc = charmap.CodePage437
	}
	s, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(s)
}

// decodeComment is decode for fields that carry no flag of their own.
func (c nameCodec) decodeComment(raw []byte) string {
	if c.enc == nil && utf8.Valid(raw) {
		return string(raw)
	}
	return c.decode(raw, false)
}

// encode returns the stored bytes for s and the flag bits to set.
func (c nameCodec) encode(s string) ([]byte, uint16, error) {
	if c.enc == nil {
		return []byte(s), internal.FlagUTF8, nil
	}
	b, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, 0, fmt.Errorf("encode %q: %w", s, err)
	}
	return b, 0, nil
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
