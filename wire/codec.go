// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire defines the binary, little-endian wire protocol
// (spec §6) and a small postcard-style encoder/decoder for it. There
// is no ecosystem Go package implementing Rust's postcard format, so
// the framing below is hand-rolled on top of encoding/binary,
// following the varint + length-prefix shape postcard itself uses;
// see DESIGN.md for why no third-party codec library fits here.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a buffer ends before a value is fully
// decoded.
var ErrTruncated = errors.New("wire: truncated buffer")

// Writer accumulates postcard-style encoded bytes.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer with the given capacity hint.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the encoded bytes accumulated so far.
func (w *Writer) Bytes() []byte { return w.buf }

// PutByte appends a single byte.
func (w *Writer) PutByte(b byte) { w.buf = append(w.buf, b) }

// PutUvarint appends x as an LEB128 unsigned varint (postcard's
// integer encoding).
func (w *Writer) PutUvarint(x uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], x)
	w.buf = append(w.buf, tmp[:n]...)
}

// PutFixed64 appends x as 8 little-endian bytes (used for EventId
// fields, which are ordered numerically rather than varint-packed).
func (w *Writer) PutFixed64(x uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], x)
	w.buf = append(w.buf, tmp[:]...)
}

// PutBytes appends a length-prefixed byte slice.
func (w *Writer) PutBytes(b []byte) {
	w.PutUvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// PutRaw appends b without a length prefix, for fixed-size fields.
func (w *Writer) PutRaw(b []byte) { w.buf = append(w.buf, b...) }

// PutString appends a length-prefixed UTF-8 string.
func (w *Writer) PutString(s string) { w.PutBytes([]byte(s)) }

// Reader consumes postcard-style encoded bytes.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining reports how many bytes are left to consume.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// GetByte consumes a single byte.
func (r *Reader) GetByte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, ErrTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// GetUvarint consumes an LEB128 unsigned varint.
func (r *Reader) GetUvarint() (uint64, error) {
	x, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	r.pos += n
	return x, nil
}

// GetFixed64 consumes 8 little-endian bytes.
func (r *Reader) GetFixed64() (uint64, error) {
	if r.Remaining() < 8 {
		return 0, ErrTruncated
	}
	x := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return x, nil
}

// GetBytes consumes a length-prefixed byte slice.
func (r *Reader) GetBytes() ([]byte, error) {
	n, err := r.GetUvarint()
	if err != nil {
		return nil, err
	}
	if uint64(r.Remaining()) < n {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

// GetRaw consumes exactly n unprefixed bytes.
func (r *Reader) GetRaw(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// GetString consumes a length-prefixed UTF-8 string.
func (r *Reader) GetString() (string, error) {
	b, err := r.GetBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DoneOrTrailing reports whether unconsumed bytes remain; forward
// compatibility (§6) means trailing unknown inner fields must be
// tolerated rather than rejected, so callers at the InterfaceEvent
// layer should not treat a non-zero remainder as an error.
func (r *Reader) DoneOrTrailing() bool { return r.Remaining() == 0 }

func wrapDecodeErr(field string, err error) error {
	return fmt.Errorf("wire: decode %s: %w", field, err)
}
