// Package wire implements the QRESP protocol: a RESP
// family variant with boolean, null, map and coded-error frames next
// to the classical array, bulk, simple and integer frames. It provides
// an owned parser, a zero-copy parser for dispatch, the command
// taxonomy that maps one-to-one onto store requests, and the peer sync
// message shapes.
package wire

import (
	"strconv"
)

// FrameType is a frame's leading header byte.
type FrameType byte

const (
	TypeArray   FrameType = '*'
	TypeBulk    FrameType = '$'
	TypeSimple  FrameType = '+'
	TypeInteger FrameType = ':'
	TypeError   FrameType = '!'
	TypeBoolean FrameType = '#'
	TypeNull    FrameType = '_'
	TypeMap     FrameType = '~'
)

// MaxFrameSize rejects oversized frames before they are buffered.
const MaxFrameSize = 16 << 20

// Frame is the owned parse product: bulk payloads are copied out of
// the input buffer. Map frames flatten their pairs into Items
// (len == 2 * pair count, alternating key and value).
type Frame struct {
	Type  FrameType
	Int   int64
	Bool  bool
	Str   []byte
	Code  string
	Items []Frame
	// NullBulk marks the $-1 null bulk, distinct from an empty bulk.
	NullBulk bool
}

func NewArray(items ...Frame) Frame  { return Frame{Type: TypeArray, Items: items} }
func NewMap(items ...Frame) Frame    { return Frame{Type: TypeMap, Items: items} }
func NewBulk(b []byte) Frame         { return Frame{Type: TypeBulk, Str: b} }
func NewBulkString(s string) Frame   { return Frame{Type: TypeBulk, Str: []byte(s)} }
func NewNullBulk() Frame             { return Frame{Type: TypeBulk, NullBulk: true} }
func NewSimple(s string) Frame       { return Frame{Type: TypeSimple, Str: []byte(s)} }
func NewInt(v int64) Frame           { return Frame{Type: TypeInteger, Int: v} }
func NewBool(b bool) Frame           { return Frame{Type: TypeBoolean, Bool: b} }
func NewNull() Frame                 { return Frame{Type: TypeNull} }
func NewError(code, msg string) Frame {
	return Frame{Type: TypeError, Code: code, Str: []byte(msg)}
}

// OK is the acknowledgement response for mutations that carry no
// payload.
func OK() Frame { return NewSimple("OK") }

// IsError reports whether f is an error frame.
func (f Frame) IsError() bool { return f.Type == TypeError }

// Text returns the frame's textual payload (bulk, simple or error
// message).
func (f Frame) Text() string { return string(f.Str) }

// Pairs returns a map frame's item count in pairs.
func (f Frame) Pairs() int { return len(f.Items) / 2 }

var crlf = []byte{'\r', '\n'}

// Append encodes f onto dst and returns the extended slice. Encoding
// then decoding a frame yields the original frame.
func Append(dst []byte, f Frame) []byte {
	switch f.Type {
	case TypeArray:
		dst = append(dst, byte(TypeArray))
		dst = strconv.AppendInt(dst, int64(len(f.Items)), 10)
		dst = append(dst, crlf...)
		for _, item := range f.Items {
			dst = Append(dst, item)
		}
	case TypeMap:
		dst = append(dst, byte(TypeMap))
		dst = strconv.AppendInt(dst, int64(len(f.Items)/2), 10)
		dst = append(dst, crlf...)
		for _, item := range f.Items {
			dst = Append(dst, item)
		}
	case TypeBulk:
		if f.NullBulk {
			dst = append(dst, "$-1\r\n"...)
			break
		}
		dst = append(dst, byte(TypeBulk))
		dst = strconv.AppendInt(dst, int64(len(f.Str)), 10)
		dst = append(dst, crlf...)
		dst = append(dst, f.Str...)
		dst = append(dst, crlf...)
	case TypeSimple:
		dst = append(dst, byte(TypeSimple))
		dst = append(dst, f.Str...)
		dst = append(dst, crlf...)
	case TypeInteger:
		dst = append(dst, byte(TypeInteger))
		dst = strconv.AppendInt(dst, f.Int, 10)
		dst = append(dst, crlf...)
	case TypeError:
		dst = append(dst, byte(TypeError))
		dst = append(dst, f.Code...)
		dst = append(dst, ' ')
		dst = append(dst, f.Str...)
		dst = append(dst, crlf...)
	case TypeBoolean:
		if f.Bool {
			dst = append(dst, "#1\r\n"...)
		} else {
			dst = append(dst, "#0\r\n"...)
		}
	case TypeNull:
		dst = append(dst, "_\r\n"...)
	}
	return dst
}

// Encode renders f as a standalone byte slice.
func Encode(f Frame) []byte {
	return Append(nil, f)
}
