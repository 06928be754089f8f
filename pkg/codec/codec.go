// Package codec encodes and decodes fixed-layout binary messages.
//
// A message type declares its wire layout once, as a Schema built from field
// descriptors that carry an explicit byte offset and length. The schema is then
// used generically to serialize a value into a flat byte buffer and to populate
// a value from one. Multi-byte integers are little-endian, which is the IPMI
// wire convention.
package codec

import (
	"cmp"
	"fmt"
	"slices"
)

// EncodingError reports a field value that cannot be represented in the
// width declared for it.
type EncodingError struct {
	Field  string
	Offset int
	Length int
	Value  uint64
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("codec: value %#x of field %q does not fit in %d byte(s) at offset %d",
		e.Value, e.Field, e.Length, e.Offset)
}

// Unsigned is the set of integer kinds a Uint field can be bound to.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Field describes one region of a message of type T.
type Field[T any] struct {
	Name   string
	Offset int
	// Length is zero for a remainder field.
	Length int

	remainder bool
	put       func(m *T, dst []byte) error
	get       func(m *T, src []byte)
	extra     func(m *T) int
}

// Uint binds an unsigned integer to length bytes at offset. Encoding fails
// with an *EncodingError when the value needs more than length bytes.
func Uint[T any, V Unsigned](name string, offset, length int, f func(*T) *V) Field[T] {
	if length < 1 || length > 8 {
		panic(fmt.Sprintf("codec: field %q has invalid integer width %d", name, length))
	}

	return Field[T]{
		Name:   name,
		Offset: offset,
		Length: length,
		put: func(m *T, dst []byte) error {
			v := uint64(*f(m))
			if length < 8 && v>>(8*uint(length)) != 0 {
				return &EncodingError{Field: name, Offset: offset, Length: length, Value: v}
			}

			for i := 0; i < length; i++ {
				dst[i] = byte(v >> (8 * uint(i)))
			}

			return nil
		},
		get: func(m *T, src []byte) {
			var v uint64
			for i := 0; i < length; i++ {
				v |= uint64(src[i]) << (8 * uint(i))
			}

			*f(m) = V(v)
		},
	}
}

// Array binds a fixed-length byte region. Longer source data is truncated and
// shorter data is zero padded.
func Array[T any](name string, offset, length int, f func(*T) []byte) Field[T] {
	return Field[T]{
		Name:   name,
		Offset: offset,
		Length: length,
		put: func(m *T, dst []byte) error {
			copy(dst, f(m))
			return nil
		},
		get: func(m *T, src []byte) {
			copy(f(m), src)
		},
	}
}

// Remainder binds a variable-length byte slice that consumes the rest of the
// buffer. A schema may contain at most one and it must be the last field.
func Remainder[T any](name string, offset int, f func(*T) *[]byte) Field[T] {
	return Field[T]{
		Name:      name,
		Offset:    offset,
		remainder: true,
		put: func(m *T, dst []byte) error {
			copy(dst, *f(m))
			return nil
		},
		get: func(m *T, src []byte) {
			if len(src) == 0 {
				*f(m) = nil
				return
			}

			*f(m) = append([]byte(nil), src...)
		},
		extra: func(m *T) int {
			return len(*f(m))
		},
	}
}

// Const declares a byte that always encodes as value and is ignored when
// decoding.
func Const[T any](name string, offset int, value byte) Field[T] {
	return Field[T]{
		Name:   name,
		Offset: offset,
		Length: 1,
		put: func(_ *T, dst []byte) error {
			dst[0] = value
			return nil
		},
	}
}

// Reserved declares bytes that are always written as zero and ignored when
// decoding.
func Reserved[T any](offset, length int) Field[T] {
	return Field[T]{
		Name:   "reserved",
		Offset: offset,
		Length: length,
	}
}

// Schema is the wire layout of a message type.
type Schema[T any] struct {
	fields []Field[T]
	tail   *Field[T]
	size   int
	length int
}

// NewSchema builds a schema from fields. Overlapping fields, or a remainder
// that is not last, are programming errors and panic.
func NewSchema[T any](fields ...Field[T]) *Schema[T] {
	fs := slices.Clone(fields)
	slices.SortStableFunc(fs, func(a, b Field[T]) int {
		return cmp.Compare(a.Offset, b.Offset)
	})

	s := &Schema[T]{fields: fs}

	for i := range fs {
		f := &fs[i]
		if f.Offset < 0 {
			panic(fmt.Sprintf("codec: field %q has negative offset", f.Name))
		}

		if i > 0 {
			prev := fs[i-1]
			if prev.remainder {
				panic(fmt.Sprintf("codec: remainder field %q must be last", prev.Name))
			}

			if f.Offset < prev.Offset+prev.Length {
				panic(fmt.Sprintf("codec: field %q overlaps %q", f.Name, prev.Name))
			}
		}

		if f.remainder {
			s.tail = f
			s.size = max(s.size, f.Offset)

			continue
		}

		s.size = max(s.size, f.Offset+f.Length)
	}

	return s
}

// WithLength declares the total encoded length of the fixed portion. Bytes
// past the last field are zero filled.
func (s *Schema[T]) WithLength(n int) *Schema[T] {
	if n < s.size {
		panic(fmt.Sprintf("codec: declared length %d is shorter than layout %d", n, s.size))
	}

	s.length = n

	return s
}

// Size is the length of the fixed portion of the layout.
func (s *Schema[T]) Size() int {
	return max(s.size, s.length)
}

// Complete reports whether b is long enough to hold every fixed field.
func (s *Schema[T]) Complete(b []byte) bool {
	return len(b) >= s.Size()
}

// Encode serializes m according to the schema.
func (s *Schema[T]) Encode(m *T) ([]byte, error) {
	n := s.Size()
	if s.tail != nil {
		n = max(n, s.tail.Offset+s.tail.extra(m))
	}

	buf := make([]byte, n)

	for _, f := range s.fields {
		if f.put == nil {
			continue
		}

		dst := buf[f.Offset:]
		if !f.remainder {
			dst = buf[f.Offset : f.Offset+f.Length]
		}

		if err := f.put(m, dst); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// Decode populates m from b. Decoding is lenient: a field whose bytes are not
// entirely present keeps its current value.
func (s *Schema[T]) Decode(b []byte, m *T) {
	for _, f := range s.fields {
		if f.get == nil {
			continue
		}

		if f.remainder {
			if f.Offset <= len(b) {
				f.get(m, b[f.Offset:])
			}

			continue
		}

		if f.Offset+f.Length > len(b) {
			continue
		}

		f.get(m, b[f.Offset:f.Offset+f.Length])
	}
}
