package abi

import (
	"fmt"
	"strings"
)

// Category is the native slot class a managed type collapses to.
type Category uint8

const (
	Int Category = iota
	Void
	Double
	Float
	Int64
	UInt64
)

// Classify maps a managed type name to its category. Names other than
// Void, Double, Single, Int64 and UInt64 fall to Int: 32-bit integers,
// booleans, enums, references, pointers and byrefs all travel in one
// generic interpreter slot.
func Classify(typeName string) Category {
	switch typeName {
	case "Void":
		return Void
	case "Double":
		return Double
	case "Single":
		return Float
	case "Int64":
		return Int64
	case "UInt64":
		return UInt64
	default:
		return Int
	}
}

// CType returns the C spelling used in generated declarations.
func (c Category) CType() string {
	switch c {
	case Void:
		return "void"
	case Double:
		return "double"
	case Float:
		return "float"
	case Int64:
		return "int64_t"
	case UInt64:
		return "uint64_t"
	default:
		return "int"
	}
}

// Letter returns the single-character code used in shape keys.
func (c Category) Letter() byte {
	switch c {
	case Void:
		return 'V'
	case Double:
		return 'D'
	case Float:
		return 'F'
	case Int64:
		return 'L'
	case UInt64:
		return 'U'
	default:
		return 'I'
	}
}

// Is64 reports whether the category occupies a 64-bit integer slot.
func (c Category) Is64() bool {
	return c == Int64 || c == UInt64
}

// IsFloat reports whether the category travels in a floating point register.
func (c Category) IsFloat() bool {
	return c == Float || c == Double
}

func (c Category) String() string {
	return c.CType()
}

func categoryFromLetter(b byte) (Category, bool) {
	switch b {
	case 'V':
		return Void, true
	case 'D':
		return Double, true
	case 'F':
		return Float, true
	case 'L':
		return Int64, true
	case 'U':
		return UInt64, true
	case 'I':
		return Int, true
	}
	return Int, false
}

// Shape is the trampoline deduplication key: a return category followed by
// the ordered parameter categories.
type Shape struct {
	Params []Category
	Ret    Category
}

// NewShape builds a shape, copying params.
func NewShape(ret Category, params ...Category) Shape {
	p := make([]Category, len(params))
	copy(p, params)
	return Shape{Ret: ret, Params: p}
}

// Key returns the canonical string form: return letter then one letter per
// parameter, e.g. "VII" for void(int,int).
func (s Shape) Key() string {
	var b strings.Builder
	b.Grow(len(s.Params) + 1)
	b.WriteByte(s.Ret.Letter())
	for _, p := range s.Params {
		b.WriteByte(p.Letter())
	}
	return b.String()
}

// Equal reports whether two shapes are interchangeable.
func (s Shape) Equal(o Shape) bool {
	if s.Ret != o.Ret || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// WithLeading returns a copy of s with c prepended to the parameters.
func (s Shape) WithLeading(c Category) Shape {
	return NewShape(s.Ret, append([]Category{c}, s.Params...)...)
}

// WithTrailing returns a copy of s with c appended to the parameters.
func (s Shape) WithTrailing(c Category) Shape {
	p := make([]Category, len(s.Params), len(s.Params)+1)
	copy(p, s.Params)
	return Shape{Ret: s.Ret, Params: append(p, c)}
}

// Decl renders a C prototype for symbol with this shape.
func (s Shape) Decl(symbol string) string {
	var b strings.Builder
	b.WriteString(s.Ret.CType())
	b.WriteByte(' ')
	b.WriteString(symbol)
	b.WriteString(" (")
	for i, p := range s.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.CType())
	}
	b.WriteString(");")
	return b.String()
}

func (s Shape) String() string {
	return s.Key()
}

// ParseShape is the inverse of Shape.Key. Void is only valid in the
// return position.
func ParseShape(key string) (Shape, error) {
	if key == "" {
		return Shape{}, fmt.Errorf("abi: empty shape key")
	}
	ret, ok := categoryFromLetter(key[0])
	if !ok {
		return Shape{}, fmt.Errorf("abi: invalid return letter %q", key[0])
	}
	params := make([]Category, 0, len(key)-1)
	for i := 1; i < len(key); i++ {
		c, ok := categoryFromLetter(key[i])
		if !ok || c == Void {
			return Shape{}, fmt.Errorf("abi: invalid parameter letter %q at %d", key[i], i)
		}
		params = append(params, c)
	}
	return Shape{Ret: ret, Params: params}, nil
}
