package metadata

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-tuner/metadata/internal/binary"
)

// ElementType is a signature element type code (ECMA-335 II.23.1.16).
type ElementType byte

const (
	ElementEnd         ElementType = 0x00
	ElementVoid        ElementType = 0x01
	ElementBoolean     ElementType = 0x02
	ElementChar        ElementType = 0x03
	ElementI1          ElementType = 0x04
	ElementU1          ElementType = 0x05
	ElementI2          ElementType = 0x06
	ElementU2          ElementType = 0x07
	ElementI4          ElementType = 0x08
	ElementU4          ElementType = 0x09
	ElementI8          ElementType = 0x0A
	ElementU8          ElementType = 0x0B
	ElementR4          ElementType = 0x0C
	ElementR8          ElementType = 0x0D
	ElementString      ElementType = 0x0E
	ElementPtr         ElementType = 0x0F
	ElementByRef       ElementType = 0x10
	ElementValueType   ElementType = 0x11
	ElementClass       ElementType = 0x12
	ElementVar         ElementType = 0x13
	ElementArray       ElementType = 0x14
	ElementGenericInst ElementType = 0x15
	ElementTypedByRef  ElementType = 0x16
	ElementI           ElementType = 0x18
	ElementU           ElementType = 0x19
	ElementFnPtr       ElementType = 0x1B
	ElementObject      ElementType = 0x1C
	ElementSZArray     ElementType = 0x1D
	ElementMVar        ElementType = 0x1E
	ElementCModReqd    ElementType = 0x1F
	ElementCModOpt     ElementType = 0x20
	ElementSentinel    ElementType = 0x41
	ElementPinned      ElementType = 0x45
)

var primitiveNames = map[ElementType]string{
	ElementVoid:       "Void",
	ElementBoolean:    "Boolean",
	ElementChar:       "Char",
	ElementI1:         "SByte",
	ElementU1:         "Byte",
	ElementI2:         "Int16",
	ElementU2:         "UInt16",
	ElementI4:         "Int32",
	ElementU4:         "UInt32",
	ElementI8:         "Int64",
	ElementU8:         "UInt64",
	ElementR4:         "Single",
	ElementR8:         "Double",
	ElementString:     "String",
	ElementTypedByRef: "TypedReference",
	ElementI:          "IntPtr",
	ElementU:          "UIntPtr",
	ElementObject:     "Object",
}

// Calling convention bits of a method signature.
const (
	sigHasThis      = 0x20
	sigExplicitThis = 0x40
	sigGeneric      = 0x10
	sigKindMask     = 0x0F
	sigVarArg       = 0x05
)

// TypeSig is a decoded type from a signature blob.
type TypeSig struct {
	Inner     *TypeSig   // Ptr, ByRef, SZArray, Array, Pinned, CMod*, GenericInst base
	Modifier  *TypeName  // CModOpt / CModReqd modifier type
	Method    *MethodSig // FnPtr
	Args      []*TypeSig // GenericInst arguments
	Namespace string     // Class / ValueType
	TypeName  string     // Class / ValueType simple name
	Rank      uint32     // Array
	Number    uint32     // Var / MVar
	Elem      ElementType
}

// Primitive returns a signature for a primitive element type.
func Primitive(e ElementType) *TypeSig { return &TypeSig{Elem: e} }

// ByRef wraps t in a managed reference.
func ByRef(t *TypeSig) *TypeSig { return &TypeSig{Elem: ElementByRef, Inner: t} }

// Ptr wraps t in an unmanaged pointer.
func Ptr(t *TypeSig) *TypeSig { return &TypeSig{Elem: ElementPtr, Inner: t} }

// SZArray wraps t in a single-dimensional zero-based array.
func SZArray(t *TypeSig) *TypeSig { return &TypeSig{Elem: ElementSZArray, Inner: t} }

// ValueTypeRef references a value type by name.
func ValueTypeRef(ns, name string) *TypeSig {
	return &TypeSig{Elem: ElementValueType, Namespace: ns, TypeName: name}
}

// ClassRef references a reference type by name.
func ClassRef(ns, name string) *TypeSig {
	return &TypeSig{Elem: ElementClass, Namespace: ns, TypeName: name}
}

// Name returns the simple type name. Constructed types decorate the name of
// their element the way metadata readers conventionally do: "Int32&",
// "Byte*", "Char[]", "Int64 modopt(System.Runtime.CompilerServices.IsLong)".
func (t *TypeSig) Name() string {
	if n, ok := primitiveNames[t.Elem]; ok {
		return n
	}
	switch t.Elem {
	case ElementClass, ElementValueType:
		return t.TypeName
	case ElementPtr:
		return t.Inner.Name() + "*"
	case ElementByRef:
		return t.Inner.Name() + "&"
	case ElementSZArray:
		return t.Inner.Name() + "[]"
	case ElementArray:
		return t.Inner.Name() + "[" + strings.Repeat(",", int(max(t.Rank, 1)-1)) + "]"
	case ElementGenericInst:
		return t.Inner.Name()
	case ElementVar:
		return fmt.Sprintf("!%d", t.Number)
	case ElementMVar:
		return fmt.Sprintf("!!%d", t.Number)
	case ElementCModOpt:
		return t.Inner.Name() + " modopt(" + t.Modifier.FullName() + ")"
	case ElementCModReqd:
		return t.Inner.Name() + " modreq(" + t.Modifier.FullName() + ")"
	case ElementPinned:
		return t.Inner.Name() + " pinned"
	case ElementFnPtr:
		return "method"
	}
	return fmt.Sprintf("<0x%02x>", byte(t.Elem))
}

// FullName qualifies the name with its namespace where one exists.
func (t *TypeSig) FullName() string {
	switch t.Elem {
	case ElementClass, ElementValueType:
		if t.Namespace == "" {
			return t.TypeName
		}
		return t.Namespace + "." + t.TypeName
	case ElementPtr:
		return t.Inner.FullName() + "*"
	case ElementByRef:
		return t.Inner.FullName() + "&"
	case ElementSZArray:
		return t.Inner.FullName() + "[]"
	}
	if _, ok := primitiveNames[t.Elem]; ok {
		return "System." + t.Name()
	}
	return t.Name()
}

// MethodSig is a decoded MethodDefSig / MethodRefSig.
type MethodSig struct {
	Ret           *TypeSig
	Params        []*TypeSig
	GenericParams uint32
	CallConv      byte
}

// HasThis reports whether the method takes an implicit this argument.
func (m *MethodSig) HasThis() bool {
	return m.CallConv&sigHasThis != 0 && m.CallConv&sigExplicitThis == 0
}

// IsVarArg reports whether the signature uses the vararg convention.
func (m *MethodSig) IsVarArg() bool {
	return m.CallConv&sigKindMask == sigVarArg
}

const maxSigDepth = 32

type sigDecoder struct {
	img   *Image
	r     *binary.Reader
	depth int
}

// DecodeMethodSig decodes a method signature blob.
func (img *Image) DecodeMethodSig(blob []byte) (*MethodSig, error) {
	d := &sigDecoder{img: img, r: binary.NewReader(blob)}
	return d.methodSig()
}

func (img *Image) decodeTypeBlob(blob []byte, depth int) (*TypeSig, error) {
	d := &sigDecoder{img: img, r: binary.NewReader(blob), depth: depth}
	return d.typeSig()
}

func (d *sigDecoder) methodSig() (*MethodSig, error) {
	cc, err := d.r.ReadByte()
	if err != nil {
		return nil, d.r.WrapError("signature", err)
	}
	m := &MethodSig{CallConv: cc}
	if cc&sigGeneric != 0 {
		if m.GenericParams, err = d.r.ReadCompressedU32(); err != nil {
			return nil, d.r.WrapError("signature", err)
		}
	}
	count, err := d.r.ReadCompressedU32()
	if err != nil {
		return nil, d.r.WrapError("signature", err)
	}
	if int(count) > d.r.Len() {
		return nil, d.r.WrapError("signature", fmt.Errorf("parameter count %d exceeds blob", count))
	}
	if m.Ret, err = d.typeSig(); err != nil {
		return nil, err
	}
	m.Params = make([]*TypeSig, 0, count)
	for i := uint32(0); i < count; i++ {
		if b, err := d.r.PeekByte(); err == nil && ElementType(b) == ElementSentinel {
			_, _ = d.r.ReadByte()
		}
		p, err := d.typeSig()
		if err != nil {
			return nil, err
		}
		m.Params = append(m.Params, p)
	}
	return m, nil
}

func (d *sigDecoder) typeSig() (*TypeSig, error) {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > maxSigDepth {
		return nil, d.r.WrapError("signature", fmt.Errorf("type nesting exceeds %d", maxSigDepth))
	}

	b, err := d.r.ReadByte()
	if err != nil {
		return nil, d.r.WrapError("signature", err)
	}
	e := ElementType(b)
	if _, ok := primitiveNames[e]; ok {
		return &TypeSig{Elem: e}, nil
	}

	switch e {
	case ElementPtr, ElementByRef, ElementSZArray, ElementPinned:
		inner, err := d.typeSig()
		if err != nil {
			return nil, err
		}
		return &TypeSig{Elem: e, Inner: inner}, nil

	case ElementCModOpt, ElementCModReqd:
		mod, err := d.typeDefOrRef()
		if err != nil {
			return nil, err
		}
		inner, err := d.typeSig()
		if err != nil {
			return nil, err
		}
		return &TypeSig{Elem: e, Inner: inner, Modifier: &mod}, nil

	case ElementClass, ElementValueType:
		tn, err := d.typeDefOrRef()
		if err != nil {
			return nil, err
		}
		ns := tn.Namespace
		if tn.Enclosing != nil {
			ns = tn.Enclosing.FullName()
		}
		return &TypeSig{Elem: e, Namespace: ns, TypeName: tn.Name}, nil

	case ElementVar, ElementMVar:
		n, err := d.r.ReadCompressedU32()
		if err != nil {
			return nil, d.r.WrapError("signature", err)
		}
		return &TypeSig{Elem: e, Number: n}, nil

	case ElementArray:
		return d.arrayShape()

	case ElementGenericInst:
		base, err := d.typeSig()
		if err != nil {
			return nil, err
		}
		n, err := d.r.ReadCompressedU32()
		if err != nil {
			return nil, d.r.WrapError("signature", err)
		}
		if int(n) > d.r.Len() {
			return nil, d.r.WrapError("signature", fmt.Errorf("generic argument count %d exceeds blob", n))
		}
		args := make([]*TypeSig, 0, n)
		for i := uint32(0); i < n; i++ {
			a, err := d.typeSig()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
		}
		return &TypeSig{Elem: e, Inner: base, Args: args}, nil

	case ElementFnPtr:
		m, err := d.methodSig()
		if err != nil {
			return nil, err
		}
		return &TypeSig{Elem: e, Method: m}, nil
	}
	return nil, d.r.WrapError("signature", fmt.Errorf("unexpected element type 0x%02x", b))
}

func (d *sigDecoder) arrayShape() (*TypeSig, error) {
	inner, err := d.typeSig()
	if err != nil {
		return nil, err
	}
	rank, err := d.r.ReadCompressedU32()
	if err != nil {
		return nil, d.r.WrapError("signature", err)
	}
	nsizes, err := d.r.ReadCompressedU32()
	if err != nil {
		return nil, d.r.WrapError("signature", err)
	}
	for i := uint32(0); i < nsizes; i++ {
		if _, err := d.r.ReadCompressedU32(); err != nil {
			return nil, d.r.WrapError("signature", err)
		}
	}
	nbounds, err := d.r.ReadCompressedU32()
	if err != nil {
		return nil, d.r.WrapError("signature", err)
	}
	for i := uint32(0); i < nbounds; i++ {
		if _, err := d.r.ReadCompressedI32(); err != nil {
			return nil, d.r.WrapError("signature", err)
		}
	}
	return &TypeSig{Elem: ElementArray, Inner: inner, Rank: rank}, nil
}

// typeDefOrRef decodes a TypeDefOrRefOrSpecEncoded token.
func (d *sigDecoder) typeDefOrRef() (TypeName, error) {
	v, err := d.r.ReadCompressedU32()
	if err != nil {
		return TypeName{}, d.r.WrapError("signature", err)
	}
	t, row := codedIndexes[codedTypeDefOrRef].decode(v)
	if t == noTable {
		return TypeName{}, d.r.WrapError("signature", fmt.Errorf("invalid type token %#x", v))
	}
	return d.img.typeDefOrRefName(t, row, d.depth)
}
