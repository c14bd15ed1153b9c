package metadata

import (
	"github.com/wippyai/wasm-tuner/errors"
)

// Method attribute bits (ECMA-335 II.23.1.10).
const (
	MethodStatic      = 0x0010
	MethodPinvokeImpl = 0x2000
)

// Method implementation attribute bits (ECMA-335 II.23.1.11).
const (
	ImplInternalCall = 0x1000
	ImplPreserveSig  = 0x0080
)

// PInvokeInfo is the ImplMap entry of a P/Invoke method.
type PInvokeInfo struct {
	Module     string // ModuleRef name, e.g. "libSystem.Native"
	EntryPoint string
	Flags      uint16
}

// Method is a MethodDef row with its resolved owner and signature.
type Method struct {
	Sig       *MethodSig
	PInvoke   *PInvokeInfo // nil unless the method has an ImplMap row
	Type      TypeName
	Name      string
	Token     uint32
	Row       uint32
	Flags     uint16
	ImplFlags uint16
}

// IsStatic reports whether the method has no this argument.
func (m *Method) IsStatic() bool { return m.Flags&MethodStatic != 0 }

// IsPInvoke reports whether the method is implemented by a native import.
func (m *Method) IsPInvoke() bool { return m.Flags&MethodPinvokeImpl != 0 }

// IsInternalCall reports whether the runtime provides the implementation.
func (m *Method) IsInternalCall() bool { return m.ImplFlags&ImplInternalCall != 0 }

// Methods returns every method defined in the image in token order.
func (img *Image) Methods() ([]*Method, error) {
	n := img.layout.rows[TableMethodDef]
	out := make([]*Method, 0, n)
	owners := make(map[uint32]TypeName)
	for row := uint32(1); row <= n; row++ {
		m, err := img.method(row, owners)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (img *Image) method(row uint32, owners map[uint32]TypeName) (*Method, error) {
	m := &Method{
		Token:     uint32(TableMethodDef)<<24 | row,
		Row:       row,
		ImplFlags: uint16(img.cell(TableMethodDef, row, 1)),
		Flags:     uint16(img.cell(TableMethodDef, row, 2)),
	}
	var err error
	if m.Name, err = img.String(img.cell(TableMethodDef, row, 3)); err != nil {
		return nil, err
	}

	if owner := img.methodOwner[row]; owner != 0 {
		tn, ok := owners[owner]
		if !ok {
			if tn, err = img.TypeDefName(owner); err != nil {
				return nil, err
			}
			owners[owner] = tn
		}
		m.Type = tn
	}

	blob, err := img.Blob(img.cell(TableMethodDef, row, 4))
	if err != nil {
		return nil, err
	}
	if m.Sig, err = img.DecodeMethodSig(blob); err != nil {
		return nil, errors.New(errors.PhaseParse, errors.KindInvalidData).
			Symbol(m.Type.FullName() + "::" + m.Name).
			Cause(err).
			Build()
	}

	if imRow, ok := img.implMap[row]; ok {
		if m.PInvoke, err = img.pinvokeInfo(imRow); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (img *Image) pinvokeInfo(row uint32) (*PInvokeInfo, error) {
	info := &PInvokeInfo{Flags: uint16(img.cell(TableImplMap, row, 0))}
	var err error
	if info.EntryPoint, err = img.String(img.cell(TableImplMap, row, 2)); err != nil {
		return nil, err
	}
	scope := img.cell(TableImplMap, row, 3)
	if err := img.checkRow(TableModuleRef, scope); err != nil {
		return nil, err
	}
	if info.Module, err = img.String(img.cell(TableModuleRef, scope, 0)); err != nil {
		return nil, err
	}
	return info, nil
}
