package scan

import (
	"strings"

	"github.com/wippyai/wasm-tuner/metadata"
)

// typeAliases are the short names the runtime's icall index uses for
// primitive parameter types.
var typeAliases = map[string]string{
	"System.Void":    "void",
	"System.Boolean": "bool",
	"System.Char":    "char",
	"System.SByte":   "sbyte",
	"System.Byte":    "byte",
	"System.Int16":   "int16",
	"System.UInt16":  "uint16",
	"System.Int32":   "int",
	"System.UInt32":  "uint",
	"System.Int64":   "long",
	"System.UInt64":  "ulong",
	"System.IntPtr":  "intptr",
	"System.UIntPtr": "uintptr",
	"System.Single":  "single",
	"System.Double":  "double",
	"System.Object":  "object",
	"System.String":  "string",
}

// OverloadName renders "Method(p1,p2)" with aliased parameter types, the
// form the index uses to disambiguate overloaded internal calls.
func OverloadName(method string, sig *metadata.MethodSig) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('(')
	for i, p := range sig.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		appendType(&b, p)
	}
	b.WriteByte(')')
	return b.String()
}

func appendType(b *strings.Builder, t *metadata.TypeSig) {
	switch t.Elem {
	case metadata.ElementSZArray:
		appendType(b, t.Inner)
		b.WriteString("[]")
		return
	case metadata.ElementByRef:
		appendType(b, t.Inner)
		b.WriteByte('&')
		return
	case metadata.ElementPtr:
		appendType(b, t.Inner)
		b.WriteByte('*')
		return
	case metadata.ElementCModOpt, metadata.ElementCModReqd, metadata.ElementPinned:
		appendType(b, t.Inner)
		return
	}
	name := t.FullName()
	if alias, ok := typeAliases[name]; ok {
		b.WriteString(alias)
		return
	}
	b.WriteString(name)
}
