package metadata

import (
	"fmt"
	"os"

	"fortio.org/safecast"

	"github.com/wippyai/wasm-tuner/errors"
	"github.com/wippyai/wasm-tuner/metadata/internal/binary"
)

// TypeHandle refers to a type defined by an AssemblyBuilder.
type TypeHandle uint32

// Attribute values written by the builder.
const (
	typeAttrPublicBeforeInit = 0x00100001
	typeAttrNestedPublic     = 0x00100002
	methodAttrPInvoke        = 0x2096 // Public | Static | HideBySig | PinvokeImpl
	methodAttrExtern         = 0x0086 // Public | HideBySig
	pinvokeNoMangleWinapi    = 0x0100
	assemblyHashSHA1         = 0x8004
)

const runtimeVersion = "v4.0.30319"

// PE layout constants. The image has a single .text section holding the CLI
// header followed by the metadata root.
const (
	peHeaderOffset   = 0x80
	fileAlignment    = 0x200
	sectionAlignment = 0x2000
	textRVA          = 0x2000
	imageBase        = 0x10000000
)

type builderType struct {
	ns, name string
	flags    uint32
	outer    TypeHandle // 0 when not nested
	methods  []builderMethod
}

type builderMethod struct {
	name      string
	sig       *MethodSig
	flags     uint16
	implFlags uint16
	module    string // P/Invoke only
	entry     string
}

// AssemblyBuilder writes a minimal managed PE32 DLL: a Module row, the
// <Module> pseudo type, an Assembly row and any declared types with extern
// (P/Invoke or internal call) methods. Method bodies are never emitted.
type AssemblyBuilder struct {
	module  string
	name    string
	version [4]uint16
	mvid    [16]byte
	types   []*builderType // types[0] is <Module>
}

// NewAssemblyBuilder starts an assembly whose module and assembly name are name.
func NewAssemblyBuilder(name string) *AssemblyBuilder {
	return &AssemblyBuilder{
		module: name,
		name:   name,
		types:  []*builderType{{name: "<Module>"}},
	}
}

// SetModuleName overrides the Module table name.
func (b *AssemblyBuilder) SetModuleName(name string) *AssemblyBuilder {
	b.module = name
	return b
}

// SetVersion sets the assembly version.
func (b *AssemblyBuilder) SetVersion(major, minor, build, revision uint16) *AssemblyBuilder {
	b.version = [4]uint16{major, minor, build, revision}
	return b
}

// SetMVID sets the module version id.
func (b *AssemblyBuilder) SetMVID(mvid [16]byte) *AssemblyBuilder {
	b.mvid = mvid
	return b
}

// AddType declares a public top-level class.
func (b *AssemblyBuilder) AddType(ns, name string) TypeHandle {
	b.types = append(b.types, &builderType{ns: ns, name: name, flags: typeAttrPublicBeforeInit})
	return TypeHandle(len(b.types) - 1)
}

// AddNestedType declares a public class nested in outer.
func (b *AssemblyBuilder) AddNestedType(outer TypeHandle, name string) TypeHandle {
	b.types = append(b.types, &builderType{name: name, flags: typeAttrNestedPublic, outer: outer})
	return TypeHandle(len(b.types) - 1)
}

// AddPInvoke declares a static method imported from a native module.
// An empty entry point imports the method name.
func (b *AssemblyBuilder) AddPInvoke(t TypeHandle, name, module, entry string, sig *MethodSig) {
	b.addMethod(t, builderMethod{
		name: name, sig: sig, module: module, entry: entry,
		flags:     methodAttrPInvoke,
		implFlags: ImplPreserveSig,
	})
}

// AddInternalCall declares a method implemented by the runtime.
func (b *AssemblyBuilder) AddInternalCall(t TypeHandle, name string, static bool, sig *MethodSig) {
	flags := uint16(methodAttrExtern)
	if static {
		flags |= MethodStatic
	}
	b.addMethod(t, builderMethod{name: name, sig: sig, flags: flags, implFlags: ImplInternalCall})
}

func (b *AssemblyBuilder) addMethod(t TypeHandle, m builderMethod) {
	sig := MethodSig{Ret: Primitive(ElementVoid)}
	if m.sig != nil {
		sig = *m.sig
	}
	if m.flags&MethodStatic == 0 {
		sig.CallConv |= sigHasThis
	}
	m.sig = &sig
	b.types[t].methods = append(b.types[t].methods, m)
}

// WriteFile builds the assembly and writes it to path.
func (b *AssemblyBuilder) WriteFile(path string) error {
	data, err := b.Build()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Emit(path, err)
	}
	return nil
}

// Build returns the encoded PE image.
func (b *AssemblyBuilder) Build() ([]byte, error) {
	e := newEmitter()
	if err := e.tables(b); err != nil {
		return nil, errors.New(errors.PhaseEmit, errors.KindInvalidInput).
			File(b.module).
			Cause(err).
			Build()
	}
	meta, err := e.metadataRoot()
	if err != nil {
		return nil, errors.New(errors.PhaseEmit, errors.KindOverflow).File(b.module).Cause(err).Build()
	}
	return writePE(meta)
}

// emitter accumulates heaps and table rows for one Build call.
type emitter struct {
	strings    *binary.Writer
	stringIdx  map[string]uint32
	blobs      *binary.Writer
	blobIdx    map[string]uint32
	guids      *binary.Writer
	rows       [numTables][][]uint32
	typeRefIdx map[string]uint32
	modRefIdx  map[string]uint32
	runtimeRef uint32 // AssemblyRef row of the core library, 0 until needed
}

func newEmitter() *emitter {
	e := &emitter{
		strings:    binary.NewWriter(),
		stringIdx:  map[string]uint32{"": 0},
		blobs:      binary.NewWriter(),
		blobIdx:    map[string]uint32{"": 0},
		guids:      binary.NewWriter(),
		typeRefIdx: make(map[string]uint32),
		modRefIdx:  make(map[string]uint32),
	}
	e.strings.Byte(0)
	e.blobs.Byte(0)
	return e
}

func (e *emitter) str(s string) uint32 {
	if i, ok := e.stringIdx[s]; ok {
		return i
	}
	i := uint32(e.strings.Len())
	e.strings.WriteCString(s)
	e.stringIdx[s] = i
	return i
}

func (e *emitter) blob(b []byte) uint32 {
	if i, ok := e.blobIdx[string(b)]; ok {
		return i
	}
	i := uint32(e.blobs.Len())
	e.blobs.WriteCompressedU32(uint32(len(b)))
	e.blobs.WriteBytes(b)
	e.blobIdx[string(b)] = i
	return i
}

func (e *emitter) addRow(t TableID, cols ...uint32) uint32 {
	e.rows[t] = append(e.rows[t], cols)
	return uint32(len(e.rows[t]))
}

func (e *emitter) coreLibrary() uint32 {
	if e.runtimeRef == 0 {
		// MajorVersion, MinorVersion, BuildNumber, RevisionNumber, Flags, PublicKeyOrToken, Name, Culture, HashValue
		e.runtimeRef = e.addRow(TableAssemblyRef, 8, 0, 0, 0, 0, 0, e.str("System.Runtime"), 0, 0)
	}
	return e.runtimeRef
}

// typeRef returns the TypeRef row for a type outside the assembly.
func (e *emitter) typeRef(tn TypeName) uint32 {
	key := tn.FullName()
	if row, ok := e.typeRefIdx[key]; ok {
		return row
	}
	scope := codedIndexes[codedResolutionScope].encode(TableAssemblyRef, e.coreLibrary())
	if tn.Enclosing != nil {
		scope = codedIndexes[codedResolutionScope].encode(TableTypeRef, e.typeRef(*tn.Enclosing))
	}
	row := e.addRow(TableTypeRef, scope, e.str(tn.Name), e.str(tn.Namespace))
	e.typeRefIdx[key] = row
	return row
}

func (e *emitter) tables(b *AssemblyBuilder) error {
	// Module: Generation, Name, Mvid, EncId, EncBaseId
	e.guids.WriteBytes(b.mvid[:])
	e.addRow(TableModule, 0, e.str(b.module), 1, 0, 0)

	object := codedIndexes[codedTypeDefOrRef].encode(TableTypeRef, e.typeRef(TypeName{Namespace: "System", Name: "Object"}))

	methodRow := uint32(1)
	for i, t := range b.types {
		extends := object
		if i == 0 {
			extends = 0
		}
		if t.outer != 0 && int(t.outer) >= i {
			return fmt.Errorf("type %s: enclosing type declared after nested type", t.name)
		}
		// Flags, TypeName, TypeNamespace, Extends, FieldList, MethodList
		e.addRow(TableTypeDef, t.flags, e.str(t.name), e.str(t.ns), extends, 1, methodRow)
		for _, m := range t.methods {
			sig, err := e.encodeMethodSig(m.sig)
			if err != nil {
				return fmt.Errorf("method %s::%s: %w", t.name, m.name, err)
			}
			// RVA, ImplFlags, Flags, Name, Signature, ParamList
			e.addRow(TableMethodDef, 0, uint32(m.implFlags), uint32(m.flags), e.str(m.name), e.blob(sig), 1)
			if m.module != "" {
				entry := m.entry
				if entry == "" {
					entry = m.name
				}
				// MappingFlags, MemberForwarded, ImportName, ImportScope
				e.addRow(TableImplMap, pinvokeNoMangleWinapi,
					codedIndexes[codedMemberForwarded].encode(TableMethodDef, methodRow),
					e.str(entry), e.moduleRef(m.module))
			}
			methodRow++
		}
		if t.outer != 0 {
			e.addRow(TableNestedClass, uint32(i+1), uint32(t.outer)+1)
		}
	}

	// HashAlgId, version, Flags, PublicKey, Name, Culture
	v := b.version
	e.addRow(TableAssembly, assemblyHashSHA1, uint32(v[0]), uint32(v[1]), uint32(v[2]), uint32(v[3]), 0, 0, e.str(b.name), 0)
	return nil
}

func (e *emitter) moduleRef(name string) uint32 {
	if row, ok := e.modRefIdx[name]; ok {
		return row
	}
	row := e.addRow(TableModuleRef, e.str(name))
	e.modRefIdx[name] = row
	return row
}

func (e *emitter) encodeMethodSig(m *MethodSig) ([]byte, error) {
	w := binary.NewWriter()
	w.Byte(m.CallConv)
	if m.CallConv&sigGeneric != 0 {
		w.WriteCompressedU32(m.GenericParams)
	}
	w.WriteCompressedU32(uint32(len(m.Params)))
	if err := e.encodeType(w, m.Ret); err != nil {
		return nil, err
	}
	for _, p := range m.Params {
		if err := e.encodeType(w, p); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

func (e *emitter) encodeType(w *binary.Writer, t *TypeSig) error {
	if t == nil {
		return fmt.Errorf("nil type in signature")
	}
	if _, ok := primitiveNames[t.Elem]; ok {
		w.Byte(byte(t.Elem))
		return nil
	}
	switch t.Elem {
	case ElementPtr, ElementByRef, ElementSZArray, ElementPinned:
		w.Byte(byte(t.Elem))
		return e.encodeType(w, t.Inner)
	case ElementClass, ElementValueType:
		w.Byte(byte(t.Elem))
		row := e.typeRef(TypeName{Namespace: t.Namespace, Name: t.TypeName})
		w.WriteCompressedU32(codedIndexes[codedTypeDefOrRef].encode(TableTypeRef, row))
		return nil
	case ElementCModOpt, ElementCModReqd:
		w.Byte(byte(t.Elem))
		row := e.typeRef(*t.Modifier)
		w.WriteCompressedU32(codedIndexes[codedTypeDefOrRef].encode(TableTypeRef, row))
		return e.encodeType(w, t.Inner)
	case ElementVar, ElementMVar:
		w.Byte(byte(t.Elem))
		w.WriteCompressedU32(t.Number)
		return nil
	case ElementGenericInst:
		w.Byte(byte(t.Elem))
		if err := e.encodeType(w, t.Inner); err != nil {
			return err
		}
		w.WriteCompressedU32(uint32(len(t.Args)))
		for _, a := range t.Args {
			if err := e.encodeType(w, a); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("cannot encode element type 0x%02x", byte(t.Elem))
}

// tableStream encodes the #~ stream.
func (e *emitter) tableStream() []byte {
	var heapSizes byte
	if e.strings.Len() >= 1<<16 {
		heapSizes |= heapStringsWide
	}
	if e.guids.Len()/16 >= 1<<16 {
		heapSizes |= heapGUIDWide
	}
	if e.blobs.Len() >= 1<<16 {
		heapSizes |= heapBlobWide
	}

	var counts [numTables]uint32
	var valid uint64
	for t := range e.rows {
		counts[t] = uint32(len(e.rows[t]))
		if counts[t] > 0 {
			valid |= 1 << t
		}
	}
	l := newLayout(counts, heapSizes)

	w := binary.NewWriter()
	w.WriteU32(0)     // Reserved
	w.Byte(2)         // MajorVersion
	w.Byte(0)         // MinorVersion
	w.Byte(heapSizes) // HeapSizes
	w.Byte(1)         // Reserved
	w.WriteU64(valid)
	w.WriteU64(1<<TableInterfaceImpl | 1<<TableConstant | 1<<TableCustomAttribute |
		1<<TableFieldMarshal | 1<<TableDeclSecurity | 1<<TableClassLayout |
		1<<TableFieldLayout | 1<<TableMethodSemantics | 1<<TableMethodImpl |
		1<<TableImplMap | 1<<TableFieldRVA | 1<<TableNestedClass |
		1<<TableGenericParam | 1<<TableGenericParamConstraint)
	for t := range e.rows {
		if counts[t] > 0 {
			w.WriteU32(counts[t])
		}
	}
	for t, rows := range e.rows {
		for _, row := range rows {
			for c, v := range row {
				w.WriteIndex(v, l.widths[t][c])
			}
		}
	}
	w.Pad(4)
	return w.Bytes()
}

type stream struct {
	name string
	data []byte
}

// metadataRoot lays out the BSJB root and its five streams.
func (e *emitter) metadataRoot() ([]byte, error) {
	e.strings.Pad(4)
	e.blobs.Pad(4)
	us := binary.NewWriter()
	us.Byte(0)
	us.Pad(4)

	streams := []stream{
		{"#~", e.tableStream()},
		{"#Strings", e.strings.Bytes()},
		{"#US", us.Bytes()},
		{"#GUID", e.guids.Bytes()},
		{"#Blob", e.blobs.Bytes()},
	}

	version := binary.NewWriter()
	version.WriteCString(runtimeVersion)
	version.Pad(4)

	headerSize := 16 + version.Len() + 4
	for _, s := range streams {
		headerSize += 8 + (len(s.name)+4)&^3
	}

	w := binary.NewWriter()
	w.WriteU32(metadataSignature)
	w.WriteU16(1) // MajorVersion
	w.WriteU16(1) // MinorVersion
	w.WriteU32(0) // Reserved
	w.WriteU32(uint32(version.Len()))
	w.WriteBytes(version.Bytes())
	w.WriteU16(0) // Flags
	w.WriteU16(uint16(len(streams)))

	off := headerSize
	for _, s := range streams {
		o, err := safecast.Conv[uint32](off)
		if err != nil {
			return nil, err
		}
		size, err := safecast.Conv[uint32](len(s.data))
		if err != nil {
			return nil, err
		}
		w.WriteU32(o)
		w.WriteU32(size)
		w.WriteCString(s.name)
		w.Pad(4)
		off += len(s.data)
	}
	for _, s := range streams {
		w.WriteBytes(s.data)
	}
	return w.Bytes(), nil
}

// writePE wraps metadata in a PE32 DLL image.
func writePE(meta []byte) ([]byte, error) {
	textSize, err := safecast.Conv[uint32](cliHeaderSize + len(meta))
	if err != nil {
		return nil, errors.New(errors.PhaseEmit, errors.KindOverflow).Detail("metadata too large").Cause(err).Build()
	}
	rawSize := alignUp(textSize, fileAlignment)

	w := binary.NewWriter()

	// DOS header: only the magic and e_lfanew are read by loaders.
	w.WriteBytes([]byte("MZ"))
	w.Zero(0x3C - 2)
	w.WriteU32(peHeaderOffset)
	w.Zero(peHeaderOffset - w.Len())

	w.WriteBytes([]byte("PE\x00\x00"))

	// COFF file header
	w.WriteU16(0x014C) // Machine: i386
	w.WriteU16(1)      // NumberOfSections
	w.WriteU32(0)      // TimeDateStamp
	w.WriteU32(0)      // PointerToSymbolTable
	w.WriteU32(0)      // NumberOfSymbols
	w.WriteU16(224)    // SizeOfOptionalHeader
	w.WriteU16(0x2102) // EXECUTABLE_IMAGE | 32BIT_MACHINE | DLL

	// Optional header (PE32)
	w.WriteU16(0x010B)
	w.Byte(8) // MajorLinkerVersion
	w.Byte(0)
	w.WriteU32(rawSize) // SizeOfCode
	w.WriteU32(0)       // SizeOfInitializedData
	w.WriteU32(0)       // SizeOfUninitializedData
	w.WriteU32(0)       // AddressOfEntryPoint
	w.WriteU32(textRVA) // BaseOfCode
	w.WriteU32(0)       // BaseOfData
	w.WriteU32(imageBase)
	w.WriteU32(sectionAlignment)
	w.WriteU32(fileAlignment)
	w.WriteU16(4) // MajorOperatingSystemVersion
	w.WriteU16(0)
	w.WriteU16(0) // MajorImageVersion
	w.WriteU16(0)
	w.WriteU16(4) // MajorSubsystemVersion
	w.WriteU16(0)
	w.WriteU32(0) // Win32VersionValue
	w.WriteU32(textRVA + alignUp(textSize, sectionAlignment))
	w.WriteU32(fileAlignment) // SizeOfHeaders
	w.WriteU32(0)             // CheckSum
	w.WriteU16(3)             // Subsystem: console
	w.WriteU16(0x8540)        // DYNAMIC_BASE | NX_COMPAT | NO_SEH | TERMINAL_SERVER_AWARE
	w.WriteU32(0x100000)      // SizeOfStackReserve
	w.WriteU32(0x1000)
	w.WriteU32(0x100000) // SizeOfHeapReserve
	w.WriteU32(0x1000)
	w.WriteU32(0)  // LoaderFlags
	w.WriteU32(16) // NumberOfRvaAndSizes
	for i := 0; i < 16; i++ {
		if i == 14 { // CLI header
			w.WriteU32(textRVA)
			w.WriteU32(cliHeaderSize)
			continue
		}
		w.WriteU64(0)
	}

	// Section table
	w.WriteBytes([]byte(".text\x00\x00\x00"))
	w.WriteU32(textSize)
	w.WriteU32(textRVA)
	w.WriteU32(rawSize)
	w.WriteU32(fileAlignment) // PointerToRawData
	w.WriteU32(0)
	w.WriteU32(0)
	w.WriteU16(0)
	w.WriteU16(0)
	w.WriteU32(0x60000020) // CNT_CODE | MEM_EXECUTE | MEM_READ
	w.Zero(fileAlignment - w.Len())

	// CLI header
	w.WriteU32(cliHeaderSize)
	w.WriteU16(2) // MajorRuntimeVersion
	w.WriteU16(5)
	w.WriteU32(textRVA + cliHeaderSize) // MetaData.VirtualAddress
	w.WriteU32(textSize - cliHeaderSize)
	w.WriteU32(1) // Flags: ILONLY
	w.WriteU32(0) // EntryPointToken
	w.Zero(6 * 8) // Resources .. ManagedNativeHeader

	w.WriteBytes(meta)
	w.Zero(int(fileAlignment+rawSize) - w.Len())
	return w.Bytes(), nil
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}
