package metadata

// TableID identifies a metadata table (ECMA-335 II.22).
type TableID uint8

const (
	TableModule                 TableID = 0x00
	TableTypeRef                TableID = 0x01
	TableTypeDef                TableID = 0x02
	TableFieldPtr               TableID = 0x03
	TableField                  TableID = 0x04
	TableMethodPtr              TableID = 0x05
	TableMethodDef              TableID = 0x06
	TableParamPtr               TableID = 0x07
	TableParam                  TableID = 0x08
	TableInterfaceImpl          TableID = 0x09
	TableMemberRef              TableID = 0x0A
	TableConstant               TableID = 0x0B
	TableCustomAttribute        TableID = 0x0C
	TableFieldMarshal           TableID = 0x0D
	TableDeclSecurity           TableID = 0x0E
	TableClassLayout            TableID = 0x0F
	TableFieldLayout            TableID = 0x10
	TableStandAloneSig          TableID = 0x11
	TableEventMap               TableID = 0x12
	TableEventPtr               TableID = 0x13
	TableEvent                  TableID = 0x14
	TablePropertyMap            TableID = 0x15
	TablePropertyPtr            TableID = 0x16
	TableProperty               TableID = 0x17
	TableMethodSemantics        TableID = 0x18
	TableMethodImpl             TableID = 0x19
	TableModuleRef              TableID = 0x1A
	TableTypeSpec               TableID = 0x1B
	TableImplMap                TableID = 0x1C
	TableFieldRVA               TableID = 0x1D
	TableEncLog                 TableID = 0x1E
	TableEncMap                 TableID = 0x1F
	TableAssembly               TableID = 0x20
	TableAssemblyProcessor      TableID = 0x21
	TableAssemblyOS             TableID = 0x22
	TableAssemblyRef            TableID = 0x23
	TableAssemblyRefProcessor   TableID = 0x24
	TableAssemblyRefOS          TableID = 0x25
	TableFile                   TableID = 0x26
	TableExportedType           TableID = 0x27
	TableManifestResource       TableID = 0x28
	TableNestedClass            TableID = 0x29
	TableGenericParam           TableID = 0x2A
	TableMethodSpec             TableID = 0x2B
	TableGenericParamConstraint TableID = 0x2C

	numTables = 0x2D

	// noTable marks an unused tag in a coded index.
	noTable TableID = 0xFF
)

var tableNames = [numTables]string{
	"Module", "TypeRef", "TypeDef", "FieldPtr", "Field", "MethodPtr", "MethodDef",
	"ParamPtr", "Param", "InterfaceImpl", "MemberRef", "Constant", "CustomAttribute",
	"FieldMarshal", "DeclSecurity", "ClassLayout", "FieldLayout", "StandAloneSig",
	"EventMap", "EventPtr", "Event", "PropertyMap", "PropertyPtr", "Property",
	"MethodSemantics", "MethodImpl", "ModuleRef", "TypeSpec", "ImplMap", "FieldRVA",
	"EncLog", "EncMap", "Assembly", "AssemblyProcessor", "AssemblyOS", "AssemblyRef",
	"AssemblyRefProcessor", "AssemblyRefOS", "File", "ExportedType", "ManifestResource",
	"NestedClass", "GenericParam", "MethodSpec", "GenericParamConstraint",
}

func (t TableID) String() string {
	if int(t) < len(tableNames) {
		return tableNames[t]
	}
	return "Unknown"
}

// codedKind identifies a coded index family (ECMA-335 II.24.2.6).
type codedKind uint8

const (
	codedTypeDefOrRef codedKind = iota
	codedHasConstant
	codedHasCustomAttribute
	codedHasFieldMarshal
	codedHasDeclSecurity
	codedMemberRefParent
	codedHasSemantics
	codedMethodDefOrRef
	codedMemberForwarded
	codedImplementation
	codedCustomAttributeType
	codedResolutionScope
	codedTypeOrMethodDef
)

type codedIndex struct {
	tables []TableID
	bits   uint
}

var codedIndexes = [...]codedIndex{
	codedTypeDefOrRef: {bits: 2, tables: []TableID{TableTypeDef, TableTypeRef, TableTypeSpec}},
	codedHasConstant:  {bits: 2, tables: []TableID{TableField, TableParam, TableProperty}},
	codedHasCustomAttribute: {bits: 5, tables: []TableID{
		TableMethodDef, TableField, TableTypeRef, TableTypeDef, TableParam,
		TableInterfaceImpl, TableMemberRef, TableModule, TableDeclSecurity, TableProperty,
		TableEvent, TableStandAloneSig, TableModuleRef, TableTypeSpec, TableAssembly,
		TableAssemblyRef, TableFile, TableExportedType, TableManifestResource,
		TableGenericParam, TableGenericParamConstraint, TableMethodSpec,
	}},
	codedHasFieldMarshal:     {bits: 1, tables: []TableID{TableField, TableParam}},
	codedHasDeclSecurity:     {bits: 2, tables: []TableID{TableTypeDef, TableMethodDef, TableAssembly}},
	codedMemberRefParent:     {bits: 3, tables: []TableID{TableTypeDef, TableTypeRef, TableModuleRef, TableMethodDef, TableTypeSpec}},
	codedHasSemantics:        {bits: 1, tables: []TableID{TableEvent, TableProperty}},
	codedMethodDefOrRef:      {bits: 1, tables: []TableID{TableMethodDef, TableMemberRef}},
	codedMemberForwarded:     {bits: 1, tables: []TableID{TableField, TableMethodDef}},
	codedImplementation:      {bits: 2, tables: []TableID{TableFile, TableAssemblyRef, TableExportedType}},
	codedCustomAttributeType: {bits: 3, tables: []TableID{noTable, noTable, TableMethodDef, TableMemberRef, noTable}},
	codedResolutionScope:     {bits: 2, tables: []TableID{TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef}},
	codedTypeOrMethodDef:     {bits: 1, tables: []TableID{TableTypeDef, TableMethodDef}},
}

// decode splits a coded index value into its table and 1-based row.
func (c codedIndex) decode(v uint32) (TableID, uint32) {
	tag := v & (1<<c.bits - 1)
	if int(tag) >= len(c.tables) {
		return noTable, 0
	}
	return c.tables[tag], v >> c.bits
}

// encode builds a coded index value for row in table t.
func (c codedIndex) encode(t TableID, row uint32) uint32 {
	for tag, id := range c.tables {
		if id == t {
			return row<<c.bits | uint32(tag)
		}
	}
	return 0
}

type colKind uint8

const (
	colU16 colKind = iota
	colU32
	colString
	colGUID
	colBlob
	colTable
	colCoded
)

type colDef struct {
	kind colKind
	ref  uint8 // TableID for colTable, codedKind for colCoded
}

func u16() colDef              { return colDef{kind: colU16} }
func u32() colDef              { return colDef{kind: colU32} }
func str() colDef              { return colDef{kind: colString} }
func guid() colDef             { return colDef{kind: colGUID} }
func blob() colDef             { return colDef{kind: colBlob} }
func idx(t TableID) colDef     { return colDef{kind: colTable, ref: uint8(t)} }
func coded(k codedKind) colDef { return colDef{kind: colCoded, ref: uint8(k)} }

// schema lists the columns of every table in the order they are stored.
var schema = [numTables][]colDef{
	TableModule:                 {u16(), str(), guid(), guid(), guid()},
	TableTypeRef:                {coded(codedResolutionScope), str(), str()},
	TableTypeDef:                {u32(), str(), str(), coded(codedTypeDefOrRef), idx(TableField), idx(TableMethodDef)},
	TableFieldPtr:               {idx(TableField)},
	TableField:                  {u16(), str(), blob()},
	TableMethodPtr:              {idx(TableMethodDef)},
	TableMethodDef:              {u32(), u16(), u16(), str(), blob(), idx(TableParam)},
	TableParamPtr:               {idx(TableParam)},
	TableParam:                  {u16(), u16(), str()},
	TableInterfaceImpl:          {idx(TableTypeDef), coded(codedTypeDefOrRef)},
	TableMemberRef:              {coded(codedMemberRefParent), str(), blob()},
	TableConstant:               {u16(), coded(codedHasConstant), blob()}, // Type is one byte plus padding
	TableCustomAttribute:        {coded(codedHasCustomAttribute), coded(codedCustomAttributeType), blob()},
	TableFieldMarshal:           {coded(codedHasFieldMarshal), blob()},
	TableDeclSecurity:           {u16(), coded(codedHasDeclSecurity), blob()},
	TableClassLayout:            {u16(), u32(), idx(TableTypeDef)},
	TableFieldLayout:            {u32(), idx(TableField)},
	TableStandAloneSig:          {blob()},
	TableEventMap:               {idx(TableTypeDef), idx(TableEvent)},
	TableEventPtr:               {idx(TableEvent)},
	TableEvent:                  {u16(), str(), coded(codedTypeDefOrRef)},
	TablePropertyMap:            {idx(TableTypeDef), idx(TableProperty)},
	TablePropertyPtr:            {idx(TableProperty)},
	TableProperty:               {u16(), str(), blob()},
	TableMethodSemantics:        {u16(), idx(TableMethodDef), coded(codedHasSemantics)},
	TableMethodImpl:             {idx(TableTypeDef), coded(codedMethodDefOrRef), coded(codedMethodDefOrRef)},
	TableModuleRef:              {str()},
	TableTypeSpec:               {blob()},
	TableImplMap:                {u16(), coded(codedMemberForwarded), str(), idx(TableModuleRef)},
	TableFieldRVA:               {u32(), idx(TableField)},
	TableEncLog:                 {u32(), u32()},
	TableEncMap:                 {u32()},
	TableAssembly:               {u32(), u16(), u16(), u16(), u16(), u32(), blob(), str(), str()},
	TableAssemblyProcessor:      {u32()},
	TableAssemblyOS:             {u32(), u32(), u32()},
	TableAssemblyRef:            {u16(), u16(), u16(), u16(), u32(), blob(), str(), str(), blob()},
	TableAssemblyRefProcessor:   {u32(), idx(TableAssemblyRef)},
	TableAssemblyRefOS:          {u32(), u32(), u32(), idx(TableAssemblyRef)},
	TableFile:                   {u32(), str(), blob()},
	TableExportedType:           {u32(), u32(), str(), str(), coded(codedImplementation)},
	TableManifestResource:       {u32(), u32(), str(), coded(codedImplementation)},
	TableNestedClass:            {idx(TableTypeDef), idx(TableTypeDef)},
	TableGenericParam:           {u16(), u16(), coded(codedTypeOrMethodDef), str()},
	TableMethodSpec:             {coded(codedMethodDefOrRef), blob()},
	TableGenericParamConstraint: {idx(TableGenericParam), coded(codedTypeDefOrRef)},
}

// Heap size flags from the #~ stream header.
const (
	heapStringsWide = 0x01
	heapGUIDWide    = 0x02
	heapBlobWide    = 0x04
	heapExtraData   = 0x40
)

// layout holds the computed column widths for a given set of row counts.
type layout struct {
	rows    [numTables]uint32
	widths  [numTables][]int
	offsets [numTables][]int
	rowSize [numTables]int
}

func newLayout(rows [numTables]uint32, heapSizes byte) *layout {
	l := &layout{rows: rows}
	for t := 0; t < numTables; t++ {
		cols := schema[t]
		l.widths[t] = make([]int, len(cols))
		l.offsets[t] = make([]int, len(cols))
		off := 0
		for i, c := range cols {
			w := l.columnWidth(c, heapSizes)
			l.widths[t][i] = w
			l.offsets[t][i] = off
			off += w
		}
		l.rowSize[t] = off
	}
	return l
}

func (l *layout) columnWidth(c colDef, heapSizes byte) int {
	switch c.kind {
	case colU16:
		return 2
	case colU32:
		return 4
	case colString:
		return heapWidth(heapSizes, heapStringsWide)
	case colGUID:
		return heapWidth(heapSizes, heapGUIDWide)
	case colBlob:
		return heapWidth(heapSizes, heapBlobWide)
	case colTable:
		if l.rows[c.ref] < 1<<16 {
			return 2
		}
		return 4
	case colCoded:
		ci := codedIndexes[c.ref]
		var maxRows uint32
		for _, t := range ci.tables {
			if t != noTable && l.rows[t] > maxRows {
				maxRows = l.rows[t]
			}
		}
		if maxRows < 1<<(16-ci.bits) {
			return 2
		}
		return 4
	}
	return 0
}

func heapWidth(heapSizes, flag byte) int {
	if heapSizes&flag != 0 {
		return 4
	}
	return 2
}
