package metadata

import (
	"fmt"
	"strings"
)

// TypeName identifies a type definition or reference by namespace and name.
// Nested types carry their enclosing type.
type TypeName struct {
	Enclosing *TypeName
	Namespace string
	Name      string
}

// FullName renders the name the way the runtime keys its internal call
// table: "Namespace.Name", nested types as "Namespace.Outer/Inner".
func (t TypeName) FullName() string {
	if t.Enclosing != nil {
		return t.Enclosing.FullName() + "/" + t.Name
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

func (t TypeName) String() string {
	return t.FullName()
}

// TypeDefName returns the name of TypeDef row.
func (img *Image) TypeDefName(row uint32) (TypeName, error) {
	return img.typeDefName(row, 0)
}

func (img *Image) typeDefName(row uint32, depth int) (TypeName, error) {
	if err := img.checkRow(TableTypeDef, row); err != nil {
		return TypeName{}, err
	}
	if depth > 64 {
		return TypeName{}, fmt.Errorf("typedef %d: nesting too deep", row)
	}
	name, err := img.String(img.cell(TableTypeDef, row, 1))
	if err != nil {
		return TypeName{}, err
	}
	ns, err := img.String(img.cell(TableTypeDef, row, 2))
	if err != nil {
		return TypeName{}, err
	}
	tn := TypeName{Namespace: ns, Name: name}
	if outer, ok := img.enclosing[row]; ok {
		o, err := img.typeDefName(outer, depth+1)
		if err != nil {
			return TypeName{}, err
		}
		tn.Enclosing = &o
	}
	return tn, nil
}

// TypeRefName returns the name of TypeRef row.
func (img *Image) TypeRefName(row uint32) (TypeName, error) {
	return img.typeRefName(row, 0)
}

func (img *Image) typeRefName(row uint32, depth int) (TypeName, error) {
	if err := img.checkRow(TableTypeRef, row); err != nil {
		return TypeName{}, err
	}
	if depth > 64 {
		return TypeName{}, fmt.Errorf("typeref %d: nesting too deep", row)
	}
	name, err := img.String(img.cell(TableTypeRef, row, 1))
	if err != nil {
		return TypeName{}, err
	}
	ns, err := img.String(img.cell(TableTypeRef, row, 2))
	if err != nil {
		return TypeName{}, err
	}
	tn := TypeName{Namespace: ns, Name: name}
	scope, srow := codedIndexes[codedResolutionScope].decode(img.cell(TableTypeRef, row, 0))
	if scope == TableTypeRef && srow != 0 {
		o, err := img.typeRefName(srow, depth+1)
		if err != nil {
			return TypeName{}, err
		}
		tn.Enclosing = &o
	}
	return tn, nil
}

// typeDefOrRefName resolves a TypeDefOrRef row reference. TypeSpecs are
// decoded and rendered by their signature.
func (img *Image) typeDefOrRefName(t TableID, row uint32, depth int) (TypeName, error) {
	switch t {
	case TableTypeDef:
		return img.TypeDefName(row)
	case TableTypeRef:
		return img.TypeRefName(row)
	case TableTypeSpec:
		if err := img.checkRow(TableTypeSpec, row); err != nil {
			return TypeName{}, err
		}
		b, err := img.Blob(img.cell(TableTypeSpec, row, 0))
		if err != nil {
			return TypeName{}, err
		}
		ts, err := img.decodeTypeBlob(b, depth+1)
		if err != nil {
			return TypeName{}, err
		}
		return TypeName{Namespace: ts.Namespace, Name: ts.Name()}, nil
	}
	return TypeName{}, fmt.Errorf("invalid TypeDefOrRef table %s", t)
}

// Assembly describes the Assembly table row of a module.
type Assembly struct {
	Name    string
	Culture string
	Version [4]uint16
}

// VersionString renders the version as "major.minor.build.revision".
func (a Assembly) VersionString() string {
	parts := make([]string, 4)
	for i, v := range a.Version {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ".")
}

// Assembly returns the assembly identity. ok is false for modules
// without an Assembly row (netmodules).
func (img *Image) Assembly() (asm Assembly, ok bool, err error) {
	if img.layout.rows[TableAssembly] == 0 {
		return Assembly{}, false, nil
	}
	for i := 0; i < 4; i++ {
		asm.Version[i] = uint16(img.cell(TableAssembly, 1, 1+i))
	}
	if asm.Name, err = img.String(img.cell(TableAssembly, 1, 7)); err != nil {
		return Assembly{}, false, err
	}
	if asm.Culture, err = img.String(img.cell(TableAssembly, 1, 8)); err != nil {
		return Assembly{}, false, err
	}
	return asm, true, nil
}

// ModuleName returns the name recorded in the Module table.
func (img *Image) ModuleName() (string, error) {
	if img.layout.rows[TableModule] == 0 {
		return "", nil
	}
	return img.String(img.cell(TableModule, 1, 1))
}

// ModuleVersionID returns the module MVID.
func (img *Image) ModuleVersionID() ([16]byte, error) {
	if img.layout.rows[TableModule] == 0 {
		return [16]byte{}, nil
	}
	return img.GUID(img.cell(TableModule, 1, 2))
}

// AssemblyName returns the assembly name, falling back to the module name.
func (img *Image) AssemblyName() (string, error) {
	asm, ok, err := img.Assembly()
	if err != nil {
		return "", err
	}
	if ok {
		return asm.Name, nil
	}
	name, err := img.ModuleName()
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(name, ".dll"), ".exe"), nil
}
