package metadata

import (
	"bytes"
	"debug/pe"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/wippyai/wasm-tuner/errors"
	"github.com/wippyai/wasm-tuner/metadata/internal/binary"
)

const (
	metadataSignature = 0x424A5342 // "BSJB"
	cliHeaderSize     = 72
)

// Image is a parsed managed module: a PE file carrying ECMA-335 metadata.
// An Image is immutable after Read returns.
type Image struct {
	heaps        heaps
	path         string
	Version      string // runtime version string from the metadata root
	tablesData   []byte
	tableOffsets [numTables]int
	layout       *layout
	methodOwner  []uint32 // MethodDef row -> TypeDef row (index 0 unused)
	enclosing    map[uint32]uint32
	implMap      map[uint32]uint32 // MethodDef row -> ImplMap row
	methodPtr    bool
}

type heaps struct {
	strings []byte
	blob    []byte
	guid    []byte
}

// Open reads and parses the module at path.
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load(path, err)
	}
	return Read(path, data)
}

// Read parses a module from memory. name is used in error messages only.
func Read(name string, data []byte) (*Image, error) {
	img := &Image{path: name}
	if err := img.parse(data); err != nil {
		return nil, errors.ParseFailed(name, err)
	}
	return img, nil
}

// Path returns the name the image was opened with.
func (img *Image) Path() string {
	return img.path
}

// Rows returns the row count of table t.
func (img *Image) Rows(t TableID) int {
	return int(img.layout.rows[t])
}

func (img *Image) parse(data []byte) error {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer f.Close()

	var dirs [16]pe.DataDirectory
	var ndirs uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		dirs, ndirs = oh.DataDirectory, oh.NumberOfRvaAndSizes
	case *pe.OptionalHeader64:
		dirs, ndirs = oh.DataDirectory, oh.NumberOfRvaAndSizes
	default:
		return stderrors.New("missing optional header")
	}
	if ndirs <= pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR {
		return stderrors.New("no CLI header directory")
	}
	cliDir := dirs[pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR]
	if cliDir.VirtualAddress == 0 || cliDir.Size < cliHeaderSize {
		return stderrors.New("not a managed module (empty CLI header directory)")
	}

	cli, err := sliceRVA(f, data, cliDir.VirtualAddress, cliHeaderSize)
	if err != nil {
		return fmt.Errorf("CLI header: %w", err)
	}
	r := binary.NewReader(cli)
	_ = r.Skip(8) // cb, MajorRuntimeVersion, MinorRuntimeVersion
	metaRVA, _ := r.ReadU32()
	metaSize, _ := r.ReadU32()

	meta, err := sliceRVA(f, data, metaRVA, metaSize)
	if err != nil {
		return fmt.Errorf("metadata root: %w", err)
	}
	return img.parseRoot(meta)
}

// sliceRVA maps an RVA range to the file bytes backing it.
func sliceRVA(f *pe.File, data []byte, rva, size uint32) ([]byte, error) {
	for _, s := range f.Sections {
		span := s.VirtualSize
		if s.Size > span {
			span = s.Size
		}
		if rva < s.VirtualAddress || rva >= s.VirtualAddress+span {
			continue
		}
		off := uint64(s.Offset) + uint64(rva-s.VirtualAddress)
		end := off + uint64(size)
		if end > uint64(len(data)) || uint64(rva-s.VirtualAddress)+uint64(size) > uint64(s.Size) {
			return nil, fmt.Errorf("rva %#x+%#x outside section %s", rva, size, s.Name)
		}
		return data[off:end], nil
	}
	return nil, fmt.Errorf("rva %#x not mapped by any section", rva)
}

func (img *Image) parseRoot(meta []byte) error {
	r := binary.NewReader(meta)
	sig, err := r.ReadU32()
	if err != nil {
		return r.WrapError("root", err)
	}
	if sig != metadataSignature {
		return r.WrapError("root", fmt.Errorf("bad signature %#x", sig))
	}
	if err := r.Skip(8); err != nil { // MajorVersion, MinorVersion, Reserved
		return r.WrapError("root", err)
	}
	vlen, err := r.ReadU32()
	if err != nil {
		return r.WrapError("root", err)
	}
	vbytes, err := r.ReadBytes(int(vlen))
	if err != nil {
		return r.WrapError("root", err)
	}
	img.Version = string(bytes.TrimRight(vbytes, "\x00"))
	if err := r.Skip(2); err != nil { // Flags
		return r.WrapError("root", err)
	}
	nstreams, err := r.ReadU16()
	if err != nil {
		return r.WrapError("root", err)
	}

	var tables []byte
	for i := 0; i < int(nstreams); i++ {
		off, err := r.ReadU32()
		if err != nil {
			return r.WrapError("stream header", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return r.WrapError("stream header", err)
		}
		name, err := r.ReadCString()
		if err != nil {
			return r.WrapError("stream header", err)
		}
		if err := r.Align4(); err != nil {
			return r.WrapError("stream header", err)
		}
		if uint64(off)+uint64(size) > uint64(len(meta)) {
			return r.WrapError("stream header", fmt.Errorf("stream %s exceeds metadata", name))
		}
		body := meta[off : off+size]
		switch name {
		case "#~", "#-":
			tables = body
			img.methodPtr = name == "#-"
		case "#Strings":
			img.heaps.strings = body
		case "#Blob":
			img.heaps.blob = body
		case "#GUID":
			img.heaps.guid = body
		}
	}
	if tables == nil {
		return stderrors.New("missing #~ stream")
	}
	return img.parseTables(tables)
}

func (img *Image) parseTables(data []byte) error {
	r := binary.NewReader(data)
	if err := r.Skip(6); err != nil { // Reserved, MajorVersion, MinorVersion
		return r.WrapError("#~", err)
	}
	heapSizes, err := r.ReadByte()
	if err != nil {
		return r.WrapError("#~", err)
	}
	if err := r.Skip(1); err != nil {
		return r.WrapError("#~", err)
	}
	valid, err := r.ReadU64()
	if err != nil {
		return r.WrapError("#~", err)
	}
	if _, err := r.ReadU64(); err != nil { // Sorted
		return r.WrapError("#~", err)
	}
	if valid>>numTables != 0 {
		return r.WrapError("#~", fmt.Errorf("unsupported tables present (valid mask %#x)", valid))
	}

	var rows [numTables]uint32
	for t := 0; t < numTables; t++ {
		if valid&(1<<t) == 0 {
			continue
		}
		n, err := r.ReadU32()
		if err != nil {
			return r.WrapError("#~ rows", err)
		}
		rows[t] = n
	}
	if heapSizes&heapExtraData != 0 {
		if err := r.Skip(4); err != nil {
			return r.WrapError("#~", err)
		}
	}

	img.layout = newLayout(rows, heapSizes)
	off := r.Position()
	for t := 0; t < numTables; t++ {
		img.tableOffsets[t] = off
		off += int(rows[t]) * img.layout.rowSize[t]
	}
	if off > len(data) {
		return r.WrapError("#~", fmt.Errorf("table data truncated: need %d bytes, have %d", off, len(data)))
	}
	img.tablesData = data

	if err := img.indexMethods(); err != nil {
		return err
	}
	return img.indexImplMap()
}

// cell reads column col of 1-based row in table t.
func (img *Image) cell(t TableID, row uint32, col int) uint32 {
	l := img.layout
	pos := img.tableOffsets[t] + int(row-1)*l.rowSize[t] + l.offsets[t][col]
	r := binary.NewReader(img.tablesData[pos : pos+l.widths[t][col]])
	v, _ := r.ReadIndex(l.widths[t][col])
	return v
}

// checkRow validates a 1-based row reference into table t.
func (img *Image) checkRow(t TableID, row uint32) error {
	if row == 0 || row > img.layout.rows[t] {
		return errors.OutOfBounds(errors.PhaseParse, []string{t.String()}, int(row), int(img.layout.rows[t]))
	}
	return nil
}

// String returns the #Strings heap entry at index.
func (img *Image) String(index uint32) (string, error) {
	if int(index) >= len(img.heaps.strings) {
		if index == 0 {
			return "", nil
		}
		return "", errors.OutOfBounds(errors.PhaseParse, []string{"#Strings"}, int(index), len(img.heaps.strings))
	}
	r := binary.NewReader(img.heaps.strings)
	_ = r.Seek(int(index))
	return r.ReadCString()
}

// Blob returns the #Blob heap entry at index.
func (img *Image) Blob(index uint32) ([]byte, error) {
	if index == 0 {
		return nil, nil
	}
	r := binary.NewReader(img.heaps.blob)
	if err := r.Seek(int(index)); err != nil {
		return nil, errors.OutOfBounds(errors.PhaseParse, []string{"#Blob"}, int(index), len(img.heaps.blob))
	}
	n, err := r.ReadCompressedU32()
	if err != nil {
		return nil, r.WrapError("#Blob", err)
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, r.WrapError("#Blob", err)
	}
	return b, nil
}

// GUID returns the 1-based #GUID heap entry.
func (img *Image) GUID(index uint32) ([16]byte, error) {
	var g [16]byte
	if index == 0 {
		return g, nil
	}
	start := int(index-1) * 16
	if start+16 > len(img.heaps.guid) {
		return g, errors.OutOfBounds(errors.PhaseParse, []string{"#GUID"}, int(index), len(img.heaps.guid)/16)
	}
	copy(g[:], img.heaps.guid[start:start+16])
	return g, nil
}

// resolveList follows a Ptr indirection table when the image uses the #- stream.
func (img *Image) resolveList(ptr TableID, row uint32) uint32 {
	if img.methodPtr && img.layout.rows[ptr] > 0 && row >= 1 && row <= img.layout.rows[ptr] {
		return img.cell(ptr, row, 0)
	}
	return row
}

// indexMethods records the declaring TypeDef of every MethodDef row.
func (img *Image) indexMethods() error {
	nmethods := img.layout.rows[TableMethodDef]
	listRows := nmethods
	if img.methodPtr && img.layout.rows[TableMethodPtr] > 0 {
		listRows = img.layout.rows[TableMethodPtr]
	}
	img.methodOwner = make([]uint32, nmethods+1)

	ntypes := img.layout.rows[TableTypeDef]
	for t := uint32(1); t <= ntypes; t++ {
		start := img.cell(TableTypeDef, t, 5)
		end := listRows + 1
		if t < ntypes {
			end = img.cell(TableTypeDef, t+1, 5)
		}
		if start == 0 || start > end || end > listRows+1 {
			return errors.New(errors.PhaseParse, errors.KindInvalidData).
				Path("TypeDef", fmt.Sprint(t), "MethodList").
				Detail("method list %d..%d outside 1..%d", start, end, listRows+1).
				Build()
		}
		for i := start; i < end; i++ {
			m := img.resolveList(TableMethodPtr, i)
			if m == 0 || m > nmethods {
				return errors.OutOfBounds(errors.PhaseParse, []string{"MethodPtr"}, int(m), int(nmethods))
			}
			img.methodOwner[m] = t
		}
	}

	img.enclosing = make(map[uint32]uint32, img.layout.rows[TableNestedClass])
	for i := uint32(1); i <= img.layout.rows[TableNestedClass]; i++ {
		nested := img.cell(TableNestedClass, i, 0)
		outer := img.cell(TableNestedClass, i, 1)
		if err := img.checkRow(TableTypeDef, nested); err != nil {
			return err
		}
		if err := img.checkRow(TableTypeDef, outer); err != nil {
			return err
		}
		img.enclosing[nested] = outer
	}
	return nil
}

func (img *Image) indexImplMap() error {
	ci := codedIndexes[codedMemberForwarded]
	img.implMap = make(map[uint32]uint32, img.layout.rows[TableImplMap])
	for i := uint32(1); i <= img.layout.rows[TableImplMap]; i++ {
		t, row := ci.decode(img.cell(TableImplMap, i, 1))
		if t != TableMethodDef {
			continue
		}
		if err := img.checkRow(TableMethodDef, row); err != nil {
			return err
		}
		img.implMap[row] = i
	}
	return nil
}
