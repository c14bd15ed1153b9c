package icall

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-tuner/errors"
	"github.com/wippyai/wasm-tuner/scan"
)

// indexClass is one class entry of the runtime's icall table document.
type indexClass struct {
	Klass  string       `json:"klass" msgpack:"klass"`
	Icalls []indexEntry `json:"icalls" msgpack:"icalls"`
}

type indexEntry struct {
	Name    string `json:"name" msgpack:"name"`
	Func    string `json:"func" msgpack:"func"`
	Handles bool   `json:"handles" msgpack:"handles"`
}

// Index maps "Namespace.Type" and method key to the implementing C function.
type Index struct {
	classes map[string]map[string]scan.Entry
	count   int
}

// LoadIndex reads an index file. Files ending in .msgpack or .mpk are
// decoded as MessagePack, everything else as JSON.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load(path, err)
	}
	var ix *Index
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk":
		ix, err = ParseMsgpack(data)
	default:
		ix, err = ParseJSON(data)
	}
	if err != nil {
		if e, ok := err.(*errors.Error); ok {
			e.File = path
		}
		return nil, err
	}
	Logger().Debug("loaded icall index", zap.String("path", path), zap.Int("entries", ix.Len()))
	return ix, nil
}

// ParseJSON decodes the JSON form of the index.
func ParseJSON(data []byte) (*Index, error) {
	var doc []indexClass
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "decode icall index")
	}
	return newIndex(doc)
}

// ParseMsgpack decodes the MessagePack form of the index.
func ParseMsgpack(data []byte) (*Index, error) {
	var doc []indexClass
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "decode icall index")
	}
	return newIndex(doc)
}

func newIndex(doc []indexClass) (*Index, error) {
	ix := &Index{classes: make(map[string]map[string]scan.Entry, len(doc))}
	for _, c := range doc {
		if c.Klass == "" {
			return nil, errors.InvalidData(errors.PhaseLoad, []string{"klass"}, "empty class name")
		}
		methods, ok := ix.classes[c.Klass]
		if !ok {
			methods = make(map[string]scan.Entry, len(c.Icalls))
			ix.classes[c.Klass] = methods
		}
		for _, ic := range c.Icalls {
			if ic.Name == "" || ic.Func == "" {
				return nil, errors.InvalidData(errors.PhaseLoad, []string{c.Klass, ic.Name},
					"icall entry needs both name and func")
			}
			if _, dup := methods[ic.Name]; dup {
				continue
			}
			methods[ic.Name] = scan.Entry{Func: ic.Func, Handles: ic.Handles}
			ix.count++
		}
	}
	return ix, nil
}

// Resolve implements scan.Resolver.
func (ix *Index) Resolve(typeName, method string) (scan.Entry, bool) {
	e, ok := ix.classes[typeName][method]
	return e, ok
}

// Len returns the number of distinct entries.
func (ix *Index) Len() int {
	return ix.count
}

// Msgpack encodes the index in its MessagePack form with classes and
// entries sorted by name.
func (ix *Index) Msgpack() ([]byte, error) {
	return msgpack.Marshal(ix.document())
}

func (ix *Index) document() []indexClass {
	klasses := make([]string, 0, len(ix.classes))
	for k := range ix.classes {
		klasses = append(klasses, k)
	}
	slices.Sort(klasses)

	doc := make([]indexClass, 0, len(klasses))
	for _, k := range klasses {
		names := make([]string, 0, len(ix.classes[k]))
		for n := range ix.classes[k] {
			names = append(names, n)
		}
		slices.Sort(names)
		c := indexClass{Klass: k, Icalls: make([]indexEntry, 0, len(names))}
		for _, n := range names {
			e := ix.classes[k][n]
			c.Icalls = append(c.Icalls, indexEntry{Name: n, Func: e.Func, Handles: e.Handles})
		}
		doc = append(doc, c)
	}
	return doc
}
