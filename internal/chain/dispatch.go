package chain

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"nlo/internal/opserr"

	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// DispatchError variants that carry no module detail.
var dispatchVariants = map[string]bool{
	"Other":             true,
	"CannotLookup":      true,
	"BadOrigin":         true,
	"ConsumerRemaining": true,
	"NoProviders":       true,
	"TooManyConsumers":  true,
	"Token":             true,
	"Arithmetic":        true,
	"Transactional":     true,
	"Exhausted":         true,
	"Corruption":        true,
	"Unavailable":       true,
	"RootNotAllowed":    true,
}

type fault struct {
	module bool
	pallet uint8
	index  uint8
	name   string
}

type node struct {
	name  string
	value any
}

func (s *Substrate) dispatchError(fields registry.DecodedFields) *opserr.DispatchError {
	f, ok := findFault(fields)
	if !ok {
		return nil
	}
	if !f.module {
		return &opserr.DispatchError{Name: f.name}
	}
	var meta *types.Metadata
	if s != nil {
		meta = s.meta
	}
	return moduleError(meta, f.pallet, f.index)
}

func findFault(v any) (fault, bool) {
	kids := children(v)
	if pallet, ok := numberOf(kids, "index"); ok {
		if index, ok := errorByte(kids); ok {
			return fault{module: true, pallet: uint8(pallet), index: index}, true
		}
	}
	for _, k := range kids {
		if k.name == "Ok" {
			return fault{}, false
		}
		if dispatchVariants[k.name] {
			return fault{name: k.name}, true
		}
		if f, ok := findFault(k.value); ok {
			return f, true
		}
	}
	return fault{}, false
}

func children(v any) []node {
	var out []node
	switch t := v.(type) {
	case registry.DecodedFields:
		for _, f := range t {
			if f != nil {
				out = append(out, node{name: f.Name, value: f.Value})
			}
		}
	case *registry.DecodedField:
		if t != nil {
			out = append(out, node{name: t.Name, value: t.Value})
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, node{name: k, value: t[k]})
		}
	case []any:
		for _, item := range t {
			out = append(out, node{value: item})
		}
	}
	return out
}

func numberOf(kids []node, name string) (uint64, bool) {
	for _, k := range kids {
		if k.name == name {
			return toUint(k.value)
		}
	}
	return 0, false
}

// errorByte reads the error index, which is a single byte on older
// runtimes and the first byte of a 4 byte array on newer ones.
func errorByte(kids []node) (uint8, bool) {
	for _, k := range kids {
		if k.name != "error" {
			continue
		}
		if n, ok := toUint(k.value); ok {
			return uint8(n), true
		}
		rv := reflect.ValueOf(k.value)
		if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Len() > 0 {
			if n, ok := toUint(rv.Index(0).Interface()); ok {
				return uint8(n), true
			}
		}
	}
	return 0, false
}

func toUint(v any) (uint64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return 0, false
		}
		return uint64(rv.Int()), true
	case reflect.Float64:
		return uint64(rv.Float()), true
	}
	return 0, false
}

// moduleError resolves pallet and error names from the runtime metadata.
func moduleError(meta *types.Metadata, pallet, index uint8) *opserr.DispatchError {
	unresolved := &opserr.DispatchError{Name: fmt.Sprintf("Module { index: %d, error: %d }", pallet, index)}
	if meta == nil || !meta.IsMetadataV14 {
		return unresolved
	}
	for _, p := range meta.AsMetadataV14.Pallets {
		if uint8(p.Index) != pallet || !p.HasErrors {
			continue
		}
		typeID := p.Errors.Type.Int64()
		for _, t := range meta.AsMetadataV14.Lookup.Types {
			if t.ID.Int64() != typeID || !t.Type.Def.IsVariant {
				continue
			}
			for _, v := range t.Type.Def.Variant.Variants {
				if uint8(v.Index) != index {
					continue
				}
				docs := make([]string, 0, len(v.Docs))
				for _, d := range v.Docs {
					docs = append(docs, strings.TrimSpace(string(d)))
				}
				return &opserr.DispatchError{
					Module: string(p.Name),
					Name:   string(v.Name),
					Docs:   strings.Join(docs, " "),
				}
			}
		}
		return &opserr.DispatchError{Module: string(p.Name), Name: fmt.Sprintf("error %d", index)}
	}
	return unresolved
}
