// Package digest computes structural schema fingerprints for message types.
//
// A fingerprint depends only on field names, field types, nesting and (normalised)
// ordering, never on the Go type name, so independently compiled senders and receivers
// agree on it without negotiation.
package digest

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/multiformats/go-multihash"
)

const (
	// ModelPrefix tags message schema digests.
	ModelPrefix = "model:"
	// ProtocolPrefix tags protocol manifest digests.
	ProtocolPrefix = "proto:"
)

// Digest is a prefixed hex sha2-256 fingerprint.
type Digest string

// Hex returns the digest without its prefix.
func (d Digest) Hex() string {
	s := string(d)
	if i := strings.Index(s, ":"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Multihash returns the sha2-256 multihash encoding of d.
func (d Digest) Multihash() (multihash.Multihash, error) {
	raw, err := hex.DecodeString(d.Hex())
	if err != nil {
		return nil, fmt.Errorf("digest: invalid hex in %q: %w", d, err)
	}
	return multihash.Encode(raw, multihash.SHA2_256)
}

var cache sync.Map // reflect.Type -> Digest

// Of returns the fingerprint of v's dynamic type. Pointers are dereferenced so that
// T and *T share a fingerprint.
func Of(v interface{}) Digest {
	return ForType(reflect.TypeOf(v))
}

// ForType returns the cached fingerprint of t.
func ForType(t reflect.Type) Digest {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if d, ok := cache.Load(t); ok {
		return d.(Digest)
	}
	d := Digest(ModelPrefix + sum(Schema(t)))
	cache.Store(t, d)
	return d
}

// Schema returns the canonical structural schema text of t.
func Schema(t reflect.Type) string {
	var b strings.Builder
	writeSchema(&b, t, map[reflect.Type]bool{})
	return b.String()
}

func sum(s string) string {
	mh, err := multihash.Sum([]byte(s), multihash.SHA2_256, -1)
	if err != nil {
		// sha2-256 with default length cannot fail.
		panic(fmt.Sprintf("digest: multihash sum: %v", err))
	}
	dec, err := multihash.Decode(mh)
	if err != nil {
		panic(fmt.Sprintf("digest: multihash decode: %v", err))
	}
	return hex.EncodeToString(dec.Digest)
}

func writeSchema(b *strings.Builder, t reflect.Type, visiting map[reflect.Type]bool) {
	if t == nil {
		b.WriteString("null")
		return
	}
	if t.PkgPath() == "time" && t.Name() == "Time" {
		b.WriteString("date-time")
		return
	}
	if t.PkgPath() == "time" && t.Name() == "Duration" {
		b.WriteString("integer")
		return
	}
	switch t.Kind() {
	case reflect.Bool:
		b.WriteString("boolean")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString("integer")
	case reflect.Float32, reflect.Float64:
		b.WriteString("number")
	case reflect.String:
		b.WriteString("string")
	case reflect.Pointer:
		writeSchema(b, t.Elem(), visiting)
		b.WriteString("?")
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			b.WriteString("bytes")
			return
		}
		b.WriteString("[")
		writeSchema(b, t.Elem(), visiting)
		b.WriteString("]")
	case reflect.Array:
		fmt.Fprintf(b, "[%d]", t.Len())
		writeSchema(b, t.Elem(), visiting)
	case reflect.Map:
		b.WriteString("{")
		writeSchema(b, t.Key(), visiting)
		b.WriteString(":")
		writeSchema(b, t.Elem(), visiting)
		b.WriteString("}")
	case reflect.Interface:
		b.WriteString("any")
	case reflect.Struct:
		if visiting[t] {
			b.WriteString("#ref")
			return
		}
		visiting[t] = true
		fields := collectFields(t, nil)
		sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })
		b.WriteString("(")
		for i, f := range fields {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(f.name)
			b.WriteString(":")
			writeSchema(b, f.typ, visiting)
		}
		b.WriteString(")")
		delete(visiting, t)
	default:
		// chan, func and unsafe pointers have no wire form.
		panic(fmt.Sprintf("digest: type %s has no schema", t))
	}
}

type field struct {
	name string
	typ  reflect.Type
}

// collectFields returns the JSON-visible fields of t, flattening embedded structs the
// way encoding/json does.
func collectFields(t reflect.Type, out []field) []field {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				out = collectFields(ft, out)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		out = append(out, field{name: name, typ: sf.Type})
	}
	return out
}

// Protocol returns the digest of a protocol manifest: its name, version, the message
// digests it accepts and, per message, the digests it may reply with.
func Protocol(name, version string, models []Digest, replies map[Digest][]Digest) Digest {
	sorted := append([]Digest(nil), models...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var b strings.Builder
	fmt.Fprintf(&b, "%s@%s;", name, version)
	for _, m := range sorted {
		b.WriteString(string(m))
		rs := append([]Digest(nil), replies[m]...)
		sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })
		b.WriteString("->[")
		for i, r := range rs {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(string(r))
		}
		b.WriteString("];")
	}
	return Digest(ProtocolPrefix + sum(b.String()))
}
