// Package schema describes the layout of a fixed-size record type and
// computes its BLDS hash — the compatibility token spec §4.1 requires
// producers and consumers to agree on byte-for-byte before a consumer
// may attach to a channel.
package schema

import (
	"encoding/binary"
	"reflect"

	"github.com/pylabhub/hub/hashsum"
)

// TypeTag identifies a field's primitive wire type. It is part of the
// BLDS hash input, so these values are an ABI surface: never renumber
// an existing tag, only append.
type TypeTag uint8

const (
	TypeUnknown TypeTag = iota
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeBytes // fixed-size byte array
)

// Field is one entry in a schema's ordered field list.
type Field struct {
	Name   string
	Offset uint32
	Size   uint32
	Type   TypeTag
}

// Descriptor is the full schema of one record type.
type Descriptor struct {
	Version    uint16
	RecordSize uint32
	Alignment  uint32
	Fields     []Field
}

// Hash computes the 32-byte BLDS hash per spec §4.1: BLAKE2b-256 over
//
//	version || record_size || alignment || Σ(len(name) || name || offset || size || type_tag)
//
// Two descriptors hash equally iff they describe byte-identical layouts
// with identical field names in identical order.
func (d Descriptor) Hash() [hashsum.Size]byte {
	buf := make([]byte, 0, 16+64*len(d.Fields))

	var u16 [2]byte
	var u32 [4]byte

	binary.LittleEndian.PutUint16(u16[:], d.Version)
	buf = append(buf, u16[:]...)
	binary.LittleEndian.PutUint32(u32[:], d.RecordSize)
	buf = append(buf, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], d.Alignment)
	buf = append(buf, u32[:]...)

	for _, f := range d.Fields {
		binary.LittleEndian.PutUint32(u32[:], uint32(len(f.Name)))
		buf = append(buf, u32[:]...)
		buf = append(buf, f.Name...)
		binary.LittleEndian.PutUint32(u32[:], f.Offset)
		buf = append(buf, u32[:]...)
		binary.LittleEndian.PutUint32(u32[:], f.Size)
		buf = append(buf, u32[:]...)
		buf = append(buf, byte(f.Type))
	}

	return hashsum.Sum(buf)
}

// ZeroHash is the all-zero 32-byte value spec §4.1 defines as the
// non-schema attach path: both stored header hashes are zero, and
// attach falls back to comparing only slot_size/flexible_zone_size.
var ZeroHash [hashsum.Size]byte

// IsZero reports whether a stored hash is the non-schema sentinel.
func IsZero(h [hashsum.Size]byte) bool {
	return h == ZeroHash
}

var kindTag = map[reflect.Kind]TypeTag{
	reflect.Int8:    TypeInt8,
	reflect.Int16:   TypeInt16,
	reflect.Int32:   TypeInt32,
	reflect.Int64:   TypeInt64,
	reflect.Uint8:   TypeUint8,
	reflect.Uint16:  TypeUint16,
	reflect.Uint32:  TypeUint32,
	reflect.Uint64:  TypeUint64,
	reflect.Float32: TypeFloat32,
	reflect.Float64: TypeFloat64,
}

// Of derives a Descriptor from a Go struct type T by reflection, so a
// Go producer never has to author a Field literal by hand (spec §4.1's
// manual path remains available for polyglot producers via Descriptor
// literals). Only trivially-copyable fields are supported: integers,
// floats, and fixed-size byte arrays ([N]byte). Embedded structs,
// pointers, slices, maps, and interfaces panic — none of those have a
// stable wire representation across processes.
func Of[T any]() Descriptor {
	var zero T
	t := reflect.TypeOf(zero)
	if t.Kind() != reflect.Struct {
		panic("schema: Of requires a struct type")
	}

	d := Descriptor{
		Version:    1,
		RecordSize: uint32(t.Size()),
		Alignment:  uint32(t.Align()),
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, size := fieldTag(sf.Type)
		d.Fields = append(d.Fields, Field{
			Name:   sf.Name,
			Offset: uint32(sf.Offset),
			Size:   size,
			Type:   tag,
		})
	}

	return d
}

func fieldTag(t reflect.Type) (TypeTag, uint32) {
	if t.Kind() == reflect.Array && t.Elem().Kind() == reflect.Uint8 {
		return TypeBytes, uint32(t.Len())
	}
	tag, ok := kindTag[t.Kind()]
	if !ok {
		panic("schema: unsupported field kind " + t.Kind().String())
	}
	return tag, uint32(t.Size())
}
