package hub

import (
	"unsafe"

	"github.com/pylabhub/hub/schema"
)

// TypedProducer is a generics convenience over Producer for a Go struct
// record type T (spec §4.1's schema path, but with the BLDS descriptor
// derived by reflection instead of authored by hand — see
// SPEC_FULL.md's "Generic payload encoding" addition). T must be a
// trivially-copyable struct: no pointers, slices, maps, or interfaces.
type TypedProducer[T any] struct {
	*Producer
}

// CreateTypedProducer creates a channel sized for T and registers T's
// derived BLDS hash as the data-block schema.
func CreateTypedProducer[T any](name string, slotCount, flexZoneSize uint64, tun Tunables) (*TypedProducer[T], error) {
	d := schema.Of[T]()
	cfg := ChannelConfig{
		SlotCount:           slotCount,
		SlotSize:            uint64(d.RecordSize),
		FlexibleZoneSize:    flexZoneSize,
		SchemaValidation:    true,
		DataBlockSchemaHash: d.Hash(),
	}
	p, err := CreateProducer(name, cfg, tun)
	if err != nil {
		return nil, err
	}
	return &TypedProducer[T]{Producer: p}, nil
}

// WithWriteRecord acquires a slot, hands fn a *T view over its payload
// bytes, and commits on success.
func (tp *TypedProducer[T]) WithWriteRecord(fn func(rec *T) error) error {
	return tp.WithWriteSlot(func(w *WriteHandle) error {
		return fn(recordView[T](w.Payload()))
	})
}

// TypedConsumer is the generics counterpart to TypedProducer.
type TypedConsumer[T any] struct {
	*Consumer
}

// FindTypedConsumer attaches to a channel expecting T's derived schema.
func FindTypedConsumer[T any](name string, secret uint64, slotCount, flexZoneSize uint64, tun Tunables) (*TypedConsumer[T], error) {
	d := schema.Of[T]()
	cfg := ChannelConfig{
		SlotCount:        slotCount,
		SlotSize:         uint64(d.RecordSize),
		FlexibleZoneSize: flexZoneSize,
	}
	expect := ExpectedSchema{DataBlockHash: d.Hash()}
	c, err := FindConsumer(name, secret, expect, cfg, tun)
	if err != nil {
		return nil, err
	}
	return &TypedConsumer[T]{Consumer: c}, nil
}

// AcquireLatestRecord reads the latest record as a *T. The returned
// handle must still be released (and may be validated) by the caller;
// the *T view aliases the handle's Payload and is invalid after Release.
func (tc *TypedConsumer[T]) AcquireLatestRecord(timeoutMS int64) (*T, *ReadHandle, error) {
	rh, err := tc.AcquireLatest(timeoutMS)
	if err != nil {
		return nil, nil, err
	}
	return recordView[T](rh.Payload), rh, nil
}

func recordView[T any](payload []byte) *T {
	if len(payload) < int(unsafe.Sizeof(*new(T))) {
		panic("hub: slot payload smaller than record type")
	}
	return (*T)(unsafe.Pointer(&payload[0]))
}
