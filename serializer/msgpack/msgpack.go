// Package msgpack provides a MessagePack payload serializer.
//
// MessagePack produces smaller records than JSON, which matters when a
// ledger holds years of provenance history. The kind registry is the
// same closed vocabulary the JSON serializer uses: deserializing an
// unregistered kind is an error, never a map fallback.
//
// Basic usage:
//
//	serializer := msgpack.NewSerializer()
//	journal := cacaotrail.New(store, cacaotrail.WithSerializer(serializer))
package msgpack

import (
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cacaotrail/cacaotrail"
)

// Serializer is a MessagePack implementation of cacaotrail.Serializer.
type Serializer struct {
	registry *cacaotrail.KindRegistry
}

// NewSerializer creates a Serializer with the provenance vocabulary
// registered.
func NewSerializer() *Serializer {
	return &Serializer{registry: cacaotrail.NewKindRegistry()}
}

// NewSerializerWithRegistry creates a Serializer with the given registry.
func NewSerializerWithRegistry(registry *cacaotrail.KindRegistry) *Serializer {
	if registry == nil {
		registry = cacaotrail.NewKindRegistry()
	}
	return &Serializer{registry: registry}
}

// Registry returns the underlying kind registry.
func (s *Serializer) Registry() *cacaotrail.KindRegistry {
	return s.registry
}

// Serialize converts a payload to MessagePack bytes.
func (s *Serializer) Serialize(payload interface{}) ([]byte, error) {
	if payload == nil {
		return nil, cacaotrail.NewSerializationError("nil", "serialize", fmt.Errorf("payload cannot be nil"))
	}

	data, err := msgpack.Marshal(payload)
	if err != nil {
		kind := reflect.TypeOf(payload).Name()
		return nil, cacaotrail.NewSerializationError(kind, "serialize", err)
	}

	return data, nil
}

// Deserialize converts MessagePack bytes back to a payload of the
// registered type. An unregistered kind is rejected.
func (s *Serializer) Deserialize(data []byte, kind string) (interface{}, error) {
	if len(data) == 0 {
		return nil, cacaotrail.NewSerializationError(kind, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	t, ok := s.registry.Lookup(kind)
	if !ok {
		return nil, &cacaotrail.UnknownEventKindError{Kind: kind}
	}

	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, cacaotrail.NewSerializationError(kind, "deserialize", err)
	}

	return ptr.Elem().Interface(), nil
}
