package cacaotrail

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Serializer handles event payload serialization and deserialization.
type Serializer interface {
	// Serialize converts a payload to bytes.
	Serialize(payload interface{}) ([]byte, error)

	// Deserialize converts bytes back to a payload.
	// The kind selects the target type.
	Deserialize(data []byte, kind string) (interface{}, error)
}

// KindRegistry maps event kind names to Go types.
// The provenance vocabulary is closed: deserializing an unregistered
// kind is an error, never a silent fallback.
type KindRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewKindRegistry creates a registry pre-loaded with the provenance
// vocabulary.
func NewKindRegistry() *KindRegistry {
	r := &KindRegistry{
		types: make(map[string]reflect.Type),
	}
	r.Register(KindBatchHarvested, BatchHarvested{})
	r.Register(KindQualityChecked, QualityChecked{})
	r.Register(KindProductComposed, ProductComposed{})
	r.Register(KindOwnershipTransferred, OwnershipTransferred{})
	r.Register(KindShipped, Shipped{})
	r.Register(KindSold, Sold{})
	r.Register(KindManufacturerRegistered, ManufacturerRegistered{})
	r.Register(KindSupplierRegistered, SupplierRegistered{})
	return r
}

// NewEmptyKindRegistry creates a registry with no kinds registered.
func NewEmptyKindRegistry() *KindRegistry {
	return &KindRegistry{
		types: make(map[string]reflect.Type),
	}
}

// Register adds a mapping from kind to the Go type of the example.
// The example should be a value (not a pointer) of the payload type.
func (r *KindRegistry) Register(kind string, example interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := reflect.TypeOf(example)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.types[kind] = t
}

// Lookup returns the Go type for the given kind.
// Returns nil and false if the kind is not registered.
func (r *KindRegistry) Lookup(kind string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[kind]
	return t, ok
}

// RegisteredKinds returns a slice of all registered kind names.
func (r *KindRegistry) RegisteredKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.types))
	for k := range r.types {
		kinds = append(kinds, k)
	}
	return kinds
}

// Count returns the number of registered kinds.
func (r *KindRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// JSONSerializer is the default Serializer implementation using JSON
// encoding with the closed kind registry.
type JSONSerializer struct {
	registry *KindRegistry
}

// NewJSONSerializer creates a JSONSerializer with the provenance
// vocabulary registered.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{
		registry: NewKindRegistry(),
	}
}

// NewJSONSerializerWithRegistry creates a JSONSerializer with the given registry.
func NewJSONSerializerWithRegistry(registry *KindRegistry) *JSONSerializer {
	if registry == nil {
		registry = NewKindRegistry()
	}
	return &JSONSerializer{
		registry: registry,
	}
}

// Registry returns the underlying KindRegistry.
func (s *JSONSerializer) Registry() *KindRegistry {
	return s.registry
}

// Serialize converts a payload to JSON bytes.
func (s *JSONSerializer) Serialize(payload interface{}) ([]byte, error) {
	if payload == nil {
		return nil, NewSerializationError("nil", "serialize", fmt.Errorf("payload cannot be nil"))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		kind := reflect.TypeOf(payload).Name()
		return nil, NewSerializationError(kind, "serialize", err)
	}

	return data, nil
}

// Deserialize converts JSON bytes back to a payload of the registered
// type. An unregistered kind is rejected.
func (s *JSONSerializer) Deserialize(data []byte, kind string) (interface{}, error) {
	if len(data) == 0 {
		return nil, NewSerializationError(kind, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	t, ok := s.registry.Lookup(kind)
	if !ok {
		return nil, &UnknownEventKindError{Kind: kind}
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, NewSerializationError(kind, "deserialize", err)
	}

	return ptr.Elem().Interface(), nil
}

// EventKindOf returns the kind name for the given payload.
// It uses the struct name, which matches the vocabulary constants.
func EventKindOf(payload interface{}) string {
	if payload == nil {
		return ""
	}

	t := reflect.TypeOf(payload)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
