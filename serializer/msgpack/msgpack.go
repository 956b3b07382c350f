// Package msgpack provides a MessagePack serializer for chronicle.
//
// It serves both as an event Serializer and as a snapshot StateEncoding.
// MessagePack payloads are smaller than JSON, which matters for snapshots of
// large aggregates:
//
//	serializer := msgpack.NewSerializer()
//	store := chronicle.New(adapter, chronicle.WithSerializer(serializer))
//	character.RegisterEvents(store)
//
//	codec := chronicle.NewSnapshotCodec[character.Character](
//	    character.SchemaName, character.SchemaVersion,
//	    chronicle.WithStateEncoding[character.Character](serializer),
//	)
package msgpack

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/emberforge/chronicle"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodingName is written into snapshot envelopes encoded by this package.
const EncodingName = "msgpack"

var (
	_ chronicle.Serializer    = (*Serializer)(nil)
	_ chronicle.TypeRegistrar = (*Serializer)(nil)
	_ chronicle.StateEncoding = (*Serializer)(nil)
)

// Serializer is a MessagePack implementation of chronicle.Serializer and
// chronicle.StateEncoding.
type Serializer struct {
	mu       sync.RWMutex
	registry map[string]reflect.Type
}

// NewSerializer creates a new MessagePack Serializer with an empty registry.
func NewSerializer() *Serializer {
	return &Serializer{
		registry: make(map[string]reflect.Type),
	}
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithRegistry sets the initial type registry.
func WithRegistry(registry map[string]reflect.Type) SerializerOption {
	return func(s *Serializer) {
		for k, v := range registry {
			s.registry[k] = v
		}
	}
}

// NewSerializerWithOptions creates a new Serializer with the given options.
func NewSerializerWithOptions(opts ...SerializerOption) *Serializer {
	s := NewSerializer()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a mapping from eventType to the Go type of the example.
func (s *Serializer) Register(eventType string, example interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := reflect.TypeOf(example)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	s.registry[eventType] = t
}

// Lookup returns the Go type for the given event type name.
func (s *Serializer) Lookup(eventType string) (reflect.Type, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.registry[eventType]
	return t, ok
}

// Count returns the number of registered event types.
func (s *Serializer) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.registry)
}

// Serialize converts an event to MessagePack bytes.
func (s *Serializer) Serialize(event interface{}) ([]byte, error) {
	if event == nil {
		return nil, chronicle.NewSerializationError("nil", "serialize", fmt.Errorf("event cannot be nil"))
	}

	data, err := msgpack.Marshal(event)
	if err != nil {
		return nil, chronicle.NewSerializationError(chronicle.GetEventType(event), "serialize", err)
	}

	return data, nil
}

// Deserialize converts MessagePack bytes back to an event.
// If the event type is registered, returns a value of that type.
// Otherwise, returns a map[string]interface{}.
func (s *Serializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if len(data) == 0 {
		return nil, chronicle.NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	t, ok := s.Lookup(eventType)
	if !ok {
		var result map[string]interface{}
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return nil, chronicle.NewSerializationError(eventType, "deserialize", err)
		}
		return result, nil
	}

	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, chronicle.NewSerializationError(eventType, "deserialize", err)
	}

	return ptr.Elem().Interface(), nil
}

// Name implements chronicle.StateEncoding.
func (s *Serializer) Name() string {
	return EncodingName
}

// Marshal implements chronicle.StateEncoding.
func (s *Serializer) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal implements chronicle.StateEncoding.
func (s *Serializer) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
