package chronicle

import (
	"context"
	"errors"
	"fmt"

	"github.com/emberforge/chronicle/adapters"
)

// EventStore is the entry point for appending and reading aggregate events.
type EventStore struct {
	adapter    adapters.EventStoreAdapter
	archive    adapters.ArchiveAdapter
	serializer Serializer
	logger     Logger
}

// Logger defines the logging interface used across chronicle.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// Option configures an EventStore.
type Option func(*EventStore)

// WithSerializer sets a custom serializer.
func WithSerializer(s Serializer) Option {
	return func(es *EventStore) {
		es.serializer = s
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(es *EventStore) {
		es.logger = l
	}
}

// WithArchive sets the archive that LoadHistory stitches in front of hot events.
func WithArchive(a adapters.ArchiveAdapter) Option {
	return func(es *EventStore) {
		es.archive = a
	}
}

// New creates a new EventStore with the given adapter and options.
func New(adapter adapters.EventStoreAdapter, opts ...Option) *EventStore {
	es := &EventStore{
		adapter:    adapter,
		serializer: NewJSONSerializer(),
		logger:     &noopLogger{},
	}

	for _, opt := range opts {
		opt(es)
	}

	return es
}

// Serializer returns the event store's serializer.
func (s *EventStore) Serializer() Serializer {
	return s.serializer
}

// Adapter returns the underlying adapter.
func (s *EventStore) Adapter() adapters.EventStoreAdapter {
	return s.adapter
}

// Archive returns the archive adapter, or nil.
func (s *EventStore) Archive() adapters.ArchiveAdapter {
	return s.archive
}

// Register maps an event type name to the Go type of example.
// It is a no-op when the serializer has no type registry.
func (s *EventStore) Register(eventType string, example interface{}) {
	if r, ok := s.serializer.(TypeRegistrar); ok {
		r.Register(eventType, example)
	}
}

// RegisterEvents registers event types using their struct names.
func (s *EventStore) RegisterEvents(events ...interface{}) {
	for _, e := range events {
		s.Register(GetEventType(e), e)
	}
}

// AppendOption configures an append operation.
type AppendOption func(*appendConfig)

type appendConfig struct {
	metadata        Metadata
	expectedVersion int64
}

// ExpectVersion sets the expected stream version for optimistic concurrency.
func ExpectVersion(v int64) AppendOption {
	return func(c *appendConfig) {
		c.expectedVersion = v
	}
}

// WithAppendMetadata sets metadata for all events in the append operation.
func WithAppendMetadata(m Metadata) AppendOption {
	return func(c *appendConfig) {
		c.metadata = m
	}
}

// Append stores events to the specified stream.
// Events are Go structs serialized with the configured serializer; the
// struct name is the event type.
func (s *EventStore) Append(ctx context.Context, streamID string, events []interface{}, opts ...AppendOption) ([]StoredEvent, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	config := &appendConfig{
		expectedVersion: AnyVersion,
	}

	for _, opt := range opts {
		opt(config)
	}

	records := make([]adapters.EventRecord, len(events))
	for i, event := range events {
		eventType := GetEventType(event)
		if eventType == "" {
			return nil, NewSerializationError("", "serialize", fmt.Errorf("cannot determine event type"))
		}

		data, err := s.serializer.Serialize(event)
		if err != nil {
			return nil, fmt.Errorf("chronicle: failed to serialize event %d: %w", i, err)
		}

		records[i] = adapters.EventRecord{
			Type:     eventType,
			Data:     data,
			Metadata: config.metadata,
		}
	}

	return s.adapter.Append(ctx, streamID, records, config.expectedVersion)
}

// DecideFunc returns the events to append given the stream's current version.
// Returning no events ends AppendWithRetry without writing.
type DecideFunc func(ctx context.Context, currentVersion int64) ([]interface{}, error)

// AppendWithRetry appends the events chosen by decide, expecting the version
// it was shown. When another writer wins the version, the current version is
// reloaded and decide runs again, up to maxAttempts times.
func (s *EventStore) AppendWithRetry(ctx context.Context, streamID string, decide DecideFunc, maxAttempts int, opts ...AppendOption) ([]StoredEvent, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		version := NoStream
		info, err := s.adapter.GetStreamInfo(ctx, streamID)
		switch {
		case err == nil:
			version = info.Version
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}

		events, err := decide(ctx, version)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			return nil, nil
		}

		stored, err := s.Append(ctx, streamID, events, append(opts, ExpectVersion(version))...)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}

		lastErr = err
		s.logger.Debug("Append lost version race, retrying",
			"streamId", streamID, "expectedVersion", version, "attempt", attempt)
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}

// LoadFrom retrieves hot events with version greater than fromVersion.
func (s *EventStore) LoadFrom(ctx context.Context, streamID string, fromVersion int64) ([]Event, error) {
	stored, err := s.LoadRaw(ctx, streamID, fromVersion)
	if err != nil {
		return nil, err
	}
	return s.Decode(stored)
}

// LoadRaw retrieves raw (non-deserialized) hot events from a stream.
func (s *EventStore) LoadRaw(ctx context.Context, streamID string, fromVersion int64) ([]StoredEvent, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	return s.adapter.Load(ctx, streamID, fromVersion)
}

// LoadHistory returns the complete event history of a stream: archived events
// followed by hot events, one event per version.
func (s *EventStore) LoadHistory(ctx context.Context, streamID string) ([]StoredEvent, error) {
	hot, err := s.LoadRaw(ctx, streamID, 0)
	if err != nil {
		return nil, err
	}

	// Nothing was archived when the hot store still starts at version 1.
	if s.archive == nil || (len(hot) > 0 && hot[0].Version == 1) {
		return hot, nil
	}

	archived, err := s.archive.LoadArchivedEvents(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("chronicle: failed to load archived events: %w", err)
	}

	return mergeHistory(archived, hot), nil
}

// Decode deserializes stored events with the configured serializer.
func (s *EventStore) Decode(stored []StoredEvent) ([]Event, error) {
	events := make([]Event, len(stored))
	for i, e := range stored {
		data, err := s.serializer.Deserialize(e.Data, e.Type)
		if err != nil {
			return nil, fmt.Errorf("chronicle: failed to deserialize event %d: %w", e.Version, err)
		}
		events[i] = EventFromStored(e, data)
	}
	return events, nil
}

// GetStreamInfo returns metadata about a stream.
func (s *EventStore) GetStreamInfo(ctx context.Context, streamID string) (*StreamInfo, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	return s.adapter.GetStreamInfo(ctx, streamID)
}

// ListStreams returns stream summaries for batch maintenance.
func (s *EventStore) ListStreams(ctx context.Context, opts adapters.ListStreamsOptions) ([]adapters.StreamSummary, error) {
	return s.adapter.ListStreams(ctx, opts)
}

// Initialize sets up the required storage schema.
func (s *EventStore) Initialize(ctx context.Context) error {
	return s.adapter.Initialize(ctx)
}

// Close releases resources held by the event store.
func (s *EventStore) Close() error {
	return s.adapter.Close()
}
