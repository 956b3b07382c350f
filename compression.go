package chronicle

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// NoCompressionNeeded is the result message when a history is too short to compress.
const NoCompressionNeeded = "no compression needed"

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

// codecs returns process-wide zstd coders. EncodeAll and DecodeAll are safe
// for concurrent use.
func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdInitErr
}

// compressEvents encodes a run of events with MessagePack and compresses the
// result. It returns the payload and the uncompressed size.
func compressEvents(events []StoredEvent) ([]byte, int64, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, 0, fmt.Errorf("chronicle: zstd init: %w", err)
	}

	raw, err := msgpack.Marshal(events)
	if err != nil {
		return nil, 0, NewSerializationError("event batch", "serialize", err)
	}

	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), int64(len(raw)), nil
}

// decompressEvents restores the events of a compressed batch.
func decompressEvents(payload []byte) ([]StoredEvent, error) {
	_, dec, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("chronicle: zstd init: %w", err)
	}

	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, NewSerializationError("event batch", "deserialize", err)
	}

	var events []StoredEvent
	if err := msgpack.Unmarshal(raw, &events); err != nil {
		return nil, NewSerializationError("event batch", "deserialize", err)
	}
	return events, nil
}

// groupRuns splits events into runs of consecutive events sharing a type.
func groupRuns(events []StoredEvent) [][]StoredEvent {
	var runs [][]StoredEvent
	start := 0
	for i := 1; i <= len(events); i++ {
		if i == len(events) || events[i].Type != events[start].Type {
			runs = append(runs, events[start:i])
			start = i
		}
	}
	return runs
}
