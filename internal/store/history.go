package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

// encodeHistory serialises snapshots as zstd-compressed JSON.
func encodeHistory(history []Snapshot) ([]byte, error) {
	if len(history) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	enc, _, err := codec()
	if err != nil {
		return nil, fmt.Errorf("failed to init zstd: %w", err)
	}
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func decodeHistory(blob []byte) ([]Snapshot, error) {
	if len(blob) == 0 {
		return []Snapshot{}, nil
	}
	_, dec, err := codec()
	if err != nil {
		return nil, fmt.Errorf("failed to init zstd: %w", err)
	}
	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress history: %w", err)
	}
	var history []Snapshot
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return history, nil
}
