package telemetry

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Captured output is stored zstd-compressed. Encoders and decoders are safe
// for concurrent EncodeAll/DecodeAll and are built once.
var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

// maxDecodedOutput bounds decompression of a stored blob.
const maxDecodedOutput = 64 << 20

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedOutput))
	})
	return encoder, decoder, codecErr
}

func compressOutput(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	enc, _, err := codec()
	if err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	return enc.EncodeAll([]byte(s), nil), nil
}

func decompressOutput(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	_, dec, err := codec()
	if err != nil {
		return "", fmt.Errorf("zstd init: %w", err)
	}
	out, err := dec.DecodeAll(b, nil)
	if err != nil {
		return "", fmt.Errorf("zstd decode: %w", err)
	}
	return string(out), nil
}
