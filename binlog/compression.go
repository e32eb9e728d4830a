package binlog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the payload block codec.
type Compression uint8

const (
	// CompressionNone stores payload blocks as written.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = 1
	// CompressionZstd uses zstd (better ratio).
	CompressionZstd Compression = 2
)

// Payloads are split into blocks of at most this size before compression.
const maxBlockSize = 1 << 20

// Block framing: [UncompressedSize uint32][CompressedSize uint32][Data...].
// CompressedSize == 0 marks a block stored uncompressed.
const blockHeaderSize = 8

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// compressPayload appends the block-framed payload to dst.
func compressPayload(dst, payload []byte, comp Compression) ([]byte, error) {
	for len(payload) > 0 {
		n := len(payload)
		if n > maxBlockSize {
			n = maxBlockSize
		}
		var err error
		dst, err = appendBlock(dst, payload[:n], comp)
		if err != nil {
			return nil, err
		}
		payload = payload[n:]
	}
	return dst, nil
}

func appendBlock(dst, block []byte, comp Compression) ([]byte, error) {
	var compressed []byte
	switch comp {
	case CompressionNone:
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(block))
		buf := make([]byte, bound)
		n, err := lz4.CompressBlock(block, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("binlog: lz4 compress: %w", err)
		}
		if n > 0 {
			compressed = buf[:n]
		}
	case CompressionZstd:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(block, nil)
		putZstdEncoder(enc)
	default:
		return nil, fmt.Errorf("binlog: unknown compression %d", comp)
	}

	// Keep the original when compression buys less than 10%.
	if compressed == nil || len(compressed) > len(block)*9/10 {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(block)))
		dst = binary.LittleEndian.AppendUint32(dst, 0)
		return append(dst, block...), nil
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(block)))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(compressed)))
	return append(dst, compressed...), nil
}

// decompressPayload reassembles all blocks of a framed payload.
func decompressPayload(data []byte, comp Compression) ([]byte, error) {
	var out []byte
	for len(data) > 0 {
		if len(data) < blockHeaderSize {
			return nil, fmt.Errorf("%w: truncated block header", ErrCorrupt)
		}
		uncompressedSize := binary.LittleEndian.Uint32(data[0:])
		compressedSize := binary.LittleEndian.Uint32(data[4:])
		data = data[blockHeaderSize:]

		if compressedSize == 0 {
			if uint32(len(data)) < uncompressedSize {
				return nil, fmt.Errorf("%w: truncated stored block", ErrCorrupt)
			}
			out = append(out, data[:uncompressedSize]...)
			data = data[uncompressedSize:]
			continue
		}
		if uint32(len(data)) < compressedSize {
			return nil, fmt.Errorf("%w: truncated compressed block", ErrCorrupt)
		}
		block := data[:compressedSize]
		data = data[compressedSize:]

		result := make([]byte, uncompressedSize)
		switch comp {
		case CompressionLZ4:
			n, err := lz4.UncompressBlock(block, result)
			if err != nil {
				return nil, fmt.Errorf("binlog: lz4 decompress: %w", err)
			}
			if uint32(n) != uncompressedSize {
				return nil, fmt.Errorf("%w: block size mismatch", ErrCorrupt)
			}
			out = append(out, result...)
		case CompressionZstd:
			dec := getZstdDecoder()
			decoded, err := dec.DecodeAll(block, result[:0])
			putZstdDecoder(dec)
			if err != nil {
				return nil, fmt.Errorf("binlog: zstd decompress: %w", err)
			}
			if uint32(len(decoded)) != uncompressedSize {
				return nil, fmt.Errorf("%w: block size mismatch", ErrCorrupt)
			}
			out = append(out, decoded...)
		default:
			return nil, fmt.Errorf("%w: compressed block under compression %d", ErrCorrupt, comp)
		}
	}
	return out, nil
}
