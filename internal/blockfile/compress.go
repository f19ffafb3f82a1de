package blockfile

import (
	"encoding/binary"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/inkdex/internal/storeerr"
)

// Compression selects the algorithm for large payloads.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZSTD
)

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

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Compress encodes data as rawLen:u32 followed by the compressed bytes and
// returns the flags describing it. Data that does not shrink below 90% is
// returned unchanged with no flags.
func Compress(c Compression, data []byte) ([]byte, Flags, error) {
	if c == CompressionNone || len(data) == 0 {
		return data, 0, nil
	}

	out := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(data)/2), uint32(len(data))) //nolint:gosec // G115: bounded by block chains

	var flags Flags
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, 0, err
		}
		if n == 0 {
			return data, 0, nil
		}
		out = append(out, buf[:n]...)
		flags = FlagCompressed
	case CompressionZSTD:
		enc := getZstdEncoder()
		out = enc.EncodeAll(data, out)
		zstdEncoderPool.Put(enc)
		flags = FlagCompressed | FlagZSTD
	default:
		return data, 0, nil
	}

	if float64(len(out)) > float64(len(data))*0.9 {
		return data, 0, nil
	}
	return out, flags, nil
}

// Decompress reverses Compress.
func Decompress(flags Flags, data []byte) ([]byte, error) {
	if flags&FlagCompressed == 0 {
		return data, nil
	}
	if len(data) < 4 {
		return nil, storeerr.Corrupt.New("compressed payload too short")
	}

	rawLen := binary.LittleEndian.Uint32(data)
	body := data[4:]

	if flags&FlagZSTD != 0 {
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(body, make([]byte, 0, rawLen))
		if err != nil {
			return nil, storeerr.Corrupt.Wrap(err)
		}
		if uint32(len(out)) != rawLen { //nolint:gosec // G115: bounded
			return nil, storeerr.Corrupt.New("zstd size mismatch")
		}
		return out, nil
	}

	out := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(body, out)
	if err != nil {
		return nil, storeerr.Corrupt.Wrap(err)
	}
	if uint32(n) != rawLen { //nolint:gosec // G115: bounded
		return nil, storeerr.Corrupt.New("lz4 size mismatch")
	}
	return out, nil
}
