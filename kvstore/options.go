package kvstore

import (
	"log/slog"

	"github.com/hupe1980/inkdex/codec"
	"github.com/hupe1980/inkdex/internal/blockfile"
	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/resource"
)

// Compression selects how values above CompressAbove are compressed.
type Compression = blockfile.Compression

const (
	CompressionNone = blockfile.CompressionNone
	CompressionLZ4  = blockfile.CompressionLZ4
	CompressionZSTD = blockfile.CompressionZSTD
)

// MaxKeyLen is the longest key in bytes.
const MaxKeyLen = blockfile.MaxKeyLen

// Options configures a Store.
type Options struct {
	FS        fs.FileSystem
	Logger    *slog.Logger
	Resources *resource.Controller
	Codec     codec.Codec
	// BlockSize only applies to new data files.
	BlockSize     int
	CompressAbove int
	Compression   Compression
	PageCapacity  int
}

// DefaultOptions are used by Open.
var DefaultOptions = Options{
	FS:            fs.Default,
	Codec:         codec.Default,
	BlockSize:     2048,
	CompressAbove: 100 * 1024,
	Compression:   CompressionLZ4,
	PageCapacity:  1000,
}
