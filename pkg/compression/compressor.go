// Package compression provides the block compressor used for rotated
// leak-report segments. Algorithms mirror the Kafka producer codecs so one
// configuration vocabulary covers both delivery paths.
package compression

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/golang/snappy"
	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies a compression codec.
type Algorithm string

const (
	AlgorithmNone   Algorithm = "none"
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmSnappy Algorithm = "snappy"
	AlgorithmLZ4    Algorithm = "lz4"
	AlgorithmZstd   Algorithm = "zstd"
)

// Compressor compresses whole blocks with a fixed algorithm.
type Compressor struct {
	algorithm Algorithm
}

// New creates a compressor for the named algorithm. An empty name means none.
func New(algorithm string) (*Compressor, error) {
	switch Algorithm(strings.ToLower(algorithm)) {
	case "", AlgorithmNone:
		return &Compressor{algorithm: AlgorithmNone}, nil
	case AlgorithmGzip:
		return &Compressor{algorithm: AlgorithmGzip}, nil
	case AlgorithmSnappy:
		return &Compressor{algorithm: AlgorithmSnappy}, nil
	case AlgorithmLZ4:
		return &Compressor{algorithm: AlgorithmLZ4}, nil
	case AlgorithmZstd:
		return &Compressor{algorithm: AlgorithmZstd}, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algorithm)
	}
}

// Algorithm returns the configured codec.
func (c *Compressor) Algorithm() Algorithm {
	return c.algorithm
}

// Ext returns the file extension for the codec, "" for none.
func (c *Compressor) Ext() string {
	switch c.algorithm {
	case AlgorithmGzip:
		return ".gz"
	case AlgorithmSnappy:
		return ".sz"
	case AlgorithmLZ4:
		return ".lz4"
	case AlgorithmZstd:
		return ".zst"
	default:
		return ""
	}
}

// Compress returns the compressed form of data. For the none codec the
// input is returned unchanged.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case AlgorithmNone:
		return data, nil

	case AlgorithmGzip:
		var buf bytes.Buffer
		w := kgzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil

	case AlgorithmLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case AlgorithmZstd:
		w, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		out := w.EncodeAll(data, nil)
		w.Close()
		return out, nil

	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", c.algorithm)
	}
}

// Decompress reverses Compress; used by tooling that reads rotated segments.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case AlgorithmNone:
		return data, nil

	case AlgorithmGzip:
		r, err := kgzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case AlgorithmSnappy:
		return snappy.Decode(nil, data)

	case AlgorithmLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case AlgorithmZstd:
		r, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return r.DecodeAll(data, nil)

	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", c.algorithm)
	}
}
