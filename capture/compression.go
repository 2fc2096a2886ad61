package capture

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how captured blobs are encoded.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	}
	return CompressionNone, fmt.Errorf("capture: unknown compression %q", s)
}

func (c Compression) suffix() string {
	switch c {
	case CompressionLZ4:
		return ".lz4"
	case CompressionZstd:
		return ".zst"
	}
	return ""
}

func compressionOf(name string) Compression {
	switch {
	case strings.HasSuffix(name, ".lz4"):
		return CompressionLZ4
	case strings.HasSuffix(name, ".zst"):
		return CompressionZstd
	}
	return CompressionNone
}

// compress streams r through the encoder and returns a reader of the encoded
// bytes. The returned reader surfaces any error from r.
func (c Compression) compress(r io.Reader) io.Reader {
	if c == CompressionNone {
		return r
	}

	pr, pw := io.Pipe()
	go func() {
		var (
			w   io.WriteCloser
			err error
		)
		switch c {
		case CompressionLZ4:
			w = lz4.NewWriter(pw)
		case CompressionZstd:
			w, err = zstd.NewWriter(pw, zstd.WithEncoderLevel(zstd.SpeedFastest))
		}
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(w, r); err != nil {
			_ = w.Close()
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(w.Close())
	}()
	return pr
}

// decompress decodes data into a buffer of exactly size bytes.
func (c Compression) decompress(data []byte, size uint64) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		out := make([]byte, size)
		if _, err := io.ReadFull(lz4.NewReader(bytes.NewReader(data)), out); err != nil {
			return nil, fmt.Errorf("capture: lz4: %w", err)
		}
		return out, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("capture: zstd: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("capture: unknown compression %q", c)
}
