// Package codecs compresses and decompresses staged payloads. A Codec maps to
// the Content-Encoding recorded alongside each staged object, so that readers
// select a decoder from the object's metadata alone.
package codecs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// Codec is a compression codec of staged payloads.
type Codec string

const (
	None      Codec = "none"
	Gzip      Codec = "gzip"
	Snappy    Codec = "snappy"
	Zstandard Codec = "zstd"
)

// Validate returns an error if the Codec is not known.
func (c Codec) Validate() error {
	switch c {
	case None, Gzip, Snappy, Zstandard:
		return nil
	default:
		return fmt.Errorf("unsupported codec %q", string(c))
	}
}

// ContentEncoding returns the Content-Encoding under which content encoded
// with the Codec is stored. None has an empty Content-Encoding.
func (c Codec) ContentEncoding() string {
	switch c {
	case Gzip:
		return "gzip"
	case Snappy:
		return "x-snappy-framed"
	case Zstandard:
		return "zstd"
	default:
		return ""
	}
}

// FromContentEncoding returns the Codec of a stored Content-Encoding.
func FromContentEncoding(enc string) (Codec, error) {
	switch enc {
	case "", "identity":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "x-snappy-framed":
		return Snappy, nil
	case "zstd":
		return Zstandard, nil
	default:
		return "", fmt.Errorf("unsupported content encoding %q", enc)
	}
}

// Decompressor is a ReadCloser where Close closes and releases Decompressor
// state, but does not Close or affect the underlying Reader.
type Decompressor io.ReadCloser

// Compressor is a WriteCloser where Close closes and releases Compressor
// state, potentially flushing final content to the underlying Writer,
// but does not Close or otherwise affect the underlying Writer.
type Compressor io.WriteCloser

// NewCodecReader returns a Decompressor of the Reader encoded with Codec.
func NewCodecReader(r io.Reader, codec Codec) (Decompressor, error) {
	switch codec {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case Zstandard:
		return zstdNewReader(r)
	default:
		return nil, fmt.Errorf("unsupported codec %q", string(codec))
	}
}

// NewCodecWriter returns a Compressor wrapping the Writer encoding with Codec.
func NewCodecWriter(w io.Writer, codec Codec) (Compressor, error) {
	switch codec {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case Zstandard:
		return zstdNewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported codec %q", string(codec))
	}
}

// Encode |b| with the Codec.
func Encode(b []byte, codec Codec) ([]byte, error) {
	if codec == None {
		return b, nil
	}
	var buf bytes.Buffer
	var w, err = NewCodecWriter(&buf, codec)
	if err != nil {
		return nil, err
	} else if _, err = w.Write(b); err != nil {
		return nil, err
	} else if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode |b| which was encoded with the Codec.
func Decode(b []byte, codec Codec) ([]byte, error) {
	if codec == None {
		return b, nil
	}
	var r, err = NewCodecReader(bytes.NewReader(b), codec)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var (
	zstdNewReader = func(io.Reader) (io.ReadCloser, error) {
		return nil, fmt.Errorf("ZSTANDARD was not enabled at compile time")
	}
	zstdNewWriter = func(io.Writer) (io.WriteCloser, error) {
		return nil, fmt.Errorf("ZSTANDARD was not enabled at compile time")
	}
)
