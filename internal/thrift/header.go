package thrift

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Header transport constants.
const (
	headerMagic    uint16 = 0x0FFF
	headerMaxWords        = 16384 // header section limit, in 4-byte words
)

// ErrUnknownTransform reports a transform id this proxy does not implement.
var ErrUnknownTransform = errors.New("unknown transform")

// TransformID identifies a payload transform in the header transport's
// transform list.
type TransformID int

const (
	// TransformZlib is the standard THeader zlib transform.
	TransformZlib TransformID = 1
	// TransformSnappy is the standard THeader snappy transform.
	TransformSnappy TransformID = 3
	// TransformLZ4 reuses the retired QLZ slot for lz4 frames. Nonstandard;
	// only usable between ferry instances on both hops.
	TransformLZ4 TransformID = 4
	// TransformZstd is the THeader zstd transform.
	TransformZstd TransformID = 5
)

func (t TransformID) String() string {
	switch t {
	case TransformZlib:
		return "zlib"
	case TransformSnappy:
		return "snappy"
	case TransformLZ4:
		return "lz4"
	case TransformZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseTransform converts a config string to a TransformID.
func ParseTransform(s string) (TransformID, error) {
	switch s {
	case "zlib":
		return TransformZlib, nil
	case "snappy":
		return TransformSnappy, nil
	case "lz4":
		return TransformLZ4, nil
	case "zstd":
		return TransformZstd, nil
	default:
		return 0, fmt.Errorf("unknown transform %q", s)
	}
}

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	zstdEncOnce.Do(func() {
		// EncodeAll on a writer with nil target is concurrency-safe.
		zstdEnc, _ = zstd.NewWriter(nil)
	})
	return zstdEnc
}

func zstdDecoder() *zstd.Decoder {
	zstdDecOnce.Do(func() {
		zstdDec, _ = zstd.NewReader(nil)
	})
	return zstdDec
}

// applyTransform compresses data with the named transform.
func applyTransform(id TransformID, data []byte) ([]byte, error) {
	switch id {
	case TransformZlib:
		var out bytes.Buffer
		zw := zlib.NewWriter(&out)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	case TransformSnappy:
		return snappy.Encode(nil, data), nil
	case TransformLZ4:
		var out bytes.Buffer
		lw := lz4.NewWriter(&out)
		if _, err := lw.Write(data); err != nil {
			return nil, err
		}
		if err := lw.Close(); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	case TransformZstd:
		return zstdEncoder().EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("%w %d", ErrUnknownTransform, int(id))
	}
}

// invertTransform decompresses data produced by applyTransform.
func invertTransform(id TransformID, data []byte) ([]byte, error) {
	switch id {
	case TransformZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case TransformSnappy:
		return snappy.Decode(nil, data)
	case TransformLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	case TransformZstd:
		return zstdDecoder().DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("%w %d", ErrUnknownTransform, int(id))
	}
}

// HeaderTransport implements THeader framing: a framed envelope carrying a
// variable-length header section (protocol id and transform list) ahead of
// the payload. Configured transforms are applied to the payload in order on
// encode.
type HeaderTransport struct {
	transforms []TransformID
	protocolID ProtocolType
}

// NewHeaderTransport returns a header transport applying the given payload
// transforms.
func NewHeaderTransport(transforms []TransformID) *HeaderTransport {
	return &HeaderTransport{transforms: transforms, protocolID: ProtocolBinary}
}

// WithProtocol records the protocol id advertised in the header section.
func (t *HeaderTransport) WithProtocol(p ProtocolType) *HeaderTransport {
	t.protocolID = p
	return t
}

func (t *HeaderTransport) Name() string        { return "header" }
func (t *HeaderTransport) Type() TransportType { return TransportHeader }

// headerProtocolID maps ProtocolType to the THeader protocol id field.
func headerProtocolID(p ProtocolType) uint64 {
	if p == ProtocolCompact {
		return 2
	}
	return 0
}

func (t *HeaderTransport) EncodeFrame(out *bytes.Buffer, metadata *MessageMetadata, message *bytes.Buffer) error {
	payload := message.Bytes()
	for _, id := range t.transforms {
		transformed, err := applyTransform(id, payload)
		if err != nil {
			return fmt.Errorf("transform %s failed: %w", id, err)
		}
		payload = transformed
	}
	message.Reset()

	var header bytes.Buffer
	writeUvarint(&header, headerProtocolID(t.protocolID))
	writeUvarint(&header, uint64(len(t.transforms)))
	for _, id := range t.transforms {
		writeUvarint(&header, uint64(id))
	}
	for header.Len()%4 != 0 {
		header.WriteByte(0)
	}

	headerWords := header.Len() / 4
	if headerWords > headerMaxWords {
		return fmt.Errorf("header section %d words exceeds maximum %d", headerWords, headerMaxWords)
	}

	// Frame length covers everything after the length word itself.
	frameLen := 2 + 2 + 4 + 2 + header.Len() + len(payload)
	if frameLen > MaxFrameSize {
		return fmt.Errorf("frame size %d exceeds maximum %d", frameLen, MaxFrameSize)
	}

	writeUint32(out, uint32(frameLen))
	writeUint16(out, headerMagic)
	writeUint16(out, 0) // flags
	writeUint32(out, uint32(metadata.SequenceID))
	writeUint16(out, uint16(headerWords))
	out.Write(header.Bytes())
	out.Write(payload)
	return nil
}
