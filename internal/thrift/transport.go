package thrift

import (
	"bytes"
	"fmt"
)

// MaxFrameSize caps framed messages. Matches the common Thrift server limit.
const MaxFrameSize = 64 * 1024 * 1024

// FramedTransport wraps each message in a 4-byte big-endian length prefix.
type FramedTransport struct{}

// NewFramedTransport returns a framed transport.
func NewFramedTransport() *FramedTransport {
	return &FramedTransport{}
}

func (t *FramedTransport) Name() string        { return "framed" }
func (t *FramedTransport) Type() TransportType { return TransportFramed }

func (t *FramedTransport) EncodeFrame(out *bytes.Buffer, _ *MessageMetadata, message *bytes.Buffer) error {
	size := message.Len()
	if size > MaxFrameSize {
		return fmt.Errorf("frame size %d exceeds maximum %d", size, MaxFrameSize)
	}
	writeUint32(out, uint32(size))
	_, err := message.WriteTo(out)
	return err
}

// UnframedTransport passes message bytes through with no envelope. Message
// boundaries are recovered from the protocol itself.
type UnframedTransport struct{}

// NewUnframedTransport returns an unframed transport.
func NewUnframedTransport() *UnframedTransport {
	return &UnframedTransport{}
}

func (t *UnframedTransport) Name() string        { return "unframed" }
func (t *UnframedTransport) Type() TransportType { return TransportUnframed }

func (t *UnframedTransport) EncodeFrame(out *bytes.Buffer, _ *MessageMetadata, message *bytes.Buffer) error {
	_, err := message.WriteTo(out)
	return err
}

// NewTransport resolves a TransportType to a concrete framer. The supported
// set is fixed at build time; there is no runtime registry.
func NewTransport(t TransportType) (Transport, error) {
	switch t {
	case TransportFramed:
		return NewFramedTransport(), nil
	case TransportUnframed:
		return NewUnframedTransport(), nil
	case TransportHeader:
		return NewHeaderTransport(nil), nil
	default:
		return nil, fmt.Errorf("no transport for type %s", t)
	}
}

// NewProtocol resolves a ProtocolType to a concrete encoder. The supported
// set is fixed at build time; there is no runtime registry.
func NewProtocol(t ProtocolType) (Protocol, error) {
	switch t {
	case ProtocolBinary:
		return NewBinaryProtocol(), nil
	case ProtocolCompact:
		return NewCompactProtocol(), nil
	default:
		return nil, fmt.Errorf("no protocol for type %s", t)
	}
}
