package thrift

import "bytes"

// Protocol encodes structured Thrift values (message headers, structs,
// fields, containers, scalars) onto a buffer, independent of framing.
// Encoders are stateful per message (compact field-id deltas) and must not
// be shared across concurrent messages.
type Protocol interface {
	Name() string
	Type() ProtocolType

	WriteMessageBegin(buf *bytes.Buffer, metadata *MessageMetadata)
	WriteMessageEnd(buf *bytes.Buffer)
	WriteStructBegin(buf *bytes.Buffer, name string)
	WriteStructEnd(buf *bytes.Buffer)
	WriteFieldBegin(buf *bytes.Buffer, name string, fieldType FieldType, fieldID int16)
	WriteFieldEnd(buf *bytes.Buffer)
	WriteMapBegin(buf *bytes.Buffer, keyType, valueType FieldType, size int)
	WriteMapEnd(buf *bytes.Buffer)
	WriteListBegin(buf *bytes.Buffer, elemType FieldType, size int)
	WriteListEnd(buf *bytes.Buffer)
	WriteSetBegin(buf *bytes.Buffer, elemType FieldType, size int)
	WriteSetEnd(buf *bytes.Buffer)
	WriteBool(buf *bytes.Buffer, value bool)
	WriteByte(buf *bytes.Buffer, value int8)
	WriteInt16(buf *bytes.Buffer, value int16)
	WriteInt32(buf *bytes.Buffer, value int32)
	WriteInt64(buf *bytes.Buffer, value int64)
	WriteDouble(buf *bytes.Buffer, value float64)
	WriteString(buf *bytes.Buffer, value string)

	// SupportsUpgrade reports whether this protocol negotiates a one-time
	// per-connection upgrade handshake before normal messages can flow.
	SupportsUpgrade() bool

	// AttemptUpgrade starts the upgrade handshake against a freshly pooled
	// connection. It writes the handshake request into buf and returns a
	// ThriftObject that consumes the upstream reply. A nil return means the
	// connection state shows the upgrade already occurred and forwarding may
	// resume immediately.
	AttemptUpgrade(transport Transport, state *ConnectionState, buf *bytes.Buffer) ThriftObject

	// CompleteUpgrade finalizes the handshake once the response object
	// reports completion.
	CompleteUpgrade(state *ConnectionState, response ThriftObject)
}

// Transport wraps a serialized message in its framing envelope.
type Transport interface {
	Name() string
	Type() TransportType

	// EncodeFrame frames the accumulated message bytes and appends the
	// result to out. The message buffer is consumed.
	EncodeFrame(out *bytes.Buffer, metadata *MessageMetadata, message *bytes.Buffer) error
}

// ThriftObject incrementally decodes one complete Thrift value or message
// from upstream bytes. It exists only for the duration of the upgrade
// handshake.
type ThriftObject interface {
	// OnData consumes upstream bytes and returns true once the object is
	// completely decoded.
	OnData(buf *bytes.Buffer) bool
}

// DirectResponse is a locally generated reply sent downstream without any
// upstream interaction.
type DirectResponse interface {
	// Encode serializes the response using the downstream protocol and
	// frames it with the downstream transport, appending to out.
	Encode(metadata *MessageMetadata, transport Transport, protocol Protocol, out *bytes.Buffer) error
}
