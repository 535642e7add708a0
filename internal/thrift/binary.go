package thrift

import (
	"bytes"
	"encoding/binary"
	"math"
)

// BinaryVersion is the strict binary protocol version word: the version-1
// marker in the high 16 bits of the message-begin word.
const BinaryVersion uint32 = 0x80010000

// BinaryProtocol implements the Thrift strict binary protocol encoder.
// All multi-byte values are big-endian.
type BinaryProtocol struct{}

// NewBinaryProtocol returns a binary protocol encoder.
func NewBinaryProtocol() *BinaryProtocol {
	return &BinaryProtocol{}
}

func (p *BinaryProtocol) Name() string       { return "binary" }
func (p *BinaryProtocol) Type() ProtocolType { return ProtocolBinary }

func (p *BinaryProtocol) WriteMessageBegin(buf *bytes.Buffer, metadata *MessageMetadata) {
	writeUint32(buf, BinaryVersion|uint32(uint8(metadata.MessageType)))
	p.WriteString(buf, metadata.MethodName)
	writeUint32(buf, uint32(metadata.SequenceID))
}

func (p *BinaryProtocol) WriteMessageEnd(*bytes.Buffer) {}

func (p *BinaryProtocol) WriteStructBegin(*bytes.Buffer, string) {}
func (p *BinaryProtocol) WriteStructEnd(*bytes.Buffer)           {}

func (p *BinaryProtocol) WriteFieldBegin(buf *bytes.Buffer, _ string, fieldType FieldType, fieldID int16) {
	buf.WriteByte(byte(fieldType))
	if fieldType == FieldStop {
		return
	}
	writeUint16(buf, uint16(fieldID))
}

func (p *BinaryProtocol) WriteFieldEnd(*bytes.Buffer) {}

func (p *BinaryProtocol) WriteMapBegin(buf *bytes.Buffer, keyType, valueType FieldType, size int) {
	buf.WriteByte(byte(keyType))
	buf.WriteByte(byte(valueType))
	writeUint32(buf, uint32(size))
}

func (p *BinaryProtocol) WriteMapEnd(*bytes.Buffer) {}

func (p *BinaryProtocol) WriteListBegin(buf *bytes.Buffer, elemType FieldType, size int) {
	buf.WriteByte(byte(elemType))
	writeUint32(buf, uint32(size))
}

func (p *BinaryProtocol) WriteListEnd(*bytes.Buffer) {}

func (p *BinaryProtocol) WriteSetBegin(buf *bytes.Buffer, elemType FieldType, size int) {
	buf.WriteByte(byte(elemType))
	writeUint32(buf, uint32(size))
}

func (p *BinaryProtocol) WriteSetEnd(*bytes.Buffer) {}

func (p *BinaryProtocol) WriteBool(buf *bytes.Buffer, value bool) {
	if value {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func (p *BinaryProtocol) WriteByte(buf *bytes.Buffer, value int8) {
	buf.WriteByte(byte(value))
}

func (p *BinaryProtocol) WriteInt16(buf *bytes.Buffer, value int16) {
	writeUint16(buf, uint16(value))
}

func (p *BinaryProtocol) WriteInt32(buf *bytes.Buffer, value int32) {
	writeUint32(buf, uint32(value))
}

func (p *BinaryProtocol) WriteInt64(buf *bytes.Buffer, value int64) {
	writeUint64(buf, uint64(value))
}

func (p *BinaryProtocol) WriteDouble(buf *bytes.Buffer, value float64) {
	writeUint64(buf, math.Float64bits(value))
}

func (p *BinaryProtocol) WriteString(buf *bytes.Buffer, value string) {
	writeUint32(buf, uint32(len(value)))
	buf.WriteString(value)
}

// SupportsUpgrade is false: the binary protocol has no handshake.
func (p *BinaryProtocol) SupportsUpgrade() bool { return false }

func (p *BinaryProtocol) AttemptUpgrade(Transport, *ConnectionState, *bytes.Buffer) ThriftObject {
	return nil
}

func (p *BinaryProtocol) CompleteUpgrade(*ConnectionState, ThriftObject) {}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
