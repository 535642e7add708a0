package thrift

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Compact protocol constants.
const (
	compactProtocolID  byte = 0x82
	compactVersion     byte = 1
	compactTypeShift        = 5
	compactMaxFieldDelta    = 15
)

// Compact wire type identifiers. These differ from FieldType values.
const (
	compactStop      byte = 0
	compactBoolTrue  byte = 1
	compactBoolFalse byte = 2
	compactByte      byte = 3
	compactI16       byte = 4
	compactI32       byte = 5
	compactI64       byte = 6
	compactDouble    byte = 7
	compactBinary    byte = 8
	compactList      byte = 9
	compactSet       byte = 10
	compactMap       byte = 11
	compactStruct    byte = 12
)

func compactType(t FieldType) byte {
	switch t {
	case FieldStop:
		return compactStop
	case FieldBool:
		return compactBoolTrue
	case FieldByte:
		return compactByte
	case FieldI16:
		return compactI16
	case FieldI32:
		return compactI32
	case FieldI64:
		return compactI64
	case FieldDouble:
		return compactDouble
	case FieldString:
		return compactBinary
	case FieldList:
		return compactList
	case FieldSet:
		return compactSet
	case FieldMap:
		return compactMap
	case FieldStruct:
		return compactStruct
	default:
		return compactStop
	}
}

// CompactProtocol implements the Thrift compact protocol encoder: varint and
// zigzag integers, field-id delta encoding, and bool values folded into the
// field header.
type CompactProtocol struct {
	lastFieldID      int16
	fieldIDStack     []int16
	pendingBoolField bool
	pendingBoolID    int16
}

// NewCompactProtocol returns a compact protocol encoder.
func NewCompactProtocol() *CompactProtocol {
	return &CompactProtocol{}
}

func (p *CompactProtocol) Name() string       { return "compact" }
func (p *CompactProtocol) Type() ProtocolType { return ProtocolCompact }

func (p *CompactProtocol) WriteMessageBegin(buf *bytes.Buffer, metadata *MessageMetadata) {
	buf.WriteByte(compactProtocolID)
	buf.WriteByte(compactVersion | byte(metadata.MessageType)<<compactTypeShift)
	writeUvarint(buf, uint64(uint32(metadata.SequenceID)))
	writeUvarint(buf, uint64(len(metadata.MethodName)))
	buf.WriteString(metadata.MethodName)
}

func (p *CompactProtocol) WriteMessageEnd(*bytes.Buffer) {}

func (p *CompactProtocol) WriteStructBegin(buf *bytes.Buffer, _ string) {
	p.fieldIDStack = append(p.fieldIDStack, p.lastFieldID)
	p.lastFieldID = 0
}

func (p *CompactProtocol) WriteStructEnd(*bytes.Buffer) {
	if n := len(p.fieldIDStack); n > 0 {
		p.lastFieldID = p.fieldIDStack[n-1]
		p.fieldIDStack = p.fieldIDStack[:n-1]
	}
}

func (p *CompactProtocol) WriteFieldBegin(buf *bytes.Buffer, _ string, fieldType FieldType, fieldID int16) {
	switch fieldType {
	case FieldStop:
		buf.WriteByte(compactStop)
	case FieldBool:
		// Bool values are encoded in the field header; defer until the
		// value arrives.
		p.pendingBoolField = true
		p.pendingBoolID = fieldID
	default:
		p.writeFieldHeader(buf, compactType(fieldType), fieldID)
	}
}

func (p *CompactProtocol) writeFieldHeader(buf *bytes.Buffer, ctype byte, fieldID int16) {
	delta := int32(fieldID) - int32(p.lastFieldID)
	if delta > 0 && delta <= compactMaxFieldDelta {
		buf.WriteByte(byte(delta)<<4 | ctype)
	} else {
		buf.WriteByte(ctype)
		writeZigzag32(buf, int32(fieldID))
	}
	p.lastFieldID = fieldID
}

func (p *CompactProtocol) WriteFieldEnd(*bytes.Buffer) {}

func (p *CompactProtocol) WriteMapBegin(buf *bytes.Buffer, keyType, valueType FieldType, size int) {
	if size == 0 {
		buf.WriteByte(0)
		return
	}
	writeUvarint(buf, uint64(size))
	buf.WriteByte(compactType(keyType)<<4 | compactType(valueType))
}

func (p *CompactProtocol) WriteMapEnd(*bytes.Buffer) {}

func (p *CompactProtocol) WriteListBegin(buf *bytes.Buffer, elemType FieldType, size int) {
	p.writeContainerHeader(buf, compactType(elemType), size)
}

func (p *CompactProtocol) WriteListEnd(*bytes.Buffer) {}

func (p *CompactProtocol) WriteSetBegin(buf *bytes.Buffer, elemType FieldType, size int) {
	p.writeContainerHeader(buf, compactType(elemType), size)
}

func (p *CompactProtocol) WriteSetEnd(*bytes.Buffer) {}

func (p *CompactProtocol) writeContainerHeader(buf *bytes.Buffer, ctype byte, size int) {
	if size <= 14 {
		buf.WriteByte(byte(size)<<4 | ctype)
		return
	}
	buf.WriteByte(0xF0 | ctype)
	writeUvarint(buf, uint64(size))
}

func (p *CompactProtocol) WriteBool(buf *bytes.Buffer, value bool) {
	ctype := compactBoolFalse
	if value {
		ctype = compactBoolTrue
	}
	if p.pendingBoolField {
		p.pendingBoolField = false
		p.writeFieldHeader(buf, ctype, p.pendingBoolID)
		return
	}
	buf.WriteByte(ctype)
}

func (p *CompactProtocol) WriteByte(buf *bytes.Buffer, value int8) {
	buf.WriteByte(byte(value))
}

func (p *CompactProtocol) WriteInt16(buf *bytes.Buffer, value int16) {
	writeZigzag32(buf, int32(value))
}

func (p *CompactProtocol) WriteInt32(buf *bytes.Buffer, value int32) {
	writeZigzag32(buf, value)
}

func (p *CompactProtocol) WriteInt64(buf *bytes.Buffer, value int64) {
	writeZigzag64(buf, value)
}

// WriteDouble writes the IEEE 754 bits little-endian, per the compact
// protocol specification.
func (p *CompactProtocol) WriteDouble(buf *bytes.Buffer, value float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(value))
	buf.Write(b[:])
}

func (p *CompactProtocol) WriteString(buf *bytes.Buffer, value string) {
	writeUvarint(buf, uint64(len(value)))
	buf.WriteString(value)
}

// SupportsUpgrade is false: the compact protocol has no handshake.
func (p *CompactProtocol) SupportsUpgrade() bool { return false }

func (p *CompactProtocol) AttemptUpgrade(Transport, *ConnectionState, *bytes.Buffer) ThriftObject {
	return nil
}

func (p *CompactProtocol) CompleteUpgrade(*ConnectionState, ThriftObject) {}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	buf.Write(b[:n])
}

func writeZigzag32(buf *bytes.Buffer, v int32) {
	writeUvarint(buf, uint64(uint32(v<<1^v>>31)))
}

func writeZigzag64(buf *bytes.Buffer, v int64) {
	writeUvarint(buf, uint64(v<<1^v>>63))
}
