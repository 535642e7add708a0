package thrift

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrMessageAborted is returned by DecodeMessage when the handler stopped the
// message at MessageBegin and the remainder was consumed without events.
var ErrMessageAborted = errors.New("message aborted by handler")

// maxDecodeDepth bounds struct and container nesting.
const maxDecodeDepth = 64

// byteReader is what the protocol readers consume. Both bufio.Reader and
// bytes.Reader satisfy it.
type byteReader interface {
	io.Reader
	io.ByteReader
}

// Decoder reads Thrift messages from a downstream connection and drives a
// DecoderEventHandler with the structural event stream. Transport and
// protocol may be pinned by configuration or auto-detected from the first
// bytes on the wire.
type Decoder struct {
	r       *bufio.Reader
	handler DecoderEventHandler

	transportType TransportType
	protocolType  ProtocolType

	// suppress drops events after the handler aborts a message, so the
	// decoder can still consume the message to find its boundary.
	suppress bool

	// headerEnvelope holds the envelope of the header frame currently being
	// decoded. It is populated as soon as the fixed envelope has been read,
	// so a frame whose payload cannot be decoded can still be answered.
	headerEnvelope *MessageMetadata

	// headerProtocol is the protocol the most recent header frame advertised.
	headerProtocol ProtocolType
}

// NewDecoder creates a decoder for one connection. TransportAuto and
// ProtocolAuto defer detection until the first message arrives.
func NewDecoder(r io.Reader, handler DecoderEventHandler, transport TransportType, protocol ProtocolType) *Decoder {
	return &Decoder{
		r:             bufio.NewReaderSize(r, 16*1024),
		handler:       handler,
		transportType: transport,
		protocolType:  protocol,
	}
}

// TransportType returns the detected or configured downstream transport.
// TransportAuto until the first message has been seen.
func (d *Decoder) TransportType() TransportType { return d.transportType }

// ProtocolType returns the detected or configured downstream protocol.
func (d *Decoder) ProtocolType() ProtocolType { return d.protocolType }

// HeaderEnvelope returns the envelope of the header frame currently being
// decoded, or nil on other transports and between messages.
func (d *Decoder) HeaderEnvelope() *MessageMetadata { return d.headerEnvelope }

// HeaderProtocolType returns the protocol advertised by the most recent
// header frame, binary when none has been seen yet.
func (d *Decoder) HeaderProtocolType() ProtocolType {
	if d.headerProtocol == ProtocolCompact {
		return ProtocolCompact
	}
	return ProtocolBinary
}

// DecodeMessage reads exactly one message and dispatches its events. A clean
// close between messages returns io.EOF.
func (d *Decoder) DecodeMessage() error {
	d.suppress = false
	d.headerEnvelope = nil

	if d.transportType == TransportAuto || d.protocolType == ProtocolAuto {
		if err := d.detect(); err != nil {
			return err
		}
	}

	switch d.transportType {
	case TransportFramed:
		payload, err := d.readFrame()
		if err != nil {
			return err
		}
		return d.decodeEnveloped(newSliceReader(payload), d.protocolType)
	case TransportHeader:
		payload, protocolType, err := d.readHeaderFrame()
		if err != nil {
			return err
		}
		return d.decodeEnveloped(newSliceReader(payload), protocolType)
	case TransportUnframed:
		return d.decodeEnveloped(d.r, d.protocolType)
	default:
		return fmt.Errorf("transport %s cannot decode", d.transportType)
	}
}

// detect sniffs the transport and protocol from the first bytes without
// consuming them.
func (d *Decoder) detect() error {
	head, err := d.r.Peek(6)
	if len(head) == 0 {
		return err
	}

	if d.transportType == TransportAuto {
		switch {
		case head[0] == 0x80 || head[0] == compactProtocolID:
			d.transportType = TransportUnframed
		case len(head) >= 6 && head[4] == 0x0F && head[5] == 0xFF:
			d.transportType = TransportHeader
		case len(head) >= 5 && (head[4] == 0x80 || head[4] == compactProtocolID):
			d.transportType = TransportFramed
		default:
			return fmt.Errorf("unable to detect downstream transport (leading bytes % x)", head)
		}
	}

	if d.protocolType == ProtocolAuto {
		var first byte
		switch d.transportType {
		case TransportUnframed:
			first = head[0]
		case TransportFramed:
			if len(head) < 5 {
				return fmt.Errorf("short read while detecting protocol")
			}
			first = head[4]
		case TransportHeader:
			// The header frame carries its own protocol id per message.
			return nil
		}
		switch first {
		case 0x80:
			d.protocolType = ProtocolBinary
		case compactProtocolID:
			d.protocolType = ProtocolCompact
		default:
			return fmt.Errorf("unable to detect downstream protocol (leading byte 0x%02x)", first)
		}
	}
	return nil
}

// readFrame reads one framed-transport payload. EOF before the length word
// is a clean close.
func (d *Decoder) readFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen == 0 || frameLen > MaxFrameSize {
		return nil, fmt.Errorf("invalid frame size %d", frameLen)
	}
	payload := make([]byte, frameLen)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return payload, nil
}

// readHeaderFrame reads one THeader envelope, inverts its payload transforms,
// and returns the payload with the protocol the header advertises.
func (d *Decoder) readHeaderFrame() ([]byte, ProtocolType, error) {
	var fixed [14]byte
	if _, err := io.ReadFull(d.r, fixed[:]); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, 0, fmt.Errorf("failed to read header envelope: %w", err)
	}

	frameLen := binary.BigEndian.Uint32(fixed[0:4])
	magic := binary.BigEndian.Uint16(fixed[4:6])
	headerWords := int(binary.BigEndian.Uint16(fixed[12:14]))

	if magic != headerMagic {
		return nil, 0, fmt.Errorf("bad header transport magic 0x%04x", magic)
	}
	if frameLen > MaxFrameSize {
		return nil, 0, fmt.Errorf("invalid frame size %d", frameLen)
	}
	if headerWords > headerMaxWords {
		return nil, 0, fmt.Errorf("header section %d words exceeds maximum %d", headerWords, headerMaxWords)
	}
	d.headerEnvelope = &MessageMetadata{
		SequenceID: int32(binary.BigEndian.Uint32(fixed[8:12])),
	}

	headerLen := headerWords * 4
	// Frame length covers everything after the length word.
	payloadLen := int(frameLen) - 10 - headerLen
	if payloadLen < 0 {
		return nil, 0, fmt.Errorf("header section overruns frame")
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(d.r, header); err != nil {
		return nil, 0, fmt.Errorf("failed to read header section: %w", err)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, 0, fmt.Errorf("failed to read header payload: %w", err)
	}

	hr := newSliceReader(header)
	protoID, err := binary.ReadUvarint(hr)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header protocol id: %w", err)
	}
	var protocolType ProtocolType
	switch protoID {
	case 0:
		protocolType = ProtocolBinary
	case 2:
		protocolType = ProtocolCompact
	default:
		return nil, 0, fmt.Errorf("unsupported header protocol id %d", protoID)
	}
	d.headerProtocol = protocolType

	numTransforms, err := binary.ReadUvarint(hr)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read transform count: %w", err)
	}
	transforms := make([]TransformID, 0, numTransforms)
	for i := uint64(0); i < numTransforms; i++ {
		id, err := binary.ReadUvarint(hr)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read transform id: %w", err)
		}
		transforms = append(transforms, TransformID(id))
	}

	// Transforms were applied in order on encode; invert them in reverse.
	for i := len(transforms) - 1; i >= 0; i-- {
		payload, err = invertTransform(transforms[i], payload)
		if err != nil {
			return nil, 0, fmt.Errorf("transform %s failed: %w", transforms[i], err)
		}
	}
	return payload, protocolType, nil
}

// decodeEnveloped decodes one protocol-level message and dispatches events.
func (d *Decoder) decodeEnveloped(r byteReader, protocolType ProtocolType) error {
	var pr protocolReader
	switch protocolType {
	case ProtocolBinary:
		pr = &binaryReader{r: r}
	case ProtocolCompact:
		pr = &compactReader{r: r}
	default:
		return fmt.Errorf("protocol %s cannot decode", protocolType)
	}

	metadata, err := pr.readMessageBegin()
	if err != nil {
		return err
	}

	d.handler.TransportBegin(metadata)
	if d.handler.MessageBegin(metadata) == StopIteration {
		d.suppress = true
	}

	if err := d.decodeStruct(pr, 0); err != nil {
		return err
	}

	if !d.suppress {
		d.handler.MessageEnd()
		d.handler.TransportEnd()
		return nil
	}
	return ErrMessageAborted
}

func (d *Decoder) decodeStruct(pr protocolReader, depth int) error {
	if depth > maxDecodeDepth {
		return fmt.Errorf("nesting exceeds %d levels", maxDecodeDepth)
	}
	pr.pushStruct()
	if !d.suppress {
		d.handler.StructBegin("")
	}
	for {
		fieldType, fieldID, err := pr.readFieldBegin()
		if err != nil {
			return err
		}
		if fieldType == FieldStop {
			break
		}
		if !d.suppress {
			d.handler.FieldBegin("", fieldType, fieldID)
		}
		if err := d.decodeValue(pr, fieldType, depth+1); err != nil {
			return err
		}
		if !d.suppress {
			d.handler.FieldEnd()
		}
	}
	pr.popStruct()
	if !d.suppress {
		d.handler.StructEnd()
	}
	return nil
}

func (d *Decoder) decodeValue(pr protocolReader, fieldType FieldType, depth int) error {
	if depth > maxDecodeDepth {
		return fmt.Errorf("nesting exceeds %d levels", maxDecodeDepth)
	}
	switch fieldType {
	case FieldBool:
		v, err := pr.readBool()
		if err != nil {
			return err
		}
		if !d.suppress {
			d.handler.BoolValue(v)
		}
	case FieldByte:
		v, err := pr.readByte()
		if err != nil {
			return err
		}
		if !d.suppress {
			d.handler.ByteValue(v)
		}
	case FieldI16:
		v, err := pr.readI16()
		if err != nil {
			return err
		}
		if !d.suppress {
			d.handler.Int16Value(v)
		}
	case FieldI32:
		v, err := pr.readI32()
		if err != nil {
			return err
		}
		if !d.suppress {
			d.handler.Int32Value(v)
		}
	case FieldI64:
		v, err := pr.readI64()
		if err != nil {
			return err
		}
		if !d.suppress {
			d.handler.Int64Value(v)
		}
	case FieldDouble:
		v, err := pr.readDouble()
		if err != nil {
			return err
		}
		if !d.suppress {
			d.handler.DoubleValue(v)
		}
	case FieldString:
		v, err := pr.readString()
		if err != nil {
			return err
		}
		if !d.suppress {
			d.handler.StringValue(v)
		}
	case FieldStruct:
		return d.decodeStruct(pr, depth)
	case FieldMap:
		keyType, valueType, size, err := pr.readMapBegin()
		if err != nil {
			return err
		}
		if !d.suppress {
			d.handler.MapBegin(keyType, valueType, size)
		}
		for i := 0; i < size; i++ {
			if err := d.decodeValue(pr, keyType, depth+1); err != nil {
				return err
			}
			if err := d.decodeValue(pr, valueType, depth+1); err != nil {
				return err
			}
		}
		if !d.suppress {
			d.handler.MapEnd()
		}
	case FieldList:
		elemType, size, err := pr.readListBegin()
		if err != nil {
			return err
		}
		if !d.suppress {
			d.handler.ListBegin(elemType, size)
		}
		for i := 0; i < size; i++ {
			if err := d.decodeValue(pr, elemType, depth+1); err != nil {
				return err
			}
		}
		if !d.suppress {
			d.handler.ListEnd()
		}
	case FieldSet:
		elemType, size, err := pr.readSetBegin()
		if err != nil {
			return err
		}
		if !d.suppress {
			d.handler.SetBegin(elemType, size)
		}
		for i := 0; i < size; i++ {
			if err := d.decodeValue(pr, elemType, depth+1); err != nil {
				return err
			}
		}
		if !d.suppress {
			d.handler.SetEnd()
		}
	default:
		return fmt.Errorf("unknown field type %d", int8(fieldType))
	}
	return nil
}

// sliceReader is a minimal byteReader over a byte slice.
type sliceReader struct {
	data []byte
	pos  int
}

func newSliceReader(data []byte) *sliceReader {
	return &sliceReader{data: data}
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *sliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// protocolReader is the decode-side counterpart of Protocol.
type protocolReader interface {
	readMessageBegin() (*MessageMetadata, error)
	readFieldBegin() (FieldType, int16, error)
	readMapBegin() (FieldType, FieldType, int, error)
	readListBegin() (FieldType, int, error)
	readSetBegin() (FieldType, int, error)
	readBool() (bool, error)
	readByte() (int8, error)
	readI16() (int16, error)
	readI32() (int32, error)
	readI64() (int64, error)
	readDouble() (float64, error)
	readString() (string, error)
	pushStruct()
	popStruct()
}

// binaryReader decodes the strict binary protocol.
type binaryReader struct {
	r byteReader
}

func (p *binaryReader) readMessageBegin() (*MessageMetadata, error) {
	word, err := p.readUint32()
	if err != nil {
		return nil, err
	}
	if word&0xFFFF0000 != BinaryVersion {
		return nil, fmt.Errorf("invalid binary protocol version 0x%08x", word)
	}
	msgType := MessageType(word & 0xFF)
	if msgType < MessageCall || msgType > MessageOneway {
		return nil, fmt.Errorf("invalid message type %d", int8(msgType))
	}
	name, err := p.readString()
	if err != nil {
		return nil, err
	}
	seqID, err := p.readUint32()
	if err != nil {
		return nil, err
	}
	return &MessageMetadata{
		MethodName:  name,
		MessageType: msgType,
		SequenceID:  int32(seqID),
	}, nil
}

func validFieldType(b byte) (FieldType, error) {
	switch FieldType(b) {
	case FieldBool, FieldByte, FieldDouble, FieldI16, FieldI32, FieldI64,
		FieldString, FieldStruct, FieldMap, FieldSet, FieldList:
		return FieldType(b), nil
	default:
		return 0, fmt.Errorf("unknown field type %d", b)
	}
}

func (p *binaryReader) readFieldBegin() (FieldType, int16, error) {
	b, err := p.r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	if FieldType(b) == FieldStop {
		return FieldStop, 0, nil
	}
	ft, err := validFieldType(b)
	if err != nil {
		return 0, 0, err
	}
	id, err := p.readI16()
	if err != nil {
		return 0, 0, err
	}
	return ft, id, nil
}

func (p *binaryReader) readMapBegin() (FieldType, FieldType, int, error) {
	kb, err := p.r.ReadByte()
	if err != nil {
		return 0, 0, 0, err
	}
	vb, err := p.r.ReadByte()
	if err != nil {
		return 0, 0, 0, err
	}
	keyType, err := validFieldType(kb)
	if err != nil {
		return 0, 0, 0, err
	}
	valueType, err := validFieldType(vb)
	if err != nil {
		return 0, 0, 0, err
	}
	size, err := p.readSize()
	if err != nil {
		return 0, 0, 0, err
	}
	return keyType, valueType, size, nil
}

func (p *binaryReader) readListBegin() (FieldType, int, error) {
	eb, err := p.r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	elemType, err := validFieldType(eb)
	if err != nil {
		return 0, 0, err
	}
	size, err := p.readSize()
	if err != nil {
		return 0, 0, err
	}
	return elemType, size, nil
}

func (p *binaryReader) readSetBegin() (FieldType, int, error) {
	return p.readListBegin()
}

func (p *binaryReader) readBool() (bool, error) {
	b, err := p.r.ReadByte()
	return b != 0, err
}

func (p *binaryReader) readByte() (int8, error) {
	b, err := p.r.ReadByte()
	return int8(b), err
}

func (p *binaryReader) readI16() (int16, error) {
	var b [2]byte
	if _, err := io.ReadFull(p.r, b[:]); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b[:])), nil
}

func (p *binaryReader) readI32() (int32, error) {
	v, err := p.readUint32()
	return int32(v), err
}

func (p *binaryReader) readI64() (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(p.r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func (p *binaryReader) readDouble() (float64, error) {
	var b [8]byte
	if _, err := io.ReadFull(p.r, b[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b[:])), nil
}

func (p *binaryReader) readString() (string, error) {
	n, err := p.readSize()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (p *binaryReader) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(p.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (p *binaryReader) readSize() (int, error) {
	v, err := p.readUint32()
	if err != nil {
		return 0, err
	}
	if int32(v) < 0 || v > MaxFrameSize {
		return 0, fmt.Errorf("invalid size %d", int32(v))
	}
	return int(v), nil
}

func (p *binaryReader) pushStruct() {}
func (p *binaryReader) popStruct()  {}

func fromCompactType(b byte) (FieldType, error) {
	switch b {
	case compactBoolTrue, compactBoolFalse:
		return FieldBool, nil
	case compactByte:
		return FieldByte, nil
	case compactI16:
		return FieldI16, nil
	case compactI32:
		return FieldI32, nil
	case compactI64:
		return FieldI64, nil
	case compactDouble:
		return FieldDouble, nil
	case compactBinary:
		return FieldString, nil
	case compactList:
		return FieldList, nil
	case compactSet:
		return FieldSet, nil
	case compactMap:
		return FieldMap, nil
	case compactStruct:
		return FieldStruct, nil
	default:
		return 0, fmt.Errorf("unknown compact type %d", b)
	}
}

// compactReader decodes the compact protocol, including field-id deltas and
// bool values folded into the field header.
type compactReader struct {
	r byteReader

	lastFieldID  int16
	fieldIDStack []int16

	pendingBool    bool
	pendingBoolVal bool
}

func (p *compactReader) readMessageBegin() (*MessageMetadata, error) {
	id, err := p.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if id != compactProtocolID {
		return nil, fmt.Errorf("invalid compact protocol id 0x%02x", id)
	}
	verType, err := p.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if verType&0x1F != compactVersion {
		return nil, fmt.Errorf("invalid compact protocol version %d", verType&0x1F)
	}
	msgType := MessageType(verType >> compactTypeShift & 0x07)
	if msgType < MessageCall || msgType > MessageOneway {
		return nil, fmt.Errorf("invalid message type %d", int8(msgType))
	}
	seqID, err := binary.ReadUvarint(p.r)
	if err != nil {
		return nil, err
	}
	name, err := p.readString()
	if err != nil {
		return nil, err
	}
	return &MessageMetadata{
		MethodName:  name,
		MessageType: msgType,
		SequenceID:  int32(uint32(seqID)),
	}, nil
}

func (p *compactReader) readFieldBegin() (FieldType, int16, error) {
	b, err := p.r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	if b == compactStop {
		return FieldStop, 0, nil
	}

	delta := int16(b >> 4)
	ctype := b & 0x0F

	var fieldID int16
	if delta == 0 {
		id, err := p.readZigzag32()
		if err != nil {
			return 0, 0, err
		}
		fieldID = int16(id)
	} else {
		fieldID = p.lastFieldID + delta
	}
	p.lastFieldID = fieldID

	ft, err := fromCompactType(ctype)
	if err != nil {
		return 0, 0, err
	}
	if ft == FieldBool {
		p.pendingBool = true
		p.pendingBoolVal = ctype == compactBoolTrue
	}
	return ft, fieldID, nil
}

func (p *compactReader) readMapBegin() (FieldType, FieldType, int, error) {
	size, err := p.readVarSize()
	if err != nil {
		return 0, 0, 0, err
	}
	if size == 0 {
		return FieldBool, FieldBool, 0, nil
	}
	kv, err := p.r.ReadByte()
	if err != nil {
		return 0, 0, 0, err
	}
	keyType, err := fromCompactType(kv >> 4)
	if err != nil {
		return 0, 0, 0, err
	}
	valueType, err := fromCompactType(kv & 0x0F)
	if err != nil {
		return 0, 0, 0, err
	}
	return keyType, valueType, size, nil
}

func (p *compactReader) readListBegin() (FieldType, int, error) {
	b, err := p.r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	elemType, err := fromCompactType(b & 0x0F)
	if err != nil {
		return 0, 0, err
	}
	size := int(b >> 4)
	if size == 15 {
		size, err = p.readVarSize()
		if err != nil {
			return 0, 0, err
		}
	}
	return elemType, size, nil
}

func (p *compactReader) readSetBegin() (FieldType, int, error) {
	return p.readListBegin()
}

func (p *compactReader) readBool() (bool, error) {
	if p.pendingBool {
		p.pendingBool = false
		return p.pendingBoolVal, nil
	}
	b, err := p.r.ReadByte()
	return b == compactBoolTrue, err
}

func (p *compactReader) readByte() (int8, error) {
	b, err := p.r.ReadByte()
	return int8(b), err
}

func (p *compactReader) readI16() (int16, error) {
	v, err := p.readZigzag32()
	return int16(v), err
}

func (p *compactReader) readI32() (int32, error) {
	return p.readZigzag32()
}

func (p *compactReader) readI64() (int64, error) {
	v, err := binary.ReadUvarint(p.r)
	if err != nil {
		return 0, err
	}
	return int64(v>>1) ^ -int64(v&1), nil
}

func (p *compactReader) readDouble() (float64, error) {
	var b [8]byte
	if _, err := io.ReadFull(p.r, b[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:])), nil
}

func (p *compactReader) readString() (string, error) {
	n, err := p.readVarSize()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (p *compactReader) readZigzag32() (int32, error) {
	v, err := binary.ReadUvarint(p.r)
	if err != nil {
		return 0, err
	}
	u := uint32(v)
	return int32(u>>1) ^ -int32(u&1), nil
}

func (p *compactReader) readVarSize() (int, error) {
	v, err := binary.ReadUvarint(p.r)
	if err != nil {
		return 0, err
	}
	if v > MaxFrameSize {
		return 0, fmt.Errorf("invalid size %d", v)
	}
	return int(v), nil
}

func (p *compactReader) pushStruct() {
	p.fieldIDStack = append(p.fieldIDStack, p.lastFieldID)
	p.lastFieldID = 0
}

func (p *compactReader) popStruct() {
	if n := len(p.fieldIDStack); n > 0 {
		p.lastFieldID = p.fieldIDStack[n-1]
		p.fieldIDStack = p.fieldIDStack[:n-1]
	}
}
