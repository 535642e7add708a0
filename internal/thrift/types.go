// Package thrift defines the Thrift wire-level vocabulary shared across the
// proxy: message metadata, field and message type enums, the decoder event
// contract, and the pluggable Transport/Protocol codec interfaces with their
// concrete binary, compact, framed, unframed, and header implementations.
package thrift

import "fmt"

// MessageType is the Thrift message type carried in a message header.
type MessageType int8

const (
	// MessageCall is a two-way method invocation.
	MessageCall MessageType = 1
	// MessageReply is a successful method response.
	MessageReply MessageType = 2
	// MessageException is an application-exception response.
	MessageException MessageType = 3
	// MessageOneway is a method invocation with no response.
	MessageOneway MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageCall:
		return "call"
	case MessageReply:
		return "reply"
	case MessageException:
		return "exception"
	case MessageOneway:
		return "oneway"
	default:
		return fmt.Sprintf("unknown(%d)", int8(t))
	}
}

// FieldType is the Thrift field type identifier used in struct field headers
// and container element headers. Values match the binary protocol encoding.
type FieldType int8

const (
	FieldStop   FieldType = 0
	FieldBool   FieldType = 2
	FieldByte   FieldType = 3
	FieldDouble FieldType = 4
	FieldI16    FieldType = 6
	FieldI32    FieldType = 8
	FieldI64    FieldType = 10
	FieldString FieldType = 11
	FieldStruct FieldType = 12
	FieldMap    FieldType = 13
	FieldSet    FieldType = 14
	FieldList   FieldType = 15
)

func (t FieldType) String() string {
	switch t {
	case FieldStop:
		return "stop"
	case FieldBool:
		return "bool"
	case FieldByte:
		return "byte"
	case FieldDouble:
		return "double"
	case FieldI16:
		return "i16"
	case FieldI32:
		return "i32"
	case FieldI64:
		return "i64"
	case FieldString:
		return "string"
	case FieldStruct:
		return "struct"
	case FieldMap:
		return "map"
	case FieldSet:
		return "set"
	case FieldList:
		return "list"
	default:
		return fmt.Sprintf("unknown(%d)", int8(t))
	}
}

// TransportType selects a framing layer. TransportAuto defers the choice to
// the downstream connection's detected transport.
type TransportType int

const (
	TransportAuto TransportType = iota
	TransportFramed
	TransportUnframed
	TransportHeader
)

func (t TransportType) String() string {
	switch t {
	case TransportAuto:
		return "auto"
	case TransportFramed:
		return "framed"
	case TransportUnframed:
		return "unframed"
	case TransportHeader:
		return "header"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseTransportType converts a config string to a TransportType.
func ParseTransportType(s string) (TransportType, error) {
	switch s {
	case "", "auto":
		return TransportAuto, nil
	case "framed":
		return TransportFramed, nil
	case "unframed":
		return TransportUnframed, nil
	case "header":
		return TransportHeader, nil
	default:
		return TransportAuto, fmt.Errorf("unknown transport type %q", s)
	}
}

// ProtocolType selects a serialization layer. ProtocolAuto defers the choice
// to the downstream connection's detected protocol.
type ProtocolType int

const (
	ProtocolAuto ProtocolType = iota
	ProtocolBinary
	ProtocolCompact
)

func (t ProtocolType) String() string {
	switch t {
	case ProtocolAuto:
		return "auto"
	case ProtocolBinary:
		return "binary"
	case ProtocolCompact:
		return "compact"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseProtocolType converts a config string to a ProtocolType.
func ParseProtocolType(s string) (ProtocolType, error) {
	switch s {
	case "", "auto":
		return ProtocolAuto, nil
	case "binary":
		return ProtocolBinary, nil
	case "compact":
		return ProtocolCompact, nil
	default:
		return ProtocolAuto, fmt.Errorf("unknown protocol type %q", s)
	}
}

// MessageMetadata carries the method name, message type, and sequence id for
// one Thrift message. It is populated by the downstream decoder before
// MessageBegin and is read-only afterwards.
type MessageMetadata struct {
	MethodName  string
	MessageType MessageType
	SequenceID  int32
}

// FilterStatus is returned by every decoder event handler and controls
// whether the calling decoder keeps consuming input.
type FilterStatus int

const (
	// Continue lets the decoder proceed to the next event.
	Continue FilterStatus = iota
	// StopIteration pauses the decoder until ContinueDecoding is called or
	// the request is aborted.
	StopIteration
)

func (s FilterStatus) String() string {
	if s == Continue {
		return "continue"
	}
	return "stop-iteration"
}

// DecoderEventHandler receives the structural event stream produced by a
// Thrift message decoder: transport and message boundaries, struct, field,
// and container boundaries, and scalar values, in the strict order defined
// by the Thrift grammar.
type DecoderEventHandler interface {
	TransportBegin(metadata *MessageMetadata) FilterStatus
	TransportEnd() FilterStatus
	MessageBegin(metadata *MessageMetadata) FilterStatus
	MessageEnd() FilterStatus
	StructBegin(name string) FilterStatus
	StructEnd() FilterStatus
	FieldBegin(name string, fieldType FieldType, fieldID int16) FilterStatus
	FieldEnd() FilterStatus
	BoolValue(value bool) FilterStatus
	ByteValue(value int8) FilterStatus
	Int16Value(value int16) FilterStatus
	Int32Value(value int32) FilterStatus
	Int64Value(value int64) FilterStatus
	DoubleValue(value float64) FilterStatus
	StringValue(value string) FilterStatus
	MapBegin(keyType, valueType FieldType, size int) FilterStatus
	MapEnd() FilterStatus
	ListBegin(elemType FieldType, size int) FilterStatus
	ListEnd() FilterStatus
	SetBegin(elemType FieldType, size int) FilterStatus
	SetEnd() FilterStatus
}

// ConnectionState is the per-physical-connection state kept across requests
// on a pooled upstream connection. It currently records whether the
// protocol-upgrade handshake has completed, so a reused connection skips
// renegotiation.
type ConnectionState struct {
	upgradeComplete bool
}

// NewConnectionState returns a fresh ConnectionState with no upgrade recorded.
func NewConnectionState() *ConnectionState {
	return &ConnectionState{}
}

// MarkUpgradeComplete records that the upgrade handshake finished on this
// connection.
func (s *ConnectionState) MarkUpgradeComplete() {
	s.upgradeComplete = true
}

// UpgradeComplete reports whether the upgrade handshake already completed.
func (s *ConnectionState) UpgradeComplete() bool {
	return s.upgradeComplete
}
