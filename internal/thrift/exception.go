package thrift

import (
	"bytes"
	"fmt"
)

// AppExceptionType is the Thrift application-exception code. Values match
// the TApplicationException codes on the wire.
type AppExceptionType int32

const (
	AppUnknownMethod         AppExceptionType = 1
	AppInvalidMessageType    AppExceptionType = 2
	AppWrongMethodName       AppExceptionType = 3
	AppBadSequenceID         AppExceptionType = 4
	AppMissingResult         AppExceptionType = 5
	AppInternalError         AppExceptionType = 6
	AppProtocolError         AppExceptionType = 7
	AppInvalidTransform      AppExceptionType = 8
	AppInvalidProtocol       AppExceptionType = 9
	AppUnsupportedClientType AppExceptionType = 10
)

func (t AppExceptionType) String() string {
	switch t {
	case AppUnknownMethod:
		return "unknown method"
	case AppInvalidMessageType:
		return "invalid message type"
	case AppWrongMethodName:
		return "wrong method name"
	case AppBadSequenceID:
		return "bad sequence id"
	case AppMissingResult:
		return "missing result"
	case AppInternalError:
		return "internal error"
	case AppProtocolError:
		return "protocol error"
	case AppInvalidTransform:
		return "invalid transform"
	case AppInvalidProtocol:
		return "invalid protocol"
	case AppUnsupportedClientType:
		return "unsupported client type"
	default:
		return fmt.Sprintf("unknown(%d)", int32(t))
	}
}

// AppException is a Thrift application-exception reply. It is the single
// representation for router-detected faults that are answered locally
// instead of being forwarded upstream.
type AppException struct {
	Type    AppExceptionType
	Message string
}

// NewAppException builds an AppException with a formatted message.
func NewAppException(t AppExceptionType, format string, args ...any) *AppException {
	return &AppException{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *AppException) Error() string {
	return e.Message
}

// Encode serializes the exception as a standard TApplicationException reply:
// an Exception message wrapping a struct with the message in field 1 and the
// type code in field 2, framed by the downstream transport.
func (e *AppException) Encode(metadata *MessageMetadata, transport Transport, protocol Protocol, out *bytes.Buffer) error {
	msg := &bytes.Buffer{}

	replyMeta := &MessageMetadata{
		MethodName:  metadata.MethodName,
		MessageType: MessageException,
		SequenceID:  metadata.SequenceID,
	}

	protocol.WriteMessageBegin(msg, replyMeta)
	protocol.WriteStructBegin(msg, "TApplicationException")

	protocol.WriteFieldBegin(msg, "message", FieldString, 1)
	protocol.WriteString(msg, e.Message)
	protocol.WriteFieldEnd(msg)

	protocol.WriteFieldBegin(msg, "type", FieldI32, 2)
	protocol.WriteInt32(msg, int32(e.Type))
	protocol.WriteFieldEnd(msg)

	protocol.WriteFieldBegin(msg, "", FieldStop, 0)
	protocol.WriteStructEnd(msg)
	protocol.WriteMessageEnd(msg)

	if err := transport.EncodeFrame(out, replyMeta, msg); err != nil {
		return fmt.Errorf("failed to frame exception reply: %w", err)
	}
	return nil
}
