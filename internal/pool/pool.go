// Package pool provides upstream TCP connection pooling: the callback
// contract consumed by the router and a per-cluster pool implementation with
// idle-connection reuse and a single connection attempt per request.
package pool

import "bytes"

// FailureReason classifies why a connection request failed.
type FailureReason int

const (
	// RemoteConnectionFailure means the remote end refused or dropped the
	// connection attempt.
	RemoteConnectionFailure FailureReason = iota
	// LocalConnectionFailure means a local error prevented the attempt.
	LocalConnectionFailure
	// Timeout means the connection attempt timed out.
	Timeout
	// Overflow means the pool's pending-connection limit was reached.
	Overflow
)

func (r FailureReason) String() string {
	switch r {
	case RemoteConnectionFailure:
		return "remote connection failure"
	case LocalConnectionFailure:
		return "local connection failure"
	case Timeout:
		return "timeout"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// ConnectionEvent signals a lifecycle change on a pooled connection.
type ConnectionEvent int

const (
	// EventRemoteClose means the remote end closed the connection.
	EventRemoteClose ConnectionEvent = iota
	// EventLocalClose means the connection was closed locally.
	EventLocalClose
)

// CloseType controls how a connection is closed.
type CloseType int

const (
	// CloseNoFlush discards buffered writes and closes immediately.
	CloseNoFlush CloseType = iota
	// CloseFlushWrite flushes pending writes before closing.
	CloseFlushWrite
)

// Callbacks receives the outcome of a connection request.
type Callbacks interface {
	// OnPoolReady delivers an exclusive lease on a pooled connection.
	OnPoolReady(conn ConnectionData)
	// OnPoolFailure reports that no connection could be provided.
	OnPoolFailure(reason FailureReason)
}

// Cancellable is the handle for an in-flight connection request.
type Cancellable interface {
	// Cancel abandons the request. No callbacks fire after Cancel returns.
	Cancel()
}

// ConnPool hands out upstream connections.
type ConnPool interface {
	// NewConnection requests a connection. If one is immediately available
	// the callbacks fire synchronously and the returned handle is nil;
	// otherwise the handle can cancel the pending request.
	NewConnection(cb Callbacks) Cancellable
}

// UpstreamCallbacks receives data and lifecycle events from a leased
// connection.
type UpstreamCallbacks interface {
	OnUpstreamData(buf *bytes.Buffer, endStream bool)
	OnEvent(event ConnectionEvent)
}

// Connection is the write side of a leased connection.
type Connection interface {
	// Write sends the buffer. endStream half-closes the write side after
	// the bytes are flushed.
	Write(buf *bytes.Buffer, endStream bool) error
	// Close terminates the connection.
	Close(ct CloseType)
}

// ConnectionData is an exclusive lease on one pooled connection. Exactly one
// of Release or Connection().Close must end the lease.
type ConnectionData interface {
	Connection() Connection

	// AddUpstreamCallbacks registers the listener for data and events read
	// from the connection while leased.
	AddUpstreamCallbacks(cb UpstreamCallbacks)

	// ConnectionState returns the opaque per-connection state, or nil.
	ConnectionState() any

	// SetConnectionState stores opaque state that survives across leases of
	// this physical connection.
	SetConnectionState(state any)

	// Release returns the connection to the pool for reuse.
	Release()
}
