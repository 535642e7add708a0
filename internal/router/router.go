// Package router implements the Thrift request router: a per-downstream-
// stream state machine that resolves a route and cluster for each decoded
// message, acquires an upstream connection from the cluster's pool,
// re-emits every decode event onto the upstream protocol encoder, relays the
// upstream response, and translates faults into application-exception
// replies or downstream resets.
package router

import (
	"bytes"
	"net"

	"github.com/ferry-io/ferry/internal/logging"
	"github.com/ferry-io/ferry/internal/metrics"
	"github.com/ferry-io/ferry/internal/pool"
	"github.com/ferry-io/ferry/internal/route"
	"github.com/ferry-io/ferry/internal/thrift"
)

// DecoderFilterCallbacks is the router's view of the downstream connection:
// route resolution, decode flow control, local replies, and the response
// relay.
type DecoderFilterCallbacks interface {
	// Route returns the route for the current message, or nil.
	Route() route.Route

	// Connection returns the downstream connection, or nil.
	Connection() net.Conn

	// DownstreamTransportType returns the transport detected on the
	// downstream connection.
	DownstreamTransportType() thrift.TransportType

	// DownstreamProtocolType returns the protocol detected on the
	// downstream connection.
	DownstreamProtocolType() thrift.ProtocolType

	// ContinueDecoding resumes a decoder paused by StopIteration.
	ContinueDecoding()

	// SendLocalReply encodes and writes a locally generated response
	// downstream.
	SendLocalReply(response thrift.DirectResponse)

	// ResetDownstreamConnection abruptly closes the downstream connection.
	ResetDownstreamConnection()

	// StartUpstreamResponse announces that upstream response bytes will
	// follow, decoded with the given transport and protocol.
	StartUpstreamResponse(transport thrift.Transport, protocol thrift.Protocol)

	// UpstreamData relays response bytes downstream and returns true once
	// the response is complete.
	UpstreamData(buf *bytes.Buffer) bool
}

// ClusterInfo describes one upstream cluster.
type ClusterInfo interface {
	Name() string
	MaintenanceMode() bool

	// TransportType returns the cluster's configured upstream transport.
	// TransportAuto means use the downstream transport.
	TransportType() thrift.TransportType

	// ProtocolType returns the cluster's configured upstream protocol.
	// ProtocolAuto means use the downstream protocol.
	ProtocolType() thrift.ProtocolType

	// Transforms returns the payload transforms applied when the upstream
	// transport is the header transport.
	Transforms() []thrift.TransformID
}

// ClusterManager resolves cluster names to cluster info and connection
// pools.
type ClusterManager interface {
	// Get returns the named cluster, or nil if unknown.
	Get(clusterName string) ClusterInfo

	// ConnPool returns a connection pool for the named cluster, or nil if
	// no healthy upstream is available.
	ConnPool(clusterName string) pool.ConnPool
}

// requestState tracks the lifecycle of the single in-flight request.
type requestState int

const (
	stateIdle requestState = iota
	stateAwaitingConnection
	stateAwaitingUpgrade
	stateForwarding
	stateAwaitingResponse
	stateDone
	stateError
)

// Fault names for metrics labels.
const (
	faultNoRoute            = "no_route"
	faultUnknownCluster     = "unknown_cluster"
	faultMaintenanceMode    = "maintenance_mode"
	faultNoHealthyUpstream  = "no_healthy_upstream"
	faultConnectionFailure  = "connection_failure"
	faultTooManyConnections = "too_many_connections"
	faultTruncatedResponse  = "truncated_response"
)

// Router forwards one decoded Thrift message stream to a pooled upstream
// connection. One Router is bound to one downstream stream and is driven
// only by that stream's dispatch context; it persists across sequential
// requests while the downstream connection stays open.
type Router struct {
	clusterManager ClusterManager
	logger         *logging.Logger
	metrics        *metrics.RouterMetrics

	// Factory hooks; overridable in tests.
	newTransport func(thrift.TransportType) (thrift.Transport, error)
	newProtocol  func(thrift.ProtocolType) (thrift.Protocol, error)

	callbacks DecoderFilterCallbacks
	metadata  *thrift.MessageMetadata
	route     route.Route
	cluster   ClusterInfo
	upstream  *upstreamRequest
	destroyed bool
}

// New creates a Router using the given cluster manager.
func New(clusterManager ClusterManager, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Router{
		clusterManager: clusterManager,
		logger:         logger,
		newTransport:   thrift.NewTransport,
		newProtocol:    thrift.NewProtocol,
	}
}

// WithMetrics sets the router metrics.
// Returns the router for method chaining.
func (r *Router) WithMetrics(m *metrics.RouterMetrics) *Router {
	r.metrics = m
	return r
}

// SetDecoderFilterCallbacks binds the downstream callbacks. Must be called
// before any decoder event.
func (r *Router) SetDecoderFilterCallbacks(cb DecoderFilterCallbacks) {
	r.callbacks = cb
}

// DownstreamConnection returns the downstream connection, or nil before the
// callbacks are bound.
func (r *Router) DownstreamConnection() net.Conn {
	if r.callbacks == nil {
		return nil
	}
	return r.callbacks.Connection()
}

// OnDestroy tears the router down with the downstream stream. A pending
// connection request is cancelled; a bound connection is closed without
// flush. No callbacks fire afterwards.
func (r *Router) OnDestroy() {
	r.destroyed = true
	if r.upstream == nil {
		return
	}
	if r.upstream.connPoolHandle != nil {
		r.upstream.connPoolHandle.Cancel()
		r.upstream.connPoolHandle = nil
	}
	r.upstream.closeConnection(pool.CloseNoFlush)
}

// ResetUpstreamConnection closes the bound upstream connection without
// flush. Safe to call from inside the UpstreamData relay callback; the
// connection is not touched again afterwards.
func (r *Router) ResetUpstreamConnection() {
	if r.upstream != nil {
		r.upstream.closeConnection(pool.CloseNoFlush)
	}
}

// TransportBegin is a pass-through.
func (r *Router) TransportBegin(*thrift.MessageMetadata) thrift.FilterStatus {
	return thrift.Continue
}

// TransportEnd completes the request send. Non-oneway requests move to
// awaiting the upstream response.
func (r *Router) TransportEnd() thrift.FilterStatus {
	if r.upstream != nil && !r.upstream.oneway {
		r.upstream.state = stateAwaitingResponse
	}
	return thrift.Continue
}

// MessageBegin resolves the route and cluster and starts connection
// acquisition. Routing faults are rejected synchronously with a local
// exception reply and StopIteration.
func (r *Router) MessageBegin(metadata *thrift.MessageMetadata) thrift.FilterStatus {
	r.reset()

	r.route = r.callbacks.Route()
	if r.route == nil {
		r.logger.Debugf("no route", map[string]any{"method": metadata.MethodName})
		return r.rejectRequest(metadata, faultNoRoute,
			thrift.NewAppException(thrift.AppUnknownMethod,
				"no route for method '%s'", metadata.MethodName))
	}

	clusterName := r.route.RouteEntry().ClusterName()
	r.cluster = r.clusterManager.Get(clusterName)
	if r.cluster == nil {
		return r.rejectRequest(metadata, faultUnknownCluster,
			thrift.NewAppException(thrift.AppInternalError,
				"unknown cluster '%s'", clusterName))
	}
	if r.cluster.MaintenanceMode() {
		return r.rejectRequest(metadata, faultMaintenanceMode,
			thrift.NewAppException(thrift.AppInternalError,
				"maintenance mode for cluster '%s'", clusterName))
	}

	transportType := r.cluster.TransportType()
	if transportType == thrift.TransportAuto {
		transportType = r.callbacks.DownstreamTransportType()
	}
	protocolType := r.cluster.ProtocolType()
	if protocolType == thrift.ProtocolAuto {
		protocolType = r.callbacks.DownstreamProtocolType()
	}

	transport, err := r.newTransport(transportType)
	if err != nil {
		return r.rejectRequest(metadata, faultUnknownCluster,
			thrift.NewAppException(thrift.AppInternalError,
				"cluster '%s': %s", clusterName, err))
	}
	if transportType == thrift.TransportHeader {
		if transforms := r.cluster.Transforms(); len(transforms) > 0 {
			transport = thrift.NewHeaderTransport(transforms).WithProtocol(protocolType)
		}
	}
	protocol, err := r.newProtocol(protocolType)
	if err != nil {
		return r.rejectRequest(metadata, faultUnknownCluster,
			thrift.NewAppException(thrift.AppInternalError,
				"cluster '%s': %s", clusterName, err))
	}

	connPool := r.clusterManager.ConnPool(clusterName)
	if connPool == nil {
		return r.rejectRequest(metadata, faultNoHealthyUpstream,
			thrift.NewAppException(thrift.AppInternalError,
				"no healthy upstream for cluster '%s'", clusterName))
	}

	r.metadata = metadata
	r.metrics.RecordRequest(clusterName, metadata.MessageType.String())
	r.upstream = &upstreamRequest{
		router:    r,
		connPool:  connPool,
		transport: transport,
		protocol:  protocol,
		oneway:    metadata.MessageType == thrift.MessageOneway,
		buffer:    &bytes.Buffer{},
	}
	return r.upstream.start()
}

// MessageEnd finalizes the message, frames it, and writes it upstream. A
// oneway request releases its connection here; no response is expected.
func (r *Router) MessageEnd() thrift.FilterStatus {
	u := r.upstream
	if u == nil {
		return thrift.Continue
	}
	u.protocol.WriteMessageEnd(u.buffer)

	out := &bytes.Buffer{}
	if err := u.transport.EncodeFrame(out, r.metadata, u.buffer); err != nil {
		r.logger.Errorf("failed to frame upstream request", map[string]any{"error": err.Error()})
		u.state = stateError
		r.handleFault(faultConnectionFailure,
			thrift.NewAppException(thrift.AppInternalError, "connection failure: %s", err))
		return thrift.StopIteration
	}
	if err := u.conn().Write(out, false); err != nil {
		r.logger.Warnf("upstream write failed", map[string]any{"error": err.Error()})
		u.state = stateError
		u.closeConnection(pool.CloseNoFlush)
		r.handleFault(faultConnectionFailure,
			thrift.NewAppException(thrift.AppInternalError, "connection failure: %s", err))
		return thrift.StopIteration
	}
	u.requestComplete = true

	if u.oneway {
		u.releaseConnection()
		u.state = stateDone
	}
	return thrift.Continue
}

// StructBegin forwards a struct start.
func (r *Router) StructBegin(name string) thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteStructBegin(u.buffer, name)
	}
	return thrift.Continue
}

// StructEnd forwards a struct end, emitting the stop-field marker.
func (r *Router) StructEnd() thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteFieldBegin(u.buffer, "", thrift.FieldStop, 0)
		u.protocol.WriteStructEnd(u.buffer)
	}
	return thrift.Continue
}

// FieldBegin forwards a field header.
func (r *Router) FieldBegin(name string, fieldType thrift.FieldType, fieldID int16) thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteFieldBegin(u.buffer, name, fieldType, fieldID)
	}
	return thrift.Continue
}

// FieldEnd forwards a field end.
func (r *Router) FieldEnd() thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteFieldEnd(u.buffer)
	}
	return thrift.Continue
}

// BoolValue forwards a bool.
func (r *Router) BoolValue(value bool) thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteBool(u.buffer, value)
	}
	return thrift.Continue
}

// ByteValue forwards a byte.
func (r *Router) ByteValue(value int8) thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteByte(u.buffer, value)
	}
	return thrift.Continue
}

// Int16Value forwards an i16.
func (r *Router) Int16Value(value int16) thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteInt16(u.buffer, value)
	}
	return thrift.Continue
}

// Int32Value forwards an i32.
func (r *Router) Int32Value(value int32) thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteInt32(u.buffer, value)
	}
	return thrift.Continue
}

// Int64Value forwards an i64.
func (r *Router) Int64Value(value int64) thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteInt64(u.buffer, value)
	}
	return thrift.Continue
}

// DoubleValue forwards a double.
func (r *Router) DoubleValue(value float64) thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteDouble(u.buffer, value)
	}
	return thrift.Continue
}

// StringValue forwards a string.
func (r *Router) StringValue(value string) thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteString(u.buffer, value)
	}
	return thrift.Continue
}

// MapBegin forwards a map header.
func (r *Router) MapBegin(keyType, valueType thrift.FieldType, size int) thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteMapBegin(u.buffer, keyType, valueType, size)
	}
	return thrift.Continue
}

// MapEnd forwards a map end.
func (r *Router) MapEnd() thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteMapEnd(u.buffer)
	}
	return thrift.Continue
}

// ListBegin forwards a list header.
func (r *Router) ListBegin(elemType thrift.FieldType, size int) thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteListBegin(u.buffer, elemType, size)
	}
	return thrift.Continue
}

// ListEnd forwards a list end.
func (r *Router) ListEnd() thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteListEnd(u.buffer)
	}
	return thrift.Continue
}

// SetBegin forwards a set header.
func (r *Router) SetBegin(elemType thrift.FieldType, size int) thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteSetBegin(u.buffer, elemType, size)
	}
	return thrift.Continue
}

// SetEnd forwards a set end.
func (r *Router) SetEnd() thrift.FilterStatus {
	if u := r.upstream; u != nil {
		u.protocol.WriteSetEnd(u.buffer)
	}
	return thrift.Continue
}

// OnPoolReady delivers the upstream connection lease to the in-flight
// request.
func (r *Router) OnPoolReady(conn pool.ConnectionData) {
	if r.destroyed || r.upstream == nil {
		conn.Release()
		return
	}
	r.upstream.onPoolReady(conn)
}

// OnPoolFailure translates a connection-acquisition failure into a local
// reply or downstream reset.
func (r *Router) OnPoolFailure(reason pool.FailureReason) {
	if r.destroyed || r.upstream == nil {
		return
	}
	r.upstream.onPoolFailure(reason)
}

// OnUpstreamData feeds upstream bytes to the handshake or the response
// relay.
func (r *Router) OnUpstreamData(buf *bytes.Buffer, endStream bool) {
	if r.destroyed || r.upstream == nil {
		return
	}
	r.upstream.onUpstreamData(buf, endStream)
}

// OnEvent handles a close event on the bound upstream connection. Events
// arriving after the response completed are inert.
func (r *Router) OnEvent(event pool.ConnectionEvent) {
	if r.destroyed || r.upstream == nil {
		return
	}
	r.upstream.onEvent(event)
}

// reset clears per-request state so the router can serve the next message on
// the same downstream stream.
func (r *Router) reset() {
	r.metadata = nil
	r.route = nil
	r.cluster = nil
	r.upstream = nil
}

// rejectRequest sends a synchronous local reply for a routing fault. The
// request never reaches the network.
func (r *Router) rejectRequest(metadata *thrift.MessageMetadata, fault string, ex *thrift.AppException) thrift.FilterStatus {
	r.metadata = metadata
	r.handleFault(fault, ex)
	return thrift.StopIteration
}

// handleFault performs exactly one terminal action for a fault: a local
// exception reply when a reply channel exists, or a downstream reset when it
// does not (oneway requests).
func (r *Router) handleFault(fault string, ex *thrift.AppException) {
	if r.metadata != nil && r.metadata.MessageType == thrift.MessageOneway {
		r.metrics.RecordDownstreamReset()
		r.callbacks.ResetDownstreamConnection()
		return
	}
	r.metrics.RecordLocalReply(fault)
	r.callbacks.SendLocalReply(ex)
}

// upstreamRequest is the per-request upstream state: the pending pool
// handle, the bound connection, and the encoder pair bound to it. At most
// one exists per Router.
type upstreamRequest struct {
	router    *Router
	connPool  pool.ConnPool
	transport thrift.Transport
	protocol  thrift.Protocol
	oneway    bool

	// buffer accumulates the re-encoded message until MessageEnd frames it.
	buffer *bytes.Buffer

	connPoolHandle  pool.Cancellable
	connData        pool.ConnectionData
	connState       *thrift.ConnectionState
	upgradeResponse thrift.ThriftObject

	state            requestState
	inStart          bool
	deferredContinue bool
	requestComplete  bool
	responseStarted  bool
	responseComplete bool
}

// start requests a connection from the pool. Pool callbacks may fire
// synchronously (idle connection, immediate failure); otherwise decoding
// pauses until the pool resolves.
func (u *upstreamRequest) start() thrift.FilterStatus {
	u.state = stateAwaitingConnection
	u.inStart = true
	handle := u.connPool.NewConnection(u.router)
	u.inStart = false

	if u.state == stateError {
		// Pool failed synchronously; the fault was already answered.
		return thrift.StopIteration
	}
	if handle != nil {
		u.connPoolHandle = handle
		return thrift.StopIteration
	}
	if u.state == stateAwaitingUpgrade {
		return thrift.StopIteration
	}
	return thrift.Continue
}

func (u *upstreamRequest) conn() pool.Connection {
	return u.connData.Connection()
}

func (u *upstreamRequest) onPoolReady(conn pool.ConnectionData) {
	u.connPoolHandle = nil
	u.connData = conn
	conn.AddUpstreamCallbacks(u.router)

	continueDecoding := !u.inStart

	if u.protocol.SupportsUpgrade() {
		state, _ := conn.ConnectionState().(*thrift.ConnectionState)
		if state == nil {
			state = thrift.NewConnectionState()
			conn.SetConnectionState(state)
		}
		u.connState = state

		buf := &bytes.Buffer{}
		u.upgradeResponse = u.protocol.AttemptUpgrade(u.transport, state, buf)
		if u.upgradeResponse != nil {
			u.state = stateAwaitingUpgrade
			u.deferredContinue = continueDecoding
			if err := u.conn().Write(buf, false); err != nil {
				u.onWriteFailure(err)
			}
			return
		}
	}
	u.onRequestStart(continueDecoding)
}

// onRequestStart writes the buffered message begin onto the upstream
// encoder and, if decoding had stalled, resumes it.
func (u *upstreamRequest) onRequestStart(continueDecoding bool) {
	u.protocol.WriteMessageBegin(u.buffer, u.router.metadata)
	u.state = stateForwarding
	if continueDecoding {
		u.router.callbacks.ContinueDecoding()
	}
}

func (u *upstreamRequest) onPoolFailure(reason pool.FailureReason) {
	u.connPoolHandle = nil
	u.state = stateError

	clusterName := u.router.cluster.Name()
	switch reason {
	case pool.Overflow:
		u.router.handleFault(faultTooManyConnections,
			thrift.NewAppException(thrift.AppInternalError,
				"too many connections to cluster '%s'", clusterName))
	default:
		u.router.handleFault(faultConnectionFailure,
			thrift.NewAppException(thrift.AppInternalError,
				"connection failure to cluster '%s'", clusterName))
	}
}

func (u *upstreamRequest) onWriteFailure(err error) {
	u.router.logger.Warnf("upstream write failed", map[string]any{"error": err.Error()})
	u.state = stateError
	u.closeConnection(pool.CloseNoFlush)
	u.router.handleFault(faultConnectionFailure,
		thrift.NewAppException(thrift.AppInternalError, "connection failure: %s", err))
}

func (u *upstreamRequest) onUpstreamData(buf *bytes.Buffer, endStream bool) {
	if u.upgradeResponse != nil {
		if u.upgradeResponse.OnData(buf) {
			u.protocol.CompleteUpgrade(u.connState, u.upgradeResponse)
			u.upgradeResponse = nil
			u.onRequestStart(u.deferredContinue)
		}
		return
	}
	if u.connData == nil || u.responseComplete {
		return
	}

	if !u.responseStarted {
		u.router.callbacks.StartUpstreamResponse(u.transport, u.protocol)
		u.responseStarted = true
	}

	done := u.router.callbacks.UpstreamData(buf)
	if u.connData == nil {
		// The relay reset the upstream connection mid-callback; it was
		// closed without flush and must not be touched again.
		return
	}
	if done {
		u.responseComplete = true
		u.state = stateDone
		u.router.metrics.RecordResponse(u.router.cluster.Name(), true)
		u.releaseConnection()
		return
	}
	if endStream {
		// Upstream half-closed before the response completed.
		u.state = stateError
		u.router.metrics.RecordResponse(u.router.cluster.Name(), false)
		u.releaseConnection()
		u.router.metrics.RecordDownstreamReset()
		u.router.callbacks.ResetDownstreamConnection()
	}
}

func (u *upstreamRequest) onEvent(event pool.ConnectionEvent) {
	if u.connData == nil || u.responseComplete {
		return
	}
	if u.oneway && u.requestComplete {
		return
	}
	u.state = stateError
	u.closeConnection(pool.CloseNoFlush)
	u.router.handleFault(faultConnectionFailure,
		thrift.NewAppException(thrift.AppInternalError,
			"connection failure to cluster '%s'", u.router.cluster.Name()))
}

// releaseConnection returns the leased connection to the pool exactly once.
func (u *upstreamRequest) releaseConnection() {
	if u.connData == nil {
		return
	}
	u.connData.Release()
	u.connData = nil
}

// closeConnection closes the leased connection without returning it to the
// pool.
func (u *upstreamRequest) closeConnection(ct pool.CloseType) {
	if u.connData == nil {
		return
	}
	u.connData.Connection().Close(ct)
	u.connData = nil
}
