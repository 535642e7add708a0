package proxy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ferry-io/ferry/internal/logging"
	"github.com/ferry-io/ferry/internal/pool"
	"github.com/ferry-io/ferry/internal/route"
	"github.com/ferry-io/ferry/internal/router"
	"github.com/ferry-io/ferry/internal/thrift"
)

// connHandler serves one downstream connection. All router and decoder work
// runs on the connection goroutine; callbacks originating on pool goroutines
// are posted as closures onto the dispatch channel and executed here.
type connHandler struct {
	srv    *Server
	conn   net.Conn
	logger *logging.Logger

	decoder *thrift.Decoder
	router  *router.Router

	dispatch chan func()
	done     chan struct{}

	// Per-request state, owned by the connection goroutine.
	metadata     *thrift.MessageMetadata
	currentRoute route.Route
	routeLooked  bool
	resumed      bool
	aborted      bool
	reset        bool
	destroyed    bool

	respTransport thrift.Transport
	respProtocol  thrift.Protocol
	respBuf       bytes.Buffer
	respDone      bool
}

func newConnHandler(s *Server, conn net.Conn, logger *logging.Logger) *connHandler {
	h := &connHandler{
		srv:      s,
		conn:     conn,
		logger:   logger,
		dispatch: make(chan func(), 64),
		done:     make(chan struct{}),
	}
	h.decoder = thrift.NewDecoder(conn, h, s.cfg.Transport, s.cfg.Protocol)
	h.router = router.New(&dispatchingClusterManager{inner: s.clusterManager, h: h}, logger).
		WithMetrics(s.routerMetrics)
	h.router.SetDecoderFilterCallbacks(h)
	return h
}

// run decodes messages until the connection ends, pumping dispatched
// callbacks whenever the request is waiting on the upstream.
func (h *connHandler) run() {
	stopMonitor := make(chan struct{})
	go h.monitorDownstream(stopMonitor)

	defer func() {
		close(h.done)
		close(stopMonitor)
		h.router.OnDestroy()
	}()

	for {
		// Forget the previous message's envelope so a failed decode cannot
		// address its reply with stale metadata.
		h.metadata = nil

		if h.srv.cfg.IdleTimeout > 0 {
			_ = h.conn.SetReadDeadline(time.Now().Add(h.srv.cfg.IdleTimeout))
		}

		err := h.decoder.DecodeMessage()
		switch {
		case err == nil:
			if !h.awaitResponse() {
				return
			}
		case errors.Is(err, thrift.ErrMessageAborted):
			// A local fault already answered this message.
			if h.reset || h.destroyed {
				return
			}
		case errors.Is(err, io.EOF):
			return
		default:
			if h.destroyed || h.reset {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				h.logger.Debug("downstream idle timeout")
				return
			}
			h.logger.Warnf("downstream decode error", map[string]any{"error": err.Error()})
			h.srv.connMetrics.RecordDecodeError("request")
			h.sendDecodeErrorReply(err)
			return
		}
	}
}

// awaitResponse pumps dispatched callbacks until the upstream response has
// been relayed. Returns false when the connection must close.
func (h *connHandler) awaitResponse() bool {
	if h.metadata != nil && h.metadata.MessageType == thrift.MessageOneway {
		return true
	}
	for !h.respDone && !h.aborted && !h.destroyed {
		f := <-h.dispatch
		f()
	}
	return !h.reset && !h.destroyed
}

// post schedules a callback onto the connection goroutine. Callbacks arriving
// after the handler stopped are dropped.
func (h *connHandler) post(f func()) {
	select {
	case h.dispatch <- f:
	case <-h.done:
	}
}

func (h *connHandler) writeDownstream(buf *bytes.Buffer) error {
	if h.srv.cfg.WriteTimeout > 0 {
		_ = h.conn.SetWriteDeadline(time.Now().Add(h.srv.cfg.WriteTimeout))
	}
	_, err := h.conn.Write(buf.Bytes())
	return err
}

// sendDecodeErrorReply answers an undecodable request with an application
// exception when enough of the message was understood to address a reply.
// Header frames can be answered from their envelope alone.
func (h *connHandler) sendDecodeErrorReply(err error) {
	if h.metadata == nil {
		h.metadata = h.decoder.HeaderEnvelope()
	}
	if h.metadata == nil || h.decoder.TransportType() == thrift.TransportAuto {
		return
	}
	exType := thrift.AppProtocolError
	if errors.Is(err, thrift.ErrUnknownTransform) {
		exType = thrift.AppInvalidTransform
	}
	h.SendLocalReply(thrift.NewAppException(exType, "%s", err))
}

// DecoderEventHandler: everything passes straight to the router except
// MessageBegin, which owns the pause/resume cycle around connection
// acquisition.

func (h *connHandler) TransportBegin(metadata *thrift.MessageMetadata) thrift.FilterStatus {
	return h.router.TransportBegin(metadata)
}

func (h *connHandler) TransportEnd() thrift.FilterStatus { return h.router.TransportEnd() }

func (h *connHandler) MessageBegin(metadata *thrift.MessageMetadata) thrift.FilterStatus {
	h.metadata = metadata
	h.currentRoute = nil
	h.routeLooked = false
	h.resumed = false
	h.aborted = false
	h.respDone = false

	if h.router.MessageBegin(metadata) == thrift.Continue {
		return thrift.Continue
	}

	// Paused while the pool resolves. Run posted callbacks until decoding
	// is resumed or the request dies.
	for !h.resumed && !h.aborted && !h.destroyed {
		f := <-h.dispatch
		f()
	}
	if h.aborted || h.destroyed {
		return thrift.StopIteration
	}
	return thrift.Continue
}

func (h *connHandler) MessageEnd() thrift.FilterStatus { return h.router.MessageEnd() }
func (h *connHandler) StructBegin(name string) thrift.FilterStatus {
	return h.router.StructBegin(name)
}
func (h *connHandler) StructEnd() thrift.FilterStatus { return h.router.StructEnd() }
func (h *connHandler) FieldBegin(name string, fieldType thrift.FieldType, fieldID int16) thrift.FilterStatus {
	return h.router.FieldBegin(name, fieldType, fieldID)
}
func (h *connHandler) FieldEnd() thrift.FilterStatus { return h.router.FieldEnd() }
func (h *connHandler) BoolValue(v bool) thrift.FilterStatus {
	return h.router.BoolValue(v)
}
func (h *connHandler) ByteValue(v int8) thrift.FilterStatus {
	return h.router.ByteValue(v)
}
func (h *connHandler) Int16Value(v int16) thrift.FilterStatus {
	return h.router.Int16Value(v)
}
func (h *connHandler) Int32Value(v int32) thrift.FilterStatus {
	return h.router.Int32Value(v)
}
func (h *connHandler) Int64Value(v int64) thrift.FilterStatus {
	return h.router.Int64Value(v)
}
func (h *connHandler) DoubleValue(v float64) thrift.FilterStatus {
	return h.router.DoubleValue(v)
}
func (h *connHandler) StringValue(v string) thrift.FilterStatus {
	return h.router.StringValue(v)
}
func (h *connHandler) MapBegin(k, v thrift.FieldType, size int) thrift.FilterStatus {
	return h.router.MapBegin(k, v, size)
}
func (h *connHandler) MapEnd() thrift.FilterStatus { return h.router.MapEnd() }
func (h *connHandler) ListBegin(elem thrift.FieldType, size int) thrift.FilterStatus {
	return h.router.ListBegin(elem, size)
}
func (h *connHandler) ListEnd() thrift.FilterStatus { return h.router.ListEnd() }
func (h *connHandler) SetBegin(elem thrift.FieldType, size int) thrift.FilterStatus {
	return h.router.SetBegin(elem, size)
}
func (h *connHandler) SetEnd() thrift.FilterStatus { return h.router.SetEnd() }

// router.DecoderFilterCallbacks implementation.

func (h *connHandler) Route() route.Route {
	if !h.routeLooked {
		h.routeLooked = true
		h.currentRoute = h.srv.routes.Match(h.metadata)
	}
	return h.currentRoute
}

func (h *connHandler) Connection() net.Conn { return h.conn }

func (h *connHandler) DownstreamTransportType() thrift.TransportType {
	return h.decoder.TransportType()
}

func (h *connHandler) DownstreamProtocolType() thrift.ProtocolType {
	return h.decoder.ProtocolType()
}

func (h *connHandler) ContinueDecoding() { h.resumed = true }

func (h *connHandler) SendLocalReply(response thrift.DirectResponse) {
	h.aborted = true

	transport, err := thrift.NewTransport(h.decoder.TransportType())
	if err != nil {
		h.logger.Warnf("cannot encode local reply", map[string]any{"error": err.Error()})
		h.resetConn()
		return
	}
	protocolType := h.decoder.ProtocolType()
	if protocolType == thrift.ProtocolAuto {
		// Header frames carry their protocol per message.
		protocolType = h.decoder.HeaderProtocolType()
	}
	protocol, err := thrift.NewProtocol(protocolType)
	if err != nil {
		h.logger.Warnf("cannot encode local reply", map[string]any{"error": err.Error()})
		h.resetConn()
		return
	}

	out := &bytes.Buffer{}
	if err := response.Encode(h.metadata, transport, protocol, out); err != nil {
		h.logger.Errorf("failed to encode local reply", map[string]any{"error": err.Error()})
		h.resetConn()
		return
	}
	if err := h.writeDownstream(out); err != nil {
		h.logger.Warnf("failed to write local reply", map[string]any{"error": err.Error()})
		h.resetConn()
	}
}

func (h *connHandler) ResetDownstreamConnection() {
	h.aborted = true
	h.resetConn()
}

func (h *connHandler) resetConn() {
	h.reset = true
	if tc, ok := h.conn.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
	_ = h.conn.Close()
}

func (h *connHandler) StartUpstreamResponse(transport thrift.Transport, protocol thrift.Protocol) {
	h.respTransport = transport
	h.respProtocol = protocol
	h.respBuf.Reset()
	h.respDone = false
}

// UpstreamData relays response bytes downstream as they arrive and reports
// completion once one whole message has passed through.
func (h *connHandler) UpstreamData(buf *bytes.Buffer) bool {
	h.respBuf.Write(buf.Bytes())
	if err := h.writeDownstream(buf); err != nil {
		h.logger.Warnf("failed to relay response", map[string]any{"error": err.Error()})
		h.reset = true
		h.aborted = true
		h.router.ResetUpstreamConnection()
		return false
	}
	if h.responseComplete() {
		h.respDone = true
		return true
	}
	return false
}

// responseComplete checks whether the accumulated response bytes form one
// whole message under the upstream codec.
func (h *connHandler) responseComplete() bool {
	data := h.respBuf.Bytes()
	switch h.respTransport.Type() {
	case thrift.TransportFramed, thrift.TransportHeader:
		if len(data) < 4 {
			return false
		}
		frameLen := binary.BigEndian.Uint32(data[:4])
		if frameLen > thrift.MaxFrameSize {
			return true
		}
		return len(data) >= int(frameLen)+4
	default:
		// Unframed: the boundary is only findable by decoding.
		d := thrift.NewDecoder(bytes.NewReader(data), nullHandler{},
			thrift.TransportUnframed, h.respProtocol.Type())
		err := d.DecodeMessage()
		if err == nil {
			return true
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false
		}
		// Undecodable response; stop waiting for more of it.
		return true
	}
}

// monitorDownstream watches the downstream socket for remote close while the
// connection goroutine is busy elsewhere, using poll so no pipelined request
// bytes are consumed. On closure it posts a teardown to the dispatch loop.
func (h *connHandler) monitorDownstream(stop <-chan struct{}) {
	tcpConn, ok := h.conn.(*net.TCPConn)
	if !ok {
		return
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return
	}
	var fd int
	if err := rawConn.Control(func(fdPtr uintptr) { fd = int(fdPtr) }); err != nil {
		return
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		closed, err := pollClosed(fd, 100)
		if err != nil {
			continue
		}
		if closed {
			h.post(func() { h.destroyed = true })
			return
		}
	}
}

// nullHandler discards all decode events. Used to find message boundaries in
// unframed response bytes.
type nullHandler struct{}

func (nullHandler) TransportBegin(*thrift.MessageMetadata) thrift.FilterStatus { return thrift.Continue }
func (nullHandler) TransportEnd() thrift.FilterStatus                          { return thrift.Continue }
func (nullHandler) MessageBegin(*thrift.MessageMetadata) thrift.FilterStatus   { return thrift.Continue }
func (nullHandler) MessageEnd() thrift.FilterStatus                            { return thrift.Continue }
func (nullHandler) StructBegin(string) thrift.FilterStatus                     { return thrift.Continue }
func (nullHandler) StructEnd() thrift.FilterStatus                             { return thrift.Continue }
func (nullHandler) FieldBegin(string, thrift.FieldType, int16) thrift.FilterStatus {
	return thrift.Continue
}
func (nullHandler) FieldEnd() thrift.FilterStatus            { return thrift.Continue }
func (nullHandler) BoolValue(bool) thrift.FilterStatus       { return thrift.Continue }
func (nullHandler) ByteValue(int8) thrift.FilterStatus       { return thrift.Continue }
func (nullHandler) Int16Value(int16) thrift.FilterStatus     { return thrift.Continue }
func (nullHandler) Int32Value(int32) thrift.FilterStatus     { return thrift.Continue }
func (nullHandler) Int64Value(int64) thrift.FilterStatus     { return thrift.Continue }
func (nullHandler) DoubleValue(float64) thrift.FilterStatus  { return thrift.Continue }
func (nullHandler) StringValue(string) thrift.FilterStatus   { return thrift.Continue }
func (nullHandler) MapBegin(thrift.FieldType, thrift.FieldType, int) thrift.FilterStatus {
	return thrift.Continue
}
func (nullHandler) MapEnd() thrift.FilterStatus { return thrift.Continue }
func (nullHandler) ListBegin(thrift.FieldType, int) thrift.FilterStatus {
	return thrift.Continue
}
func (nullHandler) ListEnd() thrift.FilterStatus { return thrift.Continue }
func (nullHandler) SetBegin(thrift.FieldType, int) thrift.FilterStatus {
	return thrift.Continue
}
func (nullHandler) SetEnd() thrift.FilterStatus { return thrift.Continue }

// dispatchingClusterManager wraps the shared cluster manager so pool
// callbacks reach the router on the connection goroutine.
type dispatchingClusterManager struct {
	inner router.ClusterManager
	h     *connHandler
}

func (m *dispatchingClusterManager) Get(name string) router.ClusterInfo {
	return m.inner.Get(name)
}

func (m *dispatchingClusterManager) ConnPool(name string) pool.ConnPool {
	p := m.inner.ConnPool(name)
	if p == nil {
		return nil
	}
	return &dispatchingPool{inner: p, h: m.h}
}

type dispatchingPool struct {
	inner pool.ConnPool
	h     *connHandler
}

// NewConnection preserves the pool's synchronous-delivery contract:
// callbacks that fire inside the call run inline; later ones are posted to
// the connection goroutine.
func (p *dispatchingPool) NewConnection(cb pool.Callbacks) pool.Cancellable {
	dc := &dispatchingCallbacks{inner: cb, h: p.h, inline: true}
	handle := p.inner.NewConnection(dc)
	dc.mu.Lock()
	dc.inline = false
	dc.mu.Unlock()
	return handle
}

type dispatchingCallbacks struct {
	inner pool.Callbacks
	h     *connHandler

	mu     sync.Mutex
	inline bool
}

func (c *dispatchingCallbacks) OnPoolReady(conn pool.ConnectionData) {
	wrapped := &dispatchingConnData{inner: conn, h: c.h}
	c.mu.Lock()
	inline := c.inline
	c.mu.Unlock()
	if inline {
		c.inner.OnPoolReady(wrapped)
		return
	}
	c.h.post(func() { c.inner.OnPoolReady(wrapped) })
}

func (c *dispatchingCallbacks) OnPoolFailure(reason pool.FailureReason) {
	c.mu.Lock()
	inline := c.inline
	c.mu.Unlock()
	if inline {
		c.inner.OnPoolFailure(reason)
		return
	}
	c.h.post(func() { c.inner.OnPoolFailure(reason) })
}

// dispatchingConnData forwards upstream data and events through the dispatch
// channel; everything else passes through.
type dispatchingConnData struct {
	inner pool.ConnectionData
	h     *connHandler
}

func (d *dispatchingConnData) Connection() pool.Connection { return d.inner.Connection() }

func (d *dispatchingConnData) AddUpstreamCallbacks(cb pool.UpstreamCallbacks) {
	d.inner.AddUpstreamCallbacks(&dispatchingUpstreamCallbacks{inner: cb, h: d.h})
}

func (d *dispatchingConnData) ConnectionState() any          { return d.inner.ConnectionState() }
func (d *dispatchingConnData) SetConnectionState(state any)  { d.inner.SetConnectionState(state) }
func (d *dispatchingConnData) Release()                      { d.inner.Release() }

type dispatchingUpstreamCallbacks struct {
	inner pool.UpstreamCallbacks
	h     *connHandler
}

func (c *dispatchingUpstreamCallbacks) OnUpstreamData(buf *bytes.Buffer, endStream bool) {
	c.h.post(func() { c.inner.OnUpstreamData(buf, endStream) })
}

func (c *dispatchingUpstreamCallbacks) OnEvent(event pool.ConnectionEvent) {
	c.h.post(func() { c.inner.OnEvent(event) })
}
