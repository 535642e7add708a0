package router

import (
	"bytes"
	"fmt"
	"io"
	"net"

	"github.com/ferry-io/ferry/internal/logging"
	"github.com/ferry-io/ferry/internal/pool"
	"github.com/ferry-io/ferry/internal/route"
	"github.com/ferry-io/ferry/internal/thrift"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level:  logging.LevelError,
		Output: io.Discard,
	})
}

// testRoute is a fixed route to one cluster.
type testRoute struct {
	cluster string
}

func (r *testRoute) RouteEntry() route.RouteEntry { return r }
func (r *testRoute) ClusterName() string          { return r.cluster }

type mockClusterInfo struct {
	name          string
	maintenance   bool
	transportType thrift.TransportType
	protocolType  thrift.ProtocolType
	transforms    []thrift.TransformID
}

func (c *mockClusterInfo) Name() string                       { return c.name }
func (c *mockClusterInfo) MaintenanceMode() bool              { return c.maintenance }
func (c *mockClusterInfo) TransportType() thrift.TransportType { return c.transportType }
func (c *mockClusterInfo) ProtocolType() thrift.ProtocolType   { return c.protocolType }
func (c *mockClusterInfo) Transforms() []thrift.TransformID    { return c.transforms }

type mockClusterManager struct {
	clusters map[string]*mockClusterInfo
	pools    map[string]pool.ConnPool
}

func (m *mockClusterManager) Get(name string) ClusterInfo {
	c, ok := m.clusters[name]
	if !ok {
		return nil
	}
	return c
}

func (m *mockClusterManager) ConnPool(name string) pool.ConnPool {
	return m.pools[name]
}

type mockCancellable struct {
	cancelled bool
}

func (h *mockCancellable) Cancel() { h.cancelled = true }

// mockConnPool delivers its callbacks either synchronously inside
// NewConnection or later when the test triggers them through cb.
type mockConnPool struct {
	cb     pool.Callbacks
	handle *mockCancellable
	calls  int

	syncReady   *mockConnData
	syncFailure *pool.FailureReason
}

func (p *mockConnPool) NewConnection(cb pool.Callbacks) pool.Cancellable {
	p.calls++
	p.cb = cb
	if p.syncReady != nil {
		cb.OnPoolReady(p.syncReady)
		return nil
	}
	if p.syncFailure != nil {
		cb.OnPoolFailure(*p.syncFailure)
		return nil
	}
	p.handle = &mockCancellable{}
	return p.handle
}

type writeCall struct {
	data      string
	endStream bool
}

type mockConnection struct {
	writes   []writeCall
	closes   []pool.CloseType
	writeErr error
}

func (c *mockConnection) Write(buf *bytes.Buffer, endStream bool) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, writeCall{data: buf.String(), endStream: endStream})
	return nil
}

func (c *mockConnection) Close(ct pool.CloseType) {
	c.closes = append(c.closes, ct)
}

type mockConnData struct {
	conn       *mockConnection
	state      any
	upstreamCb pool.UpstreamCallbacks
	released   int
}

func newMockConnData() *mockConnData {
	return &mockConnData{conn: &mockConnection{}}
}

func (d *mockConnData) Connection() pool.Connection                    { return d.conn }
func (d *mockConnData) AddUpstreamCallbacks(cb pool.UpstreamCallbacks) { d.upstreamCb = cb }
func (d *mockConnData) ConnectionState() any                           { return d.state }
func (d *mockConnData) SetConnectionState(state any)                   { d.state = state }
func (d *mockConnData) Release()                                       { d.released++ }

// mockCallbacks records every downstream interaction the router makes.
type mockCallbacks struct {
	route route.Route

	transportType thrift.TransportType
	protocolType  thrift.ProtocolType

	transportTypeCalls int
	protocolTypeCalls  int
	continueCalls      int
	resets             int

	localReplies []*thrift.AppException

	responseStarts    int
	responseTransport thrift.Transport
	responseProtocol  thrift.Protocol

	upstreamDataResults []bool
	upstreamDataCalls   int
	upstreamDataFunc    func(buf *bytes.Buffer) bool
}

func (m *mockCallbacks) Route() route.Route   { return m.route }
func (m *mockCallbacks) Connection() net.Conn { return nil }

func (m *mockCallbacks) DownstreamTransportType() thrift.TransportType {
	m.transportTypeCalls++
	return m.transportType
}

func (m *mockCallbacks) DownstreamProtocolType() thrift.ProtocolType {
	m.protocolTypeCalls++
	return m.protocolType
}

func (m *mockCallbacks) ContinueDecoding() { m.continueCalls++ }

func (m *mockCallbacks) SendLocalReply(response thrift.DirectResponse) {
	ex, ok := response.(*thrift.AppException)
	if !ok {
		panic(fmt.Sprintf("unexpected local reply type %T", response))
	}
	m.localReplies = append(m.localReplies, ex)
}

func (m *mockCallbacks) ResetDownstreamConnection() { m.resets++ }

func (m *mockCallbacks) StartUpstreamResponse(transport thrift.Transport, protocol thrift.Protocol) {
	m.responseStarts++
	m.responseTransport = transport
	m.responseProtocol = protocol
}

func (m *mockCallbacks) UpstreamData(buf *bytes.Buffer) bool {
	m.upstreamDataCalls++
	if m.upstreamDataFunc != nil {
		return m.upstreamDataFunc(buf)
	}
	if len(m.upstreamDataResults) == 0 {
		return true
	}
	done := m.upstreamDataResults[0]
	m.upstreamDataResults = m.upstreamDataResults[1:]
	return done
}

// mockThriftObject consumes upstream bytes during an upgrade handshake,
// reporting completion from a scripted result queue.
type mockThriftObject struct {
	results     []bool
	onDataCalls int
}

func (o *mockThriftObject) OnData(*bytes.Buffer) bool {
	o.onDataCalls++
	if len(o.results) == 0 {
		return true
	}
	done := o.results[0]
	o.results = o.results[1:]
	return done
}

// recordingProtocol records every encoder call as a readable token.
type recordingProtocol struct {
	calls []string

	supportsUpgrade   bool
	upgradeObj        *mockThriftObject
	completedUpgrades int
}

func (p *recordingProtocol) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *recordingProtocol) Name() string             { return "recording" }
func (p *recordingProtocol) Type() thrift.ProtocolType { return thrift.ProtocolBinary }

func (p *recordingProtocol) WriteMessageBegin(buf *bytes.Buffer, metadata *thrift.MessageMetadata) {
	p.record("messageBegin:%s:%s:%d", metadata.MethodName, metadata.MessageType, metadata.SequenceID)
	buf.WriteString("[mb]")
}

func (p *recordingProtocol) WriteMessageEnd(buf *bytes.Buffer) {
	p.record("messageEnd")
	buf.WriteString("[me]")
}

func (p *recordingProtocol) WriteStructBegin(buf *bytes.Buffer, name string) {
	p.record("structBegin:%s", name)
}

func (p *recordingProtocol) WriteStructEnd(*bytes.Buffer) { p.record("structEnd") }

func (p *recordingProtocol) WriteFieldBegin(buf *bytes.Buffer, name string, fieldType thrift.FieldType, fieldID int16) {
	p.record("fieldBegin:%s:%d", fieldType, fieldID)
}

func (p *recordingProtocol) WriteFieldEnd(*bytes.Buffer) { p.record("fieldEnd") }

func (p *recordingProtocol) WriteMapBegin(buf *bytes.Buffer, keyType, valueType thrift.FieldType, size int) {
	p.record("mapBegin:%s:%s:%d", keyType, valueType, size)
}

func (p *recordingProtocol) WriteMapEnd(*bytes.Buffer) { p.record("mapEnd") }

func (p *recordingProtocol) WriteListBegin(buf *bytes.Buffer, elemType thrift.FieldType, size int) {
	p.record("listBegin:%s:%d", elemType, size)
}

func (p *recordingProtocol) WriteListEnd(*bytes.Buffer) { p.record("listEnd") }

func (p *recordingProtocol) WriteSetBegin(buf *bytes.Buffer, elemType thrift.FieldType, size int) {
	p.record("setBegin:%s:%d", elemType, size)
}

func (p *recordingProtocol) WriteSetEnd(*bytes.Buffer) { p.record("setEnd") }

func (p *recordingProtocol) WriteBool(buf *bytes.Buffer, value bool) {
	p.record("bool:%t", value)
}

func (p *recordingProtocol) WriteByte(buf *bytes.Buffer, value int8) {
	p.record("byte:%d", value)
}

func (p *recordingProtocol) WriteInt16(buf *bytes.Buffer, value int16) {
	p.record("i16:%d", value)
}

func (p *recordingProtocol) WriteInt32(buf *bytes.Buffer, value int32) {
	p.record("i32:%d", value)
}

func (p *recordingProtocol) WriteInt64(buf *bytes.Buffer, value int64) {
	p.record("i64:%d", value)
}

func (p *recordingProtocol) WriteDouble(buf *bytes.Buffer, value float64) {
	p.record("double:%g", value)
}

func (p *recordingProtocol) WriteString(buf *bytes.Buffer, value string) {
	p.record("string:%s", value)
}

func (p *recordingProtocol) SupportsUpgrade() bool { return p.supportsUpgrade }

func (p *recordingProtocol) AttemptUpgrade(transport thrift.Transport, state *thrift.ConnectionState, buf *bytes.Buffer) thrift.ThriftObject {
	if state.UpgradeComplete() {
		return nil
	}
	buf.WriteString("upgrade request")
	return p.upgradeObj
}

func (p *recordingProtocol) CompleteUpgrade(state *thrift.ConnectionState, response thrift.ThriftObject) {
	state.MarkUpgradeComplete()
	p.completedUpgrades++
}

// recordingTransport frames messages with visible markers so tests can
// assert both the framing call and the byte flow.
type recordingTransport struct {
	frames   []string
	frameErr error
}

func (t *recordingTransport) Name() string              { return "recording" }
func (t *recordingTransport) Type() thrift.TransportType { return thrift.TransportFramed }

func (t *recordingTransport) EncodeFrame(out *bytes.Buffer, metadata *thrift.MessageMetadata, message *bytes.Buffer) error {
	if t.frameErr != nil {
		return t.frameErr
	}
	t.frames = append(t.frames, message.String())
	out.WriteString("frame(")
	out.Write(message.Bytes())
	out.WriteString(")")
	message.Reset()
	return nil
}
