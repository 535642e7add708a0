package router

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ferry-io/ferry/internal/metrics"
	"github.com/ferry-io/ferry/internal/pool"
	"github.com/ferry-io/ferry/internal/thrift"
)

type fixture struct {
	router   *Router
	manager  *mockClusterManager
	cluster  *mockClusterInfo
	pool     *mockConnPool
	cb       *mockCallbacks
	conn     *mockConnData
	protocol *recordingProtocol
	transport *recordingTransport
	metrics  *metrics.RouterMetrics
	metadata *thrift.MessageMetadata
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cluster:   &mockClusterInfo{name: "cluster_a"},
		pool:      &mockConnPool{},
		protocol:  &recordingProtocol{},
		transport: &recordingTransport{},
		metrics:   metrics.NewRouterMetricsWithRegistry(prometheus.NewRegistry()),
	}
	f.manager = &mockClusterManager{
		clusters: map[string]*mockClusterInfo{"cluster_a": f.cluster},
		pools:    map[string]pool.ConnPool{"cluster_a": f.pool},
	}
	f.cb = &mockCallbacks{
		route:         &testRoute{cluster: "cluster_a"},
		transportType: thrift.TransportFramed,
		protocolType:  thrift.ProtocolBinary,
	}
	f.router = New(f.manager, testLogger()).WithMetrics(f.metrics)
	f.router.newTransport = func(thrift.TransportType) (thrift.Transport, error) { return f.transport, nil }
	f.router.newProtocol = func(thrift.ProtocolType) (thrift.Protocol, error) { return f.protocol, nil }
	f.router.SetDecoderFilterCallbacks(f.cb)
	return f
}

// startRequest begins a message and expects decoding to pause while the pool
// resolves asynchronously.
func (f *fixture) startRequest(t *testing.T, msgType thrift.MessageType) {
	t.Helper()
	f.metadata = &thrift.MessageMetadata{MethodName: "method", MessageType: msgType, SequenceID: 1}
	require.Equal(t, thrift.StopIteration, f.router.MessageBegin(f.metadata))
	require.NotNil(t, f.pool.handle)
	require.NotNil(t, f.pool.cb)
}

// connectUpstream delivers the pooled connection and expects decoding to
// resume with the message header re-encoded upstream.
func (f *fixture) connectUpstream(t *testing.T) {
	t.Helper()
	f.conn = newMockConnData()
	f.pool.cb.OnPoolReady(f.conn)
	require.NotNil(t, f.conn.upstreamCb)
	require.Equal(t, 1, f.cb.continueCalls)
	require.Contains(t, f.protocol.calls,
		fmt.Sprintf("messageBegin:method:%s:1", f.metadata.MessageType))
}

func (f *fixture) sendTrivialStruct(t *testing.T, fieldType thrift.FieldType) {
	t.Helper()
	require.Equal(t, thrift.Continue, f.router.StructBegin(""))
	require.Equal(t, thrift.Continue, f.router.FieldBegin("", fieldType, 1))
	require.Contains(t, f.protocol.calls, fmt.Sprintf("fieldBegin:%s:1", fieldType))

	var want string
	switch fieldType {
	case thrift.FieldBool:
		require.Equal(t, thrift.Continue, f.router.BoolValue(true))
		want = "bool:true"
	case thrift.FieldByte:
		require.Equal(t, thrift.Continue, f.router.ByteValue(2))
		want = "byte:2"
	case thrift.FieldI16:
		require.Equal(t, thrift.Continue, f.router.Int16Value(3))
		want = "i16:3"
	case thrift.FieldI32:
		require.Equal(t, thrift.Continue, f.router.Int32Value(4))
		want = "i32:4"
	case thrift.FieldI64:
		require.Equal(t, thrift.Continue, f.router.Int64Value(5))
		want = "i64:5"
	case thrift.FieldDouble:
		require.Equal(t, thrift.Continue, f.router.DoubleValue(6.0))
		want = "double:6"
	case thrift.FieldString:
		require.Equal(t, thrift.Continue, f.router.StringValue("seven"))
		want = "string:seven"
	default:
		t.Fatalf("unhandled field type %s", fieldType)
	}
	require.Contains(t, f.protocol.calls, want)

	require.Equal(t, thrift.Continue, f.router.FieldEnd())
	require.Equal(t, thrift.Continue, f.router.StructEnd())
	require.Contains(t, f.protocol.calls, "fieldBegin:stop:0")
	require.Contains(t, f.protocol.calls, "structEnd")
}

// completeRequest finishes the message and expects exactly one framed write
// upstream. A oneway request must release its connection here.
func (f *fixture) completeRequest(t *testing.T) {
	t.Helper()
	require.Equal(t, thrift.Continue, f.router.MessageEnd())
	require.Contains(t, f.protocol.calls, "messageEnd")
	require.Len(t, f.transport.frames, 1)
	require.NotEmpty(t, f.conn.conn.writes)
	last := f.conn.conn.writes[len(f.conn.conn.writes)-1]
	require.False(t, last.endStream)

	if f.metadata.MessageType == thrift.MessageOneway {
		require.Equal(t, 1, f.conn.released)
	} else {
		require.Equal(t, 0, f.conn.released)
	}
	require.Equal(t, thrift.Continue, f.router.TransportEnd())
}

// returnResponse relays a two-chunk upstream response to completion.
func (f *fixture) returnResponse(t *testing.T) {
	t.Helper()
	f.cb.upstreamDataResults = []bool{false, true}

	f.conn.upstreamCb.OnUpstreamData(bytes.NewBufferString("first chunk"), false)
	require.Equal(t, 1, f.cb.responseStarts)
	require.Same(t, thrift.Transport(f.transport), f.cb.responseTransport)
	require.Same(t, thrift.Protocol(f.protocol), f.cb.responseProtocol)
	require.Equal(t, 0, f.conn.released)

	f.conn.upstreamCb.OnUpstreamData(bytes.NewBufferString("second chunk"), false)
	require.Equal(t, 2, f.cb.upstreamDataCalls)
	require.Equal(t, 1, f.conn.released)
}

func (f *fixture) lastLocalReply(t *testing.T) *thrift.AppException {
	t.Helper()
	require.NotEmpty(t, f.cb.localReplies)
	return f.cb.localReplies[len(f.cb.localReplies)-1]
}

func TestRouterCodecSelection(t *testing.T) {
	t.Run("auto falls back to downstream detection", func(t *testing.T) {
		f := newFixture(t)
		f.startRequest(t, thrift.MessageCall)
		require.Equal(t, 1, f.cb.transportTypeCalls)
		require.Equal(t, 1, f.cb.protocolTypeCalls)
	})

	t.Run("explicit cluster codec skips detection", func(t *testing.T) {
		f := newFixture(t)
		f.cluster.transportType = thrift.TransportFramed
		f.cluster.protocolType = thrift.ProtocolCompact
		f.startRequest(t, thrift.MessageCall)
		require.Equal(t, 0, f.cb.transportTypeCalls)
		require.Equal(t, 0, f.cb.protocolTypeCalls)
	})
}

func TestRouterPoolFailure(t *testing.T) {
	for _, reason := range []pool.FailureReason{
		pool.RemoteConnectionFailure,
		pool.LocalConnectionFailure,
		pool.Timeout,
	} {
		t.Run(reason.String(), func(t *testing.T) {
			f := newFixture(t)
			f.startRequest(t, thrift.MessageCall)

			f.pool.cb.OnPoolFailure(reason)

			ex := f.lastLocalReply(t)
			require.Equal(t, thrift.AppInternalError, ex.Type)
			require.Contains(t, ex.Message, "connection failure")
			require.Equal(t, 0, f.cb.resets)
		})
	}
}

func TestRouterPoolOverflowFailure(t *testing.T) {
	f := newFixture(t)
	f.startRequest(t, thrift.MessageCall)

	f.pool.cb.OnPoolFailure(pool.Overflow)

	ex := f.lastLocalReply(t)
	require.Equal(t, thrift.AppInternalError, ex.Type)
	require.Contains(t, ex.Message, "too many connections")
	require.Equal(t, float64(1),
		testutil.ToFloat64(f.metrics.LocalRepliesTotal.WithLabelValues("too_many_connections")))
}

func TestRouterPoolFailureWithOnewayMessage(t *testing.T) {
	f := newFixture(t)
	f.startRequest(t, thrift.MessageOneway)

	f.pool.cb.OnPoolFailure(pool.RemoteConnectionFailure)

	// Oneway requests have no reply channel; the fault degrades to a
	// downstream reset, never a local reply.
	require.Empty(t, f.cb.localReplies)
	require.Equal(t, 1, f.cb.resets)
}

func TestRouterNoRoute(t *testing.T) {
	f := newFixture(t)
	f.cb.route = nil

	md := &thrift.MessageMetadata{MethodName: "method", MessageType: thrift.MessageCall, SequenceID: 1}
	require.Equal(t, thrift.StopIteration, f.router.MessageBegin(md))

	ex := f.lastLocalReply(t)
	require.Equal(t, thrift.AppUnknownMethod, ex.Type)
	require.Contains(t, ex.Message, "no route")
	require.Equal(t, float64(1),
		testutil.ToFloat64(f.metrics.LocalRepliesTotal.WithLabelValues("no_route")))
}

func TestRouterNoCluster(t *testing.T) {
	f := newFixture(t)
	f.cb.route = &testRoute{cluster: "cluster_b"}

	md := &thrift.MessageMetadata{MethodName: "method", MessageType: thrift.MessageCall, SequenceID: 1}
	require.Equal(t, thrift.StopIteration, f.router.MessageBegin(md))

	ex := f.lastLocalReply(t)
	require.Equal(t, thrift.AppInternalError, ex.Type)
	require.Contains(t, ex.Message, "unknown cluster 'cluster_b'")
}

func TestRouterClusterMaintenanceMode(t *testing.T) {
	f := newFixture(t)
	f.cluster.maintenance = true

	md := &thrift.MessageMetadata{MethodName: "method", MessageType: thrift.MessageCall, SequenceID: 1}
	require.Equal(t, thrift.StopIteration, f.router.MessageBegin(md))

	ex := f.lastLocalReply(t)
	require.Equal(t, thrift.AppInternalError, ex.Type)
	require.Contains(t, ex.Message, "maintenance mode for cluster 'cluster_a'")
}

func TestRouterNoHealthyHosts(t *testing.T) {
	f := newFixture(t)
	delete(f.manager.pools, "cluster_a")

	md := &thrift.MessageMetadata{MethodName: "method", MessageType: thrift.MessageCall, SequenceID: 1}
	require.Equal(t, thrift.StopIteration, f.router.MessageBegin(md))

	ex := f.lastLocalReply(t)
	require.Equal(t, thrift.AppInternalError, ex.Type)
	require.Contains(t, ex.Message, "no healthy upstream for cluster 'cluster_a'")
}

func TestRouterTruncatedResponse(t *testing.T) {
	f := newFixture(t)
	f.startRequest(t, thrift.MessageCall)
	f.connectUpstream(t)
	f.sendTrivialStruct(t, thrift.FieldI32)
	f.completeRequest(t)

	f.cb.upstreamDataResults = []bool{false}
	f.conn.upstreamCb.OnUpstreamData(bytes.NewBufferString("partial"), true)

	// A half-closed upstream before the response completes releases the
	// connection and resets downstream without a local reply.
	require.Equal(t, 1, f.conn.released)
	require.Equal(t, 1, f.cb.resets)
	require.Empty(t, f.cb.localReplies)
}

func TestRouterUpstreamCloseMidResponse(t *testing.T) {
	for _, tc := range []struct {
		name  string
		event pool.ConnectionEvent
	}{
		{"remote close", pool.EventRemoteClose},
		{"local close", pool.EventLocalClose},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.startRequest(t, thrift.MessageCall)
			f.connectUpstream(t)
			f.sendTrivialStruct(t, thrift.FieldI32)
			f.completeRequest(t)

			f.cb.upstreamDataResults = []bool{false}
			f.conn.upstreamCb.OnUpstreamData(bytes.NewBufferString("partial"), false)

			f.conn.upstreamCb.OnEvent(tc.event)

			ex := f.lastLocalReply(t)
			require.Equal(t, thrift.AppInternalError, ex.Type)
			require.Contains(t, ex.Message, "connection failure")

			// The dead connection must end its lease through Close, never
			// go back to the pool.
			require.Equal(t, []pool.CloseType{pool.CloseNoFlush}, f.conn.conn.closes)
			require.Equal(t, 0, f.conn.released)

			// A repeat event finds no bound connection and stays inert.
			f.conn.upstreamCb.OnEvent(tc.event)
			require.Len(t, f.conn.conn.closes, 1)
			require.Len(t, f.cb.localReplies, 1)
		})
	}
}

func TestRouterUpstreamCloseAfterResponse(t *testing.T) {
	f := newFixture(t)
	f.startRequest(t, thrift.MessageCall)
	f.connectUpstream(t)
	f.sendTrivialStruct(t, thrift.FieldI32)
	f.completeRequest(t)
	f.returnResponse(t)

	// The connection was already returned to the pool; a close event on it
	// no longer concerns this request.
	f.conn.upstreamCb.OnEvent(pool.EventRemoteClose)

	require.Empty(t, f.cb.localReplies)
	require.Equal(t, 0, f.cb.resets)
}

func TestRouterUnexpectedUpstreamClose(t *testing.T) {
	// Close while still forwarding the request, before any response byte.
	f := newFixture(t)
	f.startRequest(t, thrift.MessageCall)
	f.connectUpstream(t)
	f.sendTrivialStruct(t, thrift.FieldI32)

	f.conn.upstreamCb.OnEvent(pool.EventRemoteClose)

	ex := f.lastLocalReply(t)
	require.Equal(t, thrift.AppInternalError, ex.Type)
	require.Contains(t, ex.Message, "connection failure")
	require.Equal(t, 0, f.conn.released)
	require.Equal(t, []pool.CloseType{pool.CloseNoFlush}, f.conn.conn.closes)
}

func TestRouterUpstreamDataTriggersReset(t *testing.T) {
	f := newFixture(t)
	f.startRequest(t, thrift.MessageCall)
	f.connectUpstream(t)
	f.sendTrivialStruct(t, thrift.FieldI32)
	f.completeRequest(t)

	// The relay decides mid-callback that the upstream connection must go.
	f.cb.upstreamDataFunc = func(*bytes.Buffer) bool {
		f.router.ResetUpstreamConnection()
		return false
	}
	f.conn.upstreamCb.OnUpstreamData(bytes.NewBufferString("garbage"), false)

	require.Equal(t, []pool.CloseType{pool.CloseNoFlush}, f.conn.conn.closes)
	require.Equal(t, 0, f.conn.released)

	// The close event that follows must be inert.
	f.conn.upstreamCb.OnEvent(pool.EventLocalClose)
	require.Empty(t, f.cb.localReplies)
}

func TestRouterDestroyBeforeUpstreamConnect(t *testing.T) {
	f := newFixture(t)
	f.startRequest(t, thrift.MessageCall)

	f.router.OnDestroy()

	require.True(t, f.pool.handle.cancelled)
}

func TestRouterDestroyWithBoundConnection(t *testing.T) {
	f := newFixture(t)
	f.startRequest(t, thrift.MessageCall)
	f.connectUpstream(t)
	f.sendTrivialStruct(t, thrift.FieldI32)

	f.router.OnDestroy()

	require.Equal(t, []pool.CloseType{pool.CloseNoFlush}, f.conn.conn.closes)
	require.Equal(t, 0, f.conn.released)

	// Nothing fires after destruction.
	f.conn.upstreamCb.OnEvent(pool.EventLocalClose)
	require.Empty(t, f.cb.localReplies)
	require.Equal(t, 0, f.cb.resets)
}

func TestRouterProtocolUpgrade(t *testing.T) {
	f := newFixture(t)
	f.protocol.supportsUpgrade = true
	f.protocol.upgradeObj = &mockThriftObject{results: []bool{false, true}}

	f.startRequest(t, thrift.MessageCall)

	f.conn = newMockConnData()
	f.pool.cb.OnPoolReady(f.conn)

	// The handshake request goes out first; decoding stays paused and the
	// request message is not yet encoded.
	require.Len(t, f.conn.conn.writes, 1)
	require.Equal(t, "upgrade request", f.conn.conn.writes[0].data)
	require.Equal(t, 0, f.cb.continueCalls)
	require.NotContains(t, f.protocol.calls, "messageBegin:method:call:1")

	// Fresh connections get upgrade state attached.
	state, ok := f.conn.state.(*thrift.ConnectionState)
	require.True(t, ok)
	require.False(t, state.UpgradeComplete())

	f.conn.upstreamCb.OnUpstreamData(bytes.NewBufferString("partial response"), false)
	require.Equal(t, 0, f.protocol.completedUpgrades)
	require.Equal(t, 0, f.cb.continueCalls)

	f.conn.upstreamCb.OnUpstreamData(bytes.NewBufferString("rest of response"), false)
	require.Equal(t, 1, f.protocol.completedUpgrades)
	require.True(t, state.UpgradeComplete())
	require.Equal(t, 1, f.cb.continueCalls)
	require.Contains(t, f.protocol.calls, "messageBegin:method:call:1")

	f.sendTrivialStruct(t, thrift.FieldI32)
	f.completeRequest(t)
	f.returnResponse(t)
}

func TestRouterProtocolUpgradeSkippedOnExistingConnection(t *testing.T) {
	f := newFixture(t)
	f.protocol.supportsUpgrade = true
	f.protocol.upgradeObj = &mockThriftObject{}

	f.startRequest(t, thrift.MessageCall)

	f.conn = newMockConnData()
	state := thrift.NewConnectionState()
	state.MarkUpgradeComplete()
	f.conn.state = state
	f.pool.cb.OnPoolReady(f.conn)

	// Already upgraded: no handshake bytes, forwarding resumes immediately.
	require.Empty(t, f.conn.conn.writes)
	require.Equal(t, 0, f.protocol.upgradeObj.onDataCalls)
	require.Equal(t, 1, f.cb.continueCalls)
	require.Contains(t, f.protocol.calls, "messageBegin:method:call:1")

	f.sendTrivialStruct(t, thrift.FieldI32)
	f.completeRequest(t)
	f.returnResponse(t)
}

func TestRouterOnewayCall(t *testing.T) {
	fieldTypes := []thrift.FieldType{
		thrift.FieldBool, thrift.FieldByte, thrift.FieldI16, thrift.FieldI32,
		thrift.FieldI64, thrift.FieldDouble, thrift.FieldString,
	}
	for _, ft := range fieldTypes {
		t.Run(ft.String(), func(t *testing.T) {
			f := newFixture(t)
			f.startRequest(t, thrift.MessageOneway)
			f.connectUpstream(t)
			f.sendTrivialStruct(t, ft)
			f.completeRequest(t)
			require.Empty(t, f.cb.localReplies)
			require.Equal(t, 0, f.cb.resets)
		})
	}
}

func TestRouterCall(t *testing.T) {
	fieldTypes := []thrift.FieldType{
		thrift.FieldBool, thrift.FieldByte, thrift.FieldI16, thrift.FieldI32,
		thrift.FieldI64, thrift.FieldDouble, thrift.FieldString,
	}
	for _, ft := range fieldTypes {
		t.Run(ft.String(), func(t *testing.T) {
			f := newFixture(t)
			f.startRequest(t, thrift.MessageCall)
			f.connectUpstream(t)
			f.sendTrivialStruct(t, ft)
			f.completeRequest(t)
			f.returnResponse(t)
		})
	}
}

func TestRouterCallWithExistingConnection(t *testing.T) {
	f := newFixture(t)
	f.conn = newMockConnData()
	f.pool.syncReady = f.conn

	f.metadata = &thrift.MessageMetadata{MethodName: "method", MessageType: thrift.MessageCall, SequenceID: 1}

	// An idle pooled connection resolves inside the pool call, so decoding
	// never pauses and must not be resumed.
	require.Equal(t, thrift.Continue, f.router.MessageBegin(f.metadata))
	require.Equal(t, 0, f.cb.continueCalls)
	require.Contains(t, f.protocol.calls, "messageBegin:method:call:1")

	f.sendTrivialStruct(t, thrift.FieldI32)
	f.completeRequest(t)
	f.returnResponse(t)
}

func TestRouterCallWithMap(t *testing.T) {
	f := newFixture(t)
	f.startRequest(t, thrift.MessageCall)
	f.connectUpstream(t)

	require.Equal(t, thrift.Continue, f.router.StructBegin(""))
	require.Equal(t, thrift.Continue, f.router.FieldBegin("", thrift.FieldMap, 1))
	require.Equal(t, thrift.Continue, f.router.MapBegin(thrift.FieldI32, thrift.FieldI32, 2))
	for i := int32(0); i < 2; i++ {
		require.Equal(t, thrift.Continue, f.router.Int32Value(i))
		require.Equal(t, thrift.Continue, f.router.Int32Value(i+100))
	}
	require.Equal(t, thrift.Continue, f.router.MapEnd())
	require.Equal(t, thrift.Continue, f.router.FieldEnd())
	require.Equal(t, thrift.Continue, f.router.StructEnd())

	require.Contains(t, f.protocol.calls, "mapBegin:i32:i32:2")
	require.Contains(t, f.protocol.calls, "mapEnd")

	f.completeRequest(t)
	f.returnResponse(t)
}

func TestRouterCallWithList(t *testing.T) {
	f := newFixture(t)
	f.startRequest(t, thrift.MessageCall)
	f.connectUpstream(t)

	require.Equal(t, thrift.Continue, f.router.StructBegin(""))
	require.Equal(t, thrift.Continue, f.router.FieldBegin("", thrift.FieldList, 1))
	require.Equal(t, thrift.Continue, f.router.ListBegin(thrift.FieldI32, 3))
	for i := int32(0); i < 3; i++ {
		require.Equal(t, thrift.Continue, f.router.Int32Value(i))
	}
	require.Equal(t, thrift.Continue, f.router.ListEnd())
	require.Equal(t, thrift.Continue, f.router.FieldEnd())
	require.Equal(t, thrift.Continue, f.router.StructEnd())

	require.Contains(t, f.protocol.calls, "listBegin:i32:3")
	require.Contains(t, f.protocol.calls, "listEnd")

	f.completeRequest(t)
	f.returnResponse(t)
}

func TestRouterCallWithSet(t *testing.T) {
	f := newFixture(t)
	f.startRequest(t, thrift.MessageCall)
	f.connectUpstream(t)

	require.Equal(t, thrift.Continue, f.router.StructBegin(""))
	require.Equal(t, thrift.Continue, f.router.FieldBegin("", thrift.FieldSet, 1))
	require.Equal(t, thrift.Continue, f.router.SetBegin(thrift.FieldI32, 4))
	for i := int32(0); i < 4; i++ {
		require.Equal(t, thrift.Continue, f.router.Int32Value(i))
	}
	require.Equal(t, thrift.Continue, f.router.SetEnd())
	require.Equal(t, thrift.Continue, f.router.FieldEnd())
	require.Equal(t, thrift.Continue, f.router.StructEnd())

	require.Contains(t, f.protocol.calls, "setBegin:i32:4")
	require.Contains(t, f.protocol.calls, "setEnd")

	f.completeRequest(t)
	f.returnResponse(t)
}

func TestRouterSequentialRequests(t *testing.T) {
	f := newFixture(t)
	f.startRequest(t, thrift.MessageCall)
	f.connectUpstream(t)
	f.sendTrivialStruct(t, thrift.FieldI32)
	f.completeRequest(t)
	f.returnResponse(t)

	// Same router, next message on the same downstream stream.
	firstConn := f.conn
	f.startRequest(t, thrift.MessageCall)
	f.conn = newMockConnData()
	f.pool.cb.OnPoolReady(f.conn)
	require.Equal(t, 2, f.cb.continueCalls)

	f.sendTrivialStruct(t, thrift.FieldString)
	require.Equal(t, thrift.Continue, f.router.MessageEnd())
	require.Equal(t, thrift.Continue, f.router.TransportEnd())
	require.Len(t, f.conn.conn.writes, 1)
	require.Equal(t, 1, firstConn.released)
}

func TestRouterRequestMetrics(t *testing.T) {
	f := newFixture(t)
	f.startRequest(t, thrift.MessageCall)
	f.connectUpstream(t)
	f.sendTrivialStruct(t, thrift.FieldI32)
	f.completeRequest(t)
	f.returnResponse(t)

	require.Equal(t, float64(1),
		testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("cluster_a", "call")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(f.metrics.ResponsesTotal.WithLabelValues("cluster_a", metrics.StatusSuccess)))
}
