package pool

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/ferry-io/ferry/internal/logging"
	"github.com/ferry-io/ferry/internal/metrics"
)

// ErrPoolClosed is returned when operations are attempted on a closed pool.
var ErrPoolClosed = errors.New("pool closed")

// Config holds configuration for a TCP connection pool.
type Config struct {
	// ClusterName identifies the cluster this pool serves, for logs and
	// metrics.
	ClusterName string

	// Addrs are the upstream host:port addresses, picked round-robin.
	Addrs []string

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration

	// MaxPending caps concurrent connection attempts. Zero means unlimited.
	MaxPending int

	// MaxIdle caps idle connections kept for reuse.
	MaxIdle int
}

// DefaultDialTimeout is used when Config.DialTimeout is zero.
const DefaultDialTimeout = 5 * time.Second

// TCPPool is a ConnPool backed by real TCP connections with LIFO idle reuse.
// Connection state attached via SetConnectionState survives across leases of
// the same physical connection.
type TCPPool struct {
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.UpstreamMetrics

	mu      sync.Mutex
	next    int
	idle    []*pooledConn
	pending int
	closed  bool
}

// New creates a TCP connection pool for one cluster.
func New(cfg Config, logger *logging.Logger) *TCPPool {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 8
	}
	return &TCPPool{
		cfg:    cfg,
		logger: logger.With(map[string]any{"cluster": cfg.ClusterName}),
	}
}

// WithMetrics sets the upstream metrics for the pool.
// Returns the pool for method chaining.
func (p *TCPPool) WithMetrics(m *metrics.UpstreamMetrics) *TCPPool {
	p.metrics = m
	return p
}

// NewConnection requests a connection. An idle connection is delivered
// synchronously (nil handle); otherwise a dial starts in the background and
// the returned handle cancels it.
func (p *TCPPool) NewConnection(cb Callbacks) Cancellable {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cb.OnPoolFailure(LocalConnectionFailure)
		return nil
	}

	for len(p.idle) > 0 {
		pc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if !pc.alive() {
			pc.close(CloseNoFlush)
			continue
		}
		p.mu.Unlock()
		p.metrics.RecordLease(p.cfg.ClusterName, true)
		cb.OnPoolReady(newLease(pc))
		return nil
	}

	if p.cfg.MaxPending > 0 && p.pending >= p.cfg.MaxPending {
		p.mu.Unlock()
		p.metrics.RecordPoolFailure(p.cfg.ClusterName, Overflow.String())
		cb.OnPoolFailure(Overflow)
		return nil
	}
	p.pending++
	addr := p.cfg.Addrs[p.next%len(p.cfg.Addrs)]
	p.next++
	p.mu.Unlock()

	handle := &pendingDial{}
	go p.dial(addr, cb, handle)
	return handle
}

func (p *TCPPool) dial(addr string, cb Callbacks, handle *pendingDial) {
	conn, err := net.DialTimeout("tcp", addr, p.cfg.DialTimeout)

	p.mu.Lock()
	p.pending--
	closed := p.closed
	p.mu.Unlock()

	if !handle.claim() || closed {
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		reason := RemoteConnectionFailure
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			reason = Timeout
		}
		p.logger.Warnf("upstream dial failed", map[string]any{
			"addr":   addr,
			"reason": reason.String(),
			"error":  err.Error(),
		})
		p.metrics.RecordPoolFailure(p.cfg.ClusterName, reason.String())
		cb.OnPoolFailure(reason)
		return
	}

	pc := &pooledConn{pool: p, conn: conn}
	p.logger.Debugf("upstream connection established", map[string]any{"addr": addr})
	p.metrics.RecordLease(p.cfg.ClusterName, false)
	cb.OnPoolReady(newLease(pc))
}

// release returns a connection to the idle list, or closes it if the pool is
// full or shut down.
func (p *TCPPool) release(pc *pooledConn) {
	p.metrics.RecordLeaseEnd()
	p.mu.Lock()
	if p.closed || pc.dead || len(p.idle) >= p.cfg.MaxIdle {
		p.mu.Unlock()
		pc.close(CloseFlushWrite)
		return
	}
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

// Close shuts the pool down and closes all idle connections. Leased
// connections are closed when their lease ends.
func (p *TCPPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, pc := range idle {
		pc.close(CloseNoFlush)
	}
}

// pendingDial is the Cancellable for an in-flight dial.
type pendingDial struct {
	mu        sync.Mutex
	cancelled bool
	claimed   bool
}

// Cancel abandons the dial. The connection, if it completes, is closed.
func (h *pendingDial) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
}

// claim marks the dial result as delivered; returns false if cancelled.
func (h *pendingDial) claim() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return false
	}
	h.claimed = true
	return true
}

// pooledConn is one physical upstream connection.
type pooledConn struct {
	pool *TCPPool
	conn net.Conn

	mu          sync.Mutex
	state       any
	leaseGen    int
	dead        bool
	localClosed bool
}

// alive probes an idle connection with an immediate-deadline read. Data
// arriving while idle is a protocol violation and kills the connection.
func (pc *pooledConn) alive() bool {
	pc.mu.Lock()
	dead := pc.dead
	pc.mu.Unlock()
	if dead {
		return false
	}
	if err := pc.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	var probe [1]byte
	n, err := pc.conn.Read(probe[:])
	_ = pc.conn.SetReadDeadline(time.Time{})
	if n > 0 {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (pc *pooledConn) close(ct CloseType) {
	pc.mu.Lock()
	if pc.dead {
		pc.mu.Unlock()
		return
	}
	pc.dead = true
	pc.localClosed = true
	pc.mu.Unlock()

	if ct == CloseNoFlush {
		if tc, ok := pc.conn.(*net.TCPConn); ok {
			_ = tc.SetLinger(0)
		}
	}
	_ = pc.conn.Close()
}

// lease is the ConnectionData handed to one request.
type lease struct {
	pc  *pooledConn
	gen int

	mu       sync.Mutex
	released bool
	loopDone chan struct{}
}

func newLease(pc *pooledConn) *lease {
	pc.mu.Lock()
	pc.leaseGen++
	gen := pc.leaseGen
	pc.mu.Unlock()
	_ = pc.conn.SetReadDeadline(time.Time{})
	return &lease{pc: pc, gen: gen}
}

func (l *lease) Connection() Connection {
	return &leasedConn{l: l}
}

// AddUpstreamCallbacks starts the read loop delivering data and connection
// events to cb for the duration of this lease.
func (l *lease) AddUpstreamCallbacks(cb UpstreamCallbacks) {
	done := make(chan struct{})
	l.mu.Lock()
	l.loopDone = done
	l.mu.Unlock()
	go l.readLoop(cb, done)
}

func (l *lease) readLoop(cb UpstreamCallbacks, done chan struct{}) {
	defer close(done)
	pc := l.pc
	buf := make([]byte, 16*1024)
	for {
		n, err := pc.conn.Read(buf)
		if l.stale() {
			return
		}
		if n > 0 {
			data := bytes.NewBuffer(append([]byte(nil), buf[:n]...))
			cb.OnUpstreamData(data, false)
			if l.stale() {
				return
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Deadline poke from a lease transition; keep reading.
				continue
			}
			pc.mu.Lock()
			local := pc.localClosed
			pc.dead = true
			pc.mu.Unlock()
			if local {
				cb.OnEvent(EventLocalClose)
			} else {
				cb.OnEvent(EventRemoteClose)
			}
			return
		}
	}
}

// stale reports whether this lease has ended (released or superseded).
func (l *lease) stale() bool {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return true
	}
	l.pc.mu.Lock()
	gen := l.pc.leaseGen
	l.pc.mu.Unlock()
	return gen != l.gen
}

func (l *lease) ConnectionState() any {
	l.pc.mu.Lock()
	defer l.pc.mu.Unlock()
	return l.pc.state
}

func (l *lease) SetConnectionState(state any) {
	l.pc.mu.Lock()
	defer l.pc.mu.Unlock()
	l.pc.state = state
}

// Release returns the connection to the pool. The read loop has fully stopped
// before the connection becomes available to the next lease, so a successor's
// loop never contends with this one for response bytes.
func (l *lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	done := l.loopDone
	l.mu.Unlock()

	if done != nil {
		// Unblock a pending read so the loop observes the ended lease.
		_ = l.pc.conn.SetReadDeadline(time.Now())
		<-done
		_ = l.pc.conn.SetReadDeadline(time.Time{})
	}
	l.pc.pool.release(l.pc)
}

// leasedConn is the write side of a leased connection.
type leasedConn struct {
	l *lease
}

func (c *leasedConn) Write(buf *bytes.Buffer, endStream bool) error {
	if _, err := c.l.pc.conn.Write(buf.Bytes()); err != nil {
		return err
	}
	if endStream {
		if tc, ok := c.l.pc.conn.(*net.TCPConn); ok {
			return tc.CloseWrite()
		}
	}
	return nil
}

// Close terminates the connection; the lease ends without returning it to
// the pool.
func (c *leasedConn) Close(ct CloseType) {
	c.l.mu.Lock()
	alreadyReleased := c.l.released
	c.l.released = true
	c.l.mu.Unlock()

	c.l.pc.close(ct)
	if !alreadyReleased {
		c.l.pc.pool.metrics.RecordLeaseEnd()
	}
}
