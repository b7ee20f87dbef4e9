package sip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

var (
	UDPMTUSize = 1500

	ErrUDPMTUCongestion = errors.New("size of packet larger than MTU")
)

// TransportUDP is the UDP Transport implementation. A single listening
// socket doubles as both the server's receive path and, by pooling it under
// the addresses of peers it has heard from, a reusable send path back to
// them — since UDP has no per-peer connection to dial.
type TransportUDP struct {
	parser          *Parser
	pool            *ConnectionPool
	log             *slog.Logger
	connectionReuse bool
}

func (t *TransportUDP) init(par *Parser) {
	t.parser = par
	t.pool = NewConnectionPool()
	if t.log == nil {
		t.log = DefaultLogger()
	}
}

func (t *TransportUDP) String() string  { return "transport<UDP>" }
func (t *TransportUDP) Network() string { return NetworkUDP }

func (t *TransportUDP) Close() error {
	// Closing the listener socket itself is the caller's responsibility.
	return t.pool.Clear()
}

// Serve listens on an already-bound PacketConn, blocking until it's closed.
func (t *TransportUDP) Serve(conn net.PacketConn, handler MessageHandler) error {
	t.log.Debug("begin listening", "network", t.Network(), "addr", conn.LocalAddr().String())
	c := &UDPConnection{
		PacketConn: conn,
		PacketAddr: conn.LocalAddr().String(),
		Listener:   true,
	}

	t.pool.Add(c.PacketAddr, c)
	t.readListenerConnection(c, c.PacketAddr, handler)
	return nil
}

func (t *TransportUDP) ResolveAddr(addr string) (net.Addr, error) {
	return net.ResolveUDPAddr("udp", addr)
}

// GetConnection returns the pooled connection for addr — either the shared
// listener socket, or a connection this transport dialed for a specific
// peer (pooled under both its remote and its local address).
func (t *TransportUDP) GetConnection(addr string) Connection {
	return t.pool.Get(addr)
}

func (t *TransportUDP) CreateConnection(ctx context.Context, laddr Addr, raddr Addr, handler MessageHandler) (Connection, error) {
	return t.createConnection(ctx, laddr, raddr, handler)
}

func (t *TransportUDP) createConnection(ctx context.Context, laddr Addr, raddr Addr, handler MessageHandler) (Connection, error) {
	laddrStr := laddr.String()
	lc := &net.ListenConfig{}

	protocol := "udp"
	if laddr.IP == nil && raddr.IP.To4() != nil {
		protocol = "udp4"
	}
	addr := raddr.String()

	conn, err := t.pool.addSingleflight(raddr, laddr, t.connectionReuse, func() (Connection, error) {
		udpconn, err := lc.ListenPacket(ctx, protocol, laddrStr)
		if err != nil {
			return nil, err
		}

		return &UDPConnection{
			PacketConn: udpconn,
			PacketAddr: udpconn.LocalAddr().String(),
			// one ref for this return, one for the reader goroutine below.
			refcount: 2 + IdleConnection,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	c := conn.(*UDPConnection)

	t.log.Debug("New connection", "raddr", addr)
	go t.readUDPConnection(c, addr, c.PacketAddr, handler)
	return c, err
}

func (t *TransportUDP) readUDPConnection(conn *UDPConnection, raddr string, laddr string, handler MessageHandler) {
	defer t.pool.Delete(raddr)
	t.readListenerConnection(conn, laddr, handler)
}

func (t *TransportUDP) readListenerConnection(conn *UDPConnection, laddr string, handler MessageHandler) {
	buf := make([]byte, transportBufferSize)
	defer func() {
		if err := t.pool.CloseAndDelete(conn, laddr); err != nil {
			t.log.Warn("connection pool not clean cleanup", "error", err)
		}
	}()
	defer t.log.Debug("Read listener connection stopped", "laddr", laddr)

	var lastRaddr string
	// A single UDP listener doubles as the dial connection for every peer
	// that writes to it; acceptedAddr tracks which pool entries this
	// listener is responsible for removing on shutdown.
	acceptedAddr := make([]string, 0, 1000)
	defer func() {
		t.pool.DeleteMultiple(acceptedAddr)
	}()

	for {
		num, raddr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				t.log.Debug("Read connection closed", "laddr", laddr, "error", err)
				return
			}
			t.log.Error("Read connection error", "laddr", laddr, "error", err)
			return
		}

		data := buf[:num]
		if len(bytes.Trim(data, "\x00")) == 0 {
			continue
		}
		rastr := raddr.String()
		if lastRaddr != rastr {
			t.pool.Add(rastr, conn)
			acceptedAddr = append(acceptedAddr, rastr)
		}

		t.parseAndHandle(data, rastr, handler)
		lastRaddr = rastr
	}
}

func (t *TransportUDP) parseAndHandle(data []byte, src string, handler MessageHandler) {
	if len(data) <= 4 {
		// One or two bare CRLFs: a keep-alive, not a message.
		if len(bytes.Trim(data, "\r\n")) == 0 {
			t.log.Debug("Keep alive CRLF received")
			return
		}
	}

	msg, err := t.parser.ParseSIP(data)
	if err != nil {
		t.log.Error("failed to parse", "data", string(data), "error", err)
		return
	}

	msg.SetTransport(t.Network())
	// RFC 3581 §6: assume we're behind NAT, so record the packet's actual
	// source rather than trusting Via for where to route a reply.
	msg.SetSource(src)
	handler(msg)
}

// UDPConnection wraps either a listening PacketConn (shared, refcounted,
// never closed by a reader) or a connected net.Conn dialed to one peer.
// Exactly one of Conn/PacketConn is set.
type UDPConnection struct {
	PacketConn net.PacketConn
	PacketAddr string
	Listener   bool

	Conn net.Conn

	mu       sync.RWMutex
	refcount int
}

func (c *UDPConnection) close() error {
	c.mu.Lock()
	c.refcount = 0
	c.mu.Unlock()

	if c.Conn != nil {
		slog.Debug("UDP doing hard close", "ip", c.LocalAddr().String(), "dst", c.Conn.RemoteAddr().String(), "ref", 0)
		return c.Conn.Close()
	}

	if c.Listener {
		// Owned by Serve's caller; the reader loop already returned its
		// own error on close, so there's nothing left to do here.
		return nil
	}
	slog.Debug("UDP listener doing hard close", "ip", c.LocalAddr().String(), "ref", 0)
	return c.PacketConn.Close()
}

func (c *UDPConnection) LocalAddr() net.Addr {
	if c.Conn != nil {
		return c.Conn.LocalAddr()
	}
	return c.PacketConn.LocalAddr()
}

func (c *UDPConnection) RemoteAddr() net.Addr {
	if c.Conn != nil {
		return c.Conn.RemoteAddr()
	}
	return c.PacketConn.LocalAddr()
}

func (c *UDPConnection) Ref(i int) int {
	c.mu.Lock()
	c.refcount += i
	ref := c.refcount
	c.mu.Unlock()
	return ref
}

func (c *UDPConnection) Close() error {
	return c.close()
}

func (c *UDPConnection) TryClose() (int, error) {
	c.mu.Lock()
	c.refcount--
	ref := c.refcount
	c.mu.Unlock()

	if c.Listener {
		// Listener sockets are closed explicitly, not by refcount.
		return ref, nil
	}

	slog.Debug("UDP reference decrement", "src", c.LocalAddr().String(), "dst", c.RemoteAddr().String(), "ref", ref)
	if ref > 0 {
		return ref, nil
	}
	if ref < 0 {
		slog.Warn("UDP ref went negative", "src", c.LocalAddr().String(), "dst", c.RemoteAddr().String(), "ref", ref)
		return 0, nil
	}

	return ref, c.close()
}

func (c *UDPConnection) Read(b []byte) (n int, err error) {
	n, err = c.Conn.Read(b)
	if SIPDebug {
		logSIPRead("UDP", c.Conn.LocalAddr().String(), c.Conn.RemoteAddr().String(), b[:n])
	}
	return n, err
}

func (c *UDPConnection) Write(b []byte) (n int, err error) {
	n, err = c.Conn.Write(b)
	if SIPDebug {
		logSIPWrite("UDP", c.Conn.LocalAddr().String(), c.Conn.RemoteAddr().String(), b[:n])
	}
	return n, err
}

func (c *UDPConnection) ReadFrom(b []byte) (n int, addr net.Addr, err error) {
	n, addr, err = c.PacketConn.ReadFrom(b)
	if SIPDebug && err == nil {
		logSIPRead("UDP", c.PacketConn.LocalAddr().String(), addr.String(), b[:n])
	}
	return n, addr, err
}

func (c *UDPConnection) WriteTo(b []byte, addr net.Addr) (n int, err error) {
	n, err = c.PacketConn.WriteTo(b, addr)
	if SIPDebug && err == nil {
		logSIPWrite("UDP", c.PacketConn.LocalAddr().String(), addr.String(), b[:n])
	}
	return n, err
}

func (c *UDPConnection) WriteMsg(msg Message) error {
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()
	msg.StringWrite(buf)
	data := buf.Bytes()

	if len(data) > UDPMTUSize-200 {
		return ErrUDPMTUCongestion
	}

	var n int
	if c.Conn != nil {
		var err error
		n, err = c.Write(data)
		if err != nil {
			return fmt.Errorf("conn %s write err=%w", c.Conn.LocalAddr().String(), err)
		}
	} else {
		dst := msg.Destination() // already resolved by the transport layer
		host, port, err := ParseAddr(dst)
		if err != nil {
			return err
		}
		raddr := net.UDPAddr{IP: net.ParseIP(host), Port: port}
		if raddr.Port == 0 {
			raddr.Port = DefaultUdpPort
		}

		n, err = c.WriteTo(data, &raddr)
		if err != nil {
			return fmt.Errorf("udp conn %s err. %w", c.PacketConn.LocalAddr().String(), err)
		}
	}

	if n == 0 {
		return fmt.Errorf("wrote 0 bytes")
	}
	if n != len(data) {
		return fmt.Errorf("fail to write full message")
	}
	return nil
}
