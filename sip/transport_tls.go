package sip

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
)

// TransportTLS layers a TLS client/server handshake over TransportTCP's
// connection pool and framing.
type TransportTLS struct {
	*TransportTCP

	tlsConf   *tls.Config
	tlsClient func(conn net.Conn, hostname string) *tls.Conn
}

// newTLSTransport builds a TLS transport. dialTLSConf must not be nil; it's
// cloned per-dial only when ServerName isn't already pinned, so SNI follows
// whatever host we're actually connecting to.
func newTLSTransport(par *Parser, dialTLSConf *tls.Config, logger *slog.Logger) *TransportTLS {
	t := &TransportTLS{
		TransportTCP: newTCPTransport(par, logger),
		tlsConf:      dialTLSConf,
	}
	t.tlsClient = func(conn net.Conn, hostname string) *tls.Conn {
		config := dialTLSConf
		if config.ServerName == "" {
			config = config.Clone()
			config.ServerName = hostname
		}
		return tls.Client(conn, config)
	}
	t.log = logger.With("caller", "transport<TLS>", "transport", "tls")
	return t
}

// init finishes constructing t from a TLS config supplied by the transport
// layer (as opposed to newTLSTransport, used when a TLS transport is built
// standalone). dialTLSConf is cloned per-dial only when ServerName isn't
// already pinned, so SNI follows whatever host we're actually connecting to.
func (t *TransportTLS) init(par *Parser, dialTLSConf *tls.Config) {
	if dialTLSConf == nil {
		dialTLSConf = &tls.Config{}
	}
	if t.TransportTCP == nil {
		t.TransportTCP = &TransportTCP{log: t.log}
	}
	t.TransportTCP.init(par)
	t.tlsConf = dialTLSConf
	t.tlsClient = func(conn net.Conn, hostname string) *tls.Conn {
		config := dialTLSConf
		if config.ServerName == "" {
			config = config.Clone()
			config.ServerName = hostname
		}
		return tls.Client(conn, config)
	}
	t.log = t.log.With("caller", "Transport<TLS>")
}

func (t *TransportTLS) String() string {
	return "transport<TLS>"
}

func (*TransportTLS) Network() string {
	return NetworkTLS
}

// CreateConnection dials raddr over TCP, then performs the TLS handshake on
// top, using raddr.Hostname (falling back to its IP) as the SNI name.
func (t *TransportTLS) CreateConnection(ctx context.Context, laddr Addr, raddr Addr, handler MessageHandler) (Connection, error) {
	hostname := raddr.Hostname
	if hostname == "" {
		hostname = raddr.IP.String()
	}

	var tladdr *net.TCPAddr
	if laddr.IP != nil {
		tladdr = &net.TCPAddr{IP: laddr.IP, Port: laddr.Port}
	}
	traddr := &net.TCPAddr{IP: raddr.IP, Port: raddr.Port}
	addr := traddr.String()

	dialer := &net.Dialer{LocalAddr: tladdr}
	t.log.Debug("Dialing new connection", "raddr", addr)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial TCP error: %w", err)
	}

	tlsConn := t.tlsClient(conn, hostname)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("TLS handshake error: %w", err)
	}

	c := t.initConnection(tlsConn, addr, handler)
	c.Ref(1)
	return c, nil
}
