package sip

import (
	"bytes"
	"errors"
	"net"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Connection is a transport-level connection a transaction writes messages
// over. It's refcounted so a connection can be shared across transactions
// (TCP/TLS keep-alive) without closing out from under an in-flight one.
type Connection interface {
	LocalAddr() net.Addr
	// WriteMsg marshals msg and writes it to the underlying socket.
	WriteMsg(msg Message) error
	// Ref adjusts the reference count by i and returns the new value.
	Ref(i int) int
	// TryClose decrements the reference count, closing the connection once
	// it reaches zero. Returns the count after the decrement.
	TryClose() (int, error)

	Close() error
}

var bufPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// ConnectionPool indexes live connections by remote (and local) address
// string, and deduplicates concurrent dial attempts to the same peer via
// singleflight so two goroutines racing to reach the same raddr share one
// connection instead of opening two.
type ConnectionPool struct {
	sync.RWMutex
	m  map[string]Connection
	sf singleflight.Group
}

func NewConnectionPool() *ConnectionPool {
	p := &ConnectionPool{}
	p.init()
	return p
}

func (p *ConnectionPool) init() {
	p.m = make(map[string]Connection)
}

// addSingleflight runs do() to create a connection to raddr, collapsing
// concurrent callers bound for the same (laddr, raddr) pair into one dial
// when laddr is pinned or reuse is requested; otherwise do() always runs.
func (p *ConnectionPool) addSingleflight(raddr Addr, laddr Addr, reuse bool, do func() (Connection, error)) (Connection, error) {
	a := raddr.String()

	if laddr.Port > 0 || reuse {
		conn, err, shared := p.sf.Do(laddr.String()+raddr.String(), func() (any, error) {
			return do()
		})
		if err != nil {
			return nil, err
		}
		c := conn.(Connection)
		if shared {
			return c, nil
		}

		p.Lock()
		defer p.Unlock()
		p.m[a] = c
		p.m[c.LocalAddr().String()] = c
		return c, nil
	}

	c, err := do()
	if err != nil {
		return nil, err
	}

	if c.Ref(0) < 1 {
		c.Ref(1)
	}
	p.m[a] = c
	p.m[c.LocalAddr().String()] = c
	return c, nil
}

func (p *ConnectionPool) Add(a string, c Connection) {
	if c.Ref(0) < 1 {
		c.Ref(1)
	}
	p.Lock()
	p.m[a] = c
	p.Unlock()
}

// Get looks up a by address and bumps its reference count. Callers must
// TryClose when done with it.
func (p *ConnectionPool) Get(a string) (c Connection) {
	p.RLock()
	c, exists := p.m[a]
	p.RUnlock()
	if !exists {
		return nil
	}
	c.Ref(1)
	return c
}

// CloseAndDelete removes addr from the pool and closes c.
func (p *ConnectionPool) CloseAndDelete(c Connection, addr string) error {
	p.Lock()
	defer p.Unlock()
	delete(p.m, addr)
	ref, _ := c.TryClose() // be nice, avoids double closing
	if ref > 0 {
		return c.Close()
	}
	return nil
}

func (p *ConnectionPool) Delete(addr string) {
	p.Lock()
	defer p.Unlock()
	delete(p.m, addr)
}

func (p *ConnectionPool) DeleteMultiple(addrs []string) {
	p.Lock()
	defer p.Unlock()
	for _, a := range addrs {
		delete(p.m, a)
	}
}

// Clear closes and removes every pooled connection.
func (p *ConnectionPool) Clear() error {
	p.Lock()
	defer p.Unlock()

	defer func() {
		p.m = make(map[string]Connection)
	}()

	var werr error
	for _, c := range p.m {
		if c.Ref(0) <= 0 {
			continue
		}
		werr = errors.Join(werr, c.Close())
	}
	return werr
}

func (p *ConnectionPool) Size() int {
	p.RLock()
	l := len(p.m)
	p.RUnlock()
	return l
}
