// Package fakes provides in-memory net.Conn doubles for exercising the
// transport layer without opening real sockets.
package fakes

import (
	"net"
	"testing"
)

// TestConnection is the common surface a fake transport connection exposes
// to test code: push bytes in as if read off the wire, inspect what the
// transport wrote back, and round-trip a request/response pair.
type TestConnection interface {
	TestReadConn(t testing.TB) []byte
	TestWriteConn(t testing.TB, data []byte)
	TestRequest(t testing.TB, data []byte) []byte
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}
