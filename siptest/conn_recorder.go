package siptest

import (
	"net"
	"sync/atomic"

	"github.com/voxgrid/sipstack/sip"
)

// connRecorder is a sip.Connection double that keeps every message written
// to it instead of putting bytes on a socket, so a ServerTxRecorder/
// ClientTxRequester can assert on what a transaction actually sent.
type connRecorder struct {
	msgs []sip.Message

	ref atomic.Int32
}

func newConnRecorder() *connRecorder {
	return &connRecorder{}
}

func (c *connRecorder) LocalAddr() net.Addr {
	return nil
}

func (c *connRecorder) WriteMsg(msg sip.Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *connRecorder) Ref(delta int) int {
	return int(c.ref.Add(int32(delta)))
}

func (c *connRecorder) TryClose() (int, error) {
	return int(c.ref.Add(-1)), nil
}

func (c *connRecorder) Close() error { return nil }
