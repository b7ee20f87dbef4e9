package siptest

import (
	"log/slog"

	"github.com/voxgrid/sipstack/sip"
)

func NewServerTxRecorder(req *sip.Request) *ServerTxRecorder {
	key, err := sip.ServerTxKeyMake(req)
	if err != nil {
		panic(err)
	}
	conn := newConnRecorder()
	stx := sip.NewServerTx(key, req, conn, slog.Default())
	if err := stx.Init(); err != nil {
		panic(err)
	}
	return &ServerTxRecorder{
		stx,
		conn,
	}
}

// ServerTxRecorder wraps server transactions
type ServerTxRecorder struct {
	*sip.ServerTx
	c *connRecorder
}

// Result returns sip response. Can be nil if none was processed
func (r *ServerTxRecorder) Result() []*sip.Response {
	if len(r.c.msgs) == 0 {
		return nil
	}
	resps := make([]*sip.Response, len(r.c.msgs))
	for i, m := range r.c.msgs {
		resps[i] = m.(*sip.Response).Clone()
	}

	return resps
}
