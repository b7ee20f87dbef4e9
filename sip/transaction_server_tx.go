package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type ServerTx struct {
	baseTx
	acks         chan *Request
	onCancel     func(r *Request)
	timer_g      *time.Timer
	timer_g_time time.Duration
	timer_h      *time.Timer
	timer_i      *time.Timer
	timer_i_time time.Duration
	timer_j      *time.Timer
	timer_j_time time.Duration
	timer_1xx    *time.Timer
	timer_l      *time.Timer
	reliable     bool

	closeOnce sync.Once
}

func NewServerTx(key string, origin *Request, conn Connection, logger *slog.Logger) *ServerTx {
	tx := new(ServerTx)
	tx.key = key
	tx.conn = conn

	tx.acks = make(chan *Request)
	tx.done = make(chan struct{})
	tx.log = logger
	tx.origin = origin
	tx.reliable = IsReliable(origin.Transport())
	return tx
}

func (tx *ServerTx) Init() error {
	tx.initStep()

	tx.mu.Lock()
	if !tx.reliable {
		tx.timer_g_time = Timer_G
		tx.timer_i_time = Timer_I
		tx.timer_j_time = Timer_J
	}
	tx.mu.Unlock()

	// RFC 3261 §17.2.1
	if tx.Origin().IsInvite() {
		tx.mu.Lock()
		tx.timer_1xx = time.AfterFunc(Timer_1xx, func() {
			trying := NewResponseFromRequest(
				tx.Origin(),
				100,
				"Trying",
				nil,
			)
			if err := tx.Respond(trying); err != nil {
				tx.log.Error("send '100 Trying' response failed", "error", err, "tx", tx.Key())
			}
		})
		tx.mu.Unlock()
	}
	tx.log.Debug("Server transaction initialized", "tx", tx.Key())
	return nil
}

// Receive is endpoint for handling received server requests.
// NOTE: it could block while passing request to client,
// therefore running in seperate goroutine is needed
func (tx *ServerTx) Receive(req *Request) error {
	tx.mu.Lock()
	if tx.timer_1xx != nil {
		tx.timer_1xx.Stop()
		tx.timer_1xx = nil
	}
	tx.mu.Unlock()

	var sig txSignal
	switch {
	case req.Method == tx.origin.Method:
		sig = sigServerRequest
	case req.IsAck(): // ACK for non-2xx response
		sig = sigServerAck
	case req.IsCancel():
		sig = sigServerCancel
	default:
		return fmt.Errorf("unexpected message error")
	}

	tx.advanceWithRequest(sig, req)
	return nil
}

func (tx *ServerTx) Respond(res *Response) error {
	if res.IsCancel() {
		return tx.conn.WriteMsg(res)
	}

	tx.mu.Lock()
	if tx.timer_1xx != nil {
		tx.timer_1xx.Stop()
		tx.timer_1xx = nil
	}
	tx.mu.Unlock()

	var sig txSignal
	switch {
	case res.IsProvisional():
		sig = sigServerUser1xx
	case res.IsSuccess():
		sig = sigServerUser2xx
	default:
		sig = sigServerUser300Plus
	}
	tx.advanceWithResponse(sig, res)
	// In case of termination or some error
	return tx.Err()
}

// Acks makes channel for sending acks. Channel is created on demand
func (tx *ServerTx) Acks() <-chan *Request {
	return tx.acks
}

func (tx *ServerTx) Context() context.Context {
	return tx
}

// This adding this to be context compatible
func (tx *ServerTx) Deadline() (deadline time.Time, ok bool) {
	return time.Time{}, false
}
func (tx *ServerTx) Value(v any) (k any) {
	return nil
}

func (tx *ServerTx) ackSend(r *Request) {
	select {
	case <-tx.done:
		tx.log.Warn("ACK missed", "callid", r.CallID().Value())
	case tx.acks <- r:
	}
}

func (tx *ServerTx) ackSendAsync(r *Request) {
	select {
	case tx.acks <- r:
		return
	default:
	}

	// Go routines should be cheap and it will prevent blocking
	go tx.ackSend(r)
}

func (tx *ServerTx) OnCancel(f FnTxCancel) bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	select {
	case <-tx.done:
		return false
	default:
	}
	tx.onCancel = f
	return true
}

func (tx *ServerTx) Terminate() {
	tx.log.Debug("Server transaction terminating", "tx", tx.Key())
	tx.delete(ErrTransactionTerminated)
}

// TerminateGracefully allows retransmission to happen before shuting down transaction
func (tx *ServerTx) TerminateGracefully() {
	if tx.reliable {
		// reliable transports have no retransmission, so it is better just to terminate
		tx.Terminate()
		return
	}

	// Check did we receive final response
	tx.stepMu.Lock()
	finalized := tx.pendingResp != nil && !tx.pendingResp.IsProvisional()
	tx.stepMu.Unlock()
	if !finalized {
		tx.Terminate()
		return
	}
	tx.log.Debug("Server transaction waiting termination", "tx", tx.Key())
	<-tx.Done()
}

// initStep picks the INVITE or non-INVITE entry state depending on the
// method of the request this transaction carries.
func (tx *ServerTx) initStep() {
	if tx.Origin().IsInvite() {
		tx.baseTx.initStep(tx.inviteStateProcceeding)
	} else {
		tx.baseTx.initStep(tx.stateTrying)
	}
}

func (tx *ServerTx) delete(err error) {
	tx.closeOnce.Do(func() {
		tx.mu.Lock()
		close(tx.done)
		onterm := tx.onTerminate
		tx.mu.Unlock()
		if onterm != nil {
			onterm(tx.key, err)
		}
	})

	tx.mu.Lock()
	if tx.timer_i != nil {
		tx.timer_i.Stop()
		tx.timer_i = nil
	}
	if tx.timer_g != nil {
		tx.timer_g.Stop()
		tx.timer_g = nil
	}
	if tx.timer_h != nil {
		tx.timer_h.Stop()
		tx.timer_h = nil
	}
	if tx.timer_j != nil {
		tx.timer_j.Stop()
		tx.timer_j = nil
	}
	if tx.timer_1xx != nil {
		tx.timer_1xx.Stop()
		tx.timer_1xx = nil
	}
	tx.mu.Unlock()
	tx.log.Debug("Server transaction destroyed", "tx", tx.Key())
}
