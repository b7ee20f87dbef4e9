package sip

import (
	"time"
)

// invite state machine - RFC 3261 §17.2.1
func (tx *ServerTx) inviteStateProcceeding(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigServerRequest:
		tx.step, act = tx.inviteStateProcceeding, tx.actRespond
	case sigServerCancel:
		tx.step, act = tx.inviteStateProcceeding, tx.actCancel
	case sigServerUser1xx:
		tx.step, act = tx.inviteStateProcceeding, tx.actRespond
	case sigServerUser2xx:
		// RFC 6026 §7.1
		tx.step, act = tx.inviteStateAccepted, tx.actRespondAccept
	case sigServerUser300Plus:
		tx.step, act = tx.inviteStateCompleted, tx.actRespondComplete
	case sigServerTransportErr:
		tx.step, act = tx.inviteStateTerminated, tx.actTransErr
	default:
		return sigNone
	}

	return act()
}

func (tx *ServerTx) inviteStateCompleted(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigServerRequest:
		tx.step, act = tx.inviteStateCompleted, tx.actRespond
	case sigServerAck:
		tx.step, act = tx.inviteStateConfirmed, tx.actConfirm
	case sigServerTimerG:
		tx.step, act = tx.inviteStateCompleted, tx.actRespondComplete
	case sigServerTimerH:
		tx.step, act = tx.inviteStateTerminated, tx.actDelete
	case sigServerTransportErr:
		tx.step, act = tx.inviteStateTerminated, tx.actTransErr
	default:
		return sigNone
	}

	return act()
}

func (tx *ServerTx) inviteStateConfirmed(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigServerTimerI:
		tx.step, act = tx.inviteStateTerminated, tx.actDelete
	default:
		return sigNone
	}
	return act()
}

func (tx *ServerTx) inviteStateAccepted(s txSignal) txSignal {
	// RFC 6026 §7.1
	var act txAction
	switch s {
	case sigServerAck:
		tx.step, act = tx.inviteStateAccepted, tx.actPassupAck
	case sigServerUser2xx:
		// The server transaction MUST NOT generate 2xx retransmissions on
		// its own; a 2xx retransmission passed by the TU in this state
		// still goes straight to the transport layer.
		tx.step, act = tx.inviteStateAccepted, tx.actRespond
	case sigServerTimerL:
		tx.step, act = tx.inviteStateTerminated, tx.actDelete
	default:
		return sigNone
	}
	return act()
}

func (tx *ServerTx) inviteStateTerminated(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigServerDelete:
		tx.step, act = tx.inviteStateTerminated, tx.actDelete
	default:
		return sigNone
	}
	return act()
}

func (tx *ServerTx) stateTrying(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigServerUser1xx:
		tx.step, act = tx.stateProceeding, tx.actRespond
	case sigServerUser2xx:
		tx.step, act = tx.stateCompleted, tx.actFinal
	case sigServerUser300Plus:
		tx.step, act = tx.stateCompleted, tx.actFinal
	case sigServerTransportErr:
		tx.step, act = tx.stateTerminated, tx.actTransErr
	default:
		return sigNone
	}
	return act()
}

// Proceeding
func (tx *ServerTx) stateProceeding(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigServerRequest:
		tx.step, act = tx.stateProceeding, tx.actRespond
	case sigServerUser1xx:
		tx.step, act = tx.stateProceeding, tx.actRespond
	case sigServerUser2xx:
		tx.step, act = tx.stateCompleted, tx.actFinal
	case sigServerUser300Plus:
		tx.step, act = tx.stateCompleted, tx.actFinal
	case sigServerTransportErr:
		tx.step, act = tx.stateTerminated, tx.actTransErr
	default:
		return sigNone
	}
	return act()
}

// Completed
func (tx *ServerTx) stateCompleted(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigServerRequest:
		tx.step, act = tx.stateCompleted, tx.actRespond
	case sigServerTimerJ:
		tx.step, act = tx.stateTerminated, tx.actDelete
	case sigServerTransportErr:
		tx.step, act = tx.stateTerminated, tx.actTransErr
	default:
		return sigNone
	}
	return act()
}

// Terminated
func (tx *ServerTx) stateTerminated(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigServerDelete:
		tx.step, act = tx.stateTerminated, tx.actDelete
	default:
		return sigNone
	}
	return act()
}

func (tx *ServerTx) actRespond() txSignal {
	if err := tx.passResp(); err != nil {
		return sigServerTransportErr
	}

	return sigNone
}

func (tx *ServerTx) actRespondComplete() txSignal {
	if err := tx.passResp(); err != nil {
		return sigServerTransportErr
	}

	if !tx.reliable {
		tx.mu.Lock()
		if tx.timer_g == nil {
			tx.timer_g = time.AfterFunc(tx.timer_g_time, func() {
				tx.advance(sigServerTimerG)
			})
		} else {
			tx.timer_g_time *= 2
			if tx.timer_g_time > T2 {
				tx.timer_g_time = T2
			}

			tx.timer_g.Reset(tx.timer_g_time)
		}
		tx.mu.Unlock()
	}

	tx.mu.Lock()
	if tx.timer_h == nil {
		tx.timer_h = time.AfterFunc(Timer_H, func() {
			tx.advance(sigServerTimerH)
		})
	}
	tx.mu.Unlock()

	return sigNone
}

func (tx *ServerTx) actRespondAccept() txSignal {
	if err := tx.passResp(); err != nil {
		return sigServerTransportErr
	}

	tx.mu.Lock()
	tx.timer_l = time.AfterFunc(Timer_L, func() {
		tx.advance(sigServerTimerL)
	})
	tx.mu.Unlock()

	return sigNone
}

func (tx *ServerTx) actPassupAck() txSignal {
	tx.passAck()
	return sigNone
}

// Send final response
func (tx *ServerTx) actFinal() txSignal {
	if err := tx.passResp(); err != nil {
		return sigServerTransportErr
	}

	// RFC 3261 §17.2.2: on entering Completed, Timer J fires in 64*T1
	// seconds for unreliable transports, zero for reliable ones.
	tx.mu.Lock()
	tx.timer_j = time.AfterFunc(tx.timer_j_time, func() {
		tx.advance(sigServerTimerJ)
	})
	tx.mu.Unlock()

	return sigNone
}

// Inform user of transport error
func (tx *ServerTx) actTransErr() txSignal {
	tx.log.Debug("Transport error. Transaction will terminate", "error", tx.pendingErr, "tx", tx.Key())
	return sigServerDelete
}

// Inform user of timeout error
func (tx *ServerTx) actTimeout() txSignal {
	tx.log.Debug("Timed out. Transaction will terminate", "error", tx.pendingErr, "tx", tx.Key())
	return sigServerDelete
}

// Just delete the transaction.
func (tx *ServerTx) actDelete() txSignal {
	if tx.pendingErr == nil {
		tx.pendingErr = ErrTransactionTerminated
	}
	tx.delete(tx.pendingErr)
	return sigNone
}

func (tx *ServerTx) actConfirm() txSignal {
	tx.mu.Lock()

	if tx.timer_g != nil {
		tx.timer_g.Stop()
		tx.timer_g = nil
	}

	if tx.timer_h != nil {
		tx.timer_h.Stop()
		tx.timer_h = nil
	}

	// If transport is reliable this will be 0 and fire imediately
	tx.timer_i = time.AfterFunc(tx.timer_i_time, func() {
		tx.advance(sigServerTimerI)
	})

	tx.mu.Unlock()

	tx.passAck()
	return sigNone
}

func (tx *ServerTx) actCancel() txSignal {
	r := tx.pendingCancel

	if r == nil {
		return sigNone
	}

	tx.log.Debug("Passing 487 on CANCEL", "tx", tx.Key())
	tx.pendingResp = NewResponseFromRequest(tx.origin, StatusRequestTerminated, "Request Terminated", nil)
	tx.pendingErr = ErrTransactionCanceled // For now only informative

	tx.mu.Lock()
	onCancel := tx.onCancel
	tx.mu.Unlock()
	if onCancel != nil {
		onCancel(r)
	}

	return sigServerUser300Plus
}

func (tx *ServerTx) passAck() {
	r := tx.pendingAck
	if r == nil {
		return
	}

	tx.ackSendAsync(r)
}

func (tx *ServerTx) passResp() error {
	lastResp := tx.pendingResp

	if lastResp == nil {
		// We may have received multiple requests but without any response
		// placed yet in the transaction
		return nil
	}

	err := tx.conn.WriteMsg(lastResp)
	if err != nil {
		tx.log.Debug("fail to pass response", "error", err, "res", lastResp.StartLine(), "tx", tx.Key())
		tx.pendingErr = wrapTransportError(err)
		return err
	}
	return nil
}
