package sip

import (
	"time"
)

// CANCEL is not wired as a direct signal on this FSM: RFC 3261 §9.1 only
// allows a CANCEL to be sent once the transaction has left Calling, so the
// dialog layer builds and sends its own CANCEL request against the
// transaction's Via/branch rather than routing it through a signal here.

func (tx *ClientTx) inviteStateCalling(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigClient1xx:
		tx.step, act = tx.inviteStateProcceeding, tx.actInviteProceeding
	case sigClient2xx:
		tx.step, act = tx.inviteStateAccepted, tx.actPassupAccept
	case sigClient300Plus:
		tx.step, act = tx.inviteStateCompleted, tx.actInviteFinal
	case sigClientTimerA:
		tx.step, act = tx.inviteStateCalling, tx.actInviteResend
	case sigClientTimerB:
		tx.step, act = tx.inviteStateTerminated, tx.actTimeout
	case sigClientTransportErr:
		tx.step, act = tx.inviteStateTerminated, tx.actTransErr
	default:
		return sigNone
	}
	return act()
}

// Proceeding
func (tx *ClientTx) inviteStateProcceeding(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigClient1xx:
		tx.step, act = tx.inviteStateProcceeding, tx.actPassup
	case sigClient2xx:
		tx.step, act = tx.inviteStateAccepted, tx.actPassupAccept
	case sigClient300Plus:
		tx.step, act = tx.inviteStateCompleted, tx.actInviteFinal
	case sigClientTimerB:
		tx.step, act = tx.inviteStateTerminated, tx.actTimeout
	case sigClientTransportErr:
		tx.step, act = tx.inviteStateTerminated, tx.actTransErr
	default:
		return sigNone
	}
	return act()
}

// Completed
func (tx *ClientTx) inviteStateCompleted(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigClient300Plus:
		tx.step, act = tx.inviteStateCompleted, tx.actAckResend
	case sigClientTransportErr:
		tx.step, act = tx.inviteStateTerminated, tx.actTransErr
	case sigClientTimerD:
		tx.step, act = tx.inviteStateTerminated, tx.actDelete
	default:
		return sigNone
	}
	return act()
}

func (tx *ClientTx) inviteStateAccepted(s txSignal) txSignal {
	// Updated by RFC 6026: absorbs retransmissions of the 2xx after an
	// unrecoverable transport error, and never forwards a stray non-2xx
	// response to the TU in this state.
	var act txAction
	switch s {
	case sigClient2xx:
		tx.log.Debug("retransimission 2xx detected", "tx", tx.Key())
		tx.step, act = tx.inviteStateAccepted, tx.actPassupRetransmission
	case sigClientTransportErr:
		tx.log.Warn("client transport error detected. Waiting for retransmission", "tx", tx.Key())
		tx.step, act = tx.inviteStateAccepted, tx.actTranErrNoDelete
	case sigClientTimerM:
		tx.step, act = tx.inviteStateTerminated, tx.actDelete
	default:
		return sigNone
	}
	return act()
}

// Terminated
func (tx *ClientTx) inviteStateTerminated(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigClientDelete:
		tx.step, act = tx.inviteStateTerminated, tx.actDelete
	default:
		return sigNone
	}
	return act()
}

func (tx *ClientTx) stateCalling(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigClient1xx:
		tx.step, act = tx.stateProceeding, tx.actPassup
	case sigClient2xx:
		tx.step, act = tx.stateCompleted, tx.actFinal
	case sigClient300Plus:
		tx.step, act = tx.stateCompleted, tx.actFinal
	case sigClientTimerA:
		tx.step, act = tx.stateCalling, tx.actResend
	case sigClientTimerB:
		tx.step, act = tx.stateTerminated, tx.actTimeout
	case sigClientTransportErr:
		tx.step, act = tx.stateTerminated, tx.actTransErr
	default:
		return sigNone
	}
	return act()
}

// Proceeding
func (tx *ClientTx) stateProceeding(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigClient1xx:
		tx.step, act = tx.stateProceeding, tx.actPassup
	case sigClient2xx:
		tx.step, act = tx.stateCompleted, tx.actFinal
	case sigClient300Plus:
		tx.step, act = tx.stateCompleted, tx.actFinal
	case sigClientTimerA:
		tx.step, act = tx.stateProceeding, tx.actResend
	case sigClientTimerB:
		tx.step, act = tx.stateTerminated, tx.actTimeout
	case sigClientTransportErr:
		tx.step, act = tx.stateTerminated, tx.actTransErr
	default:
		return sigNone
	}
	return act()
}

// Completed
func (tx *ClientTx) stateCompleted(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigClientDelete:
		tx.step, act = tx.stateTerminated, tx.actDelete
	case sigClientTimerD:
		tx.step, act = tx.stateTerminated, tx.actDelete
	default:
		return sigNone
	}
	return act()
}

// Terminated
func (tx *ClientTx) stateTerminated(s txSignal) txSignal {
	var act txAction
	switch s {
	case sigClientDelete:
		tx.step, act = tx.stateTerminated, tx.actDelete
	default:
		return sigNone
	}
	return act()
}

// Actions

func (tx *ClientTx) actInviteResend() txSignal {
	tx.mu.Lock()

	tx.timer_a_time *= 2
	tx.timer_a.Reset(tx.timer_a_time)

	tx.mu.Unlock()

	tx.resend()

	return sigNone
}

func (tx *ClientTx) actResend() txSignal {
	tx.mu.Lock()

	tx.timer_a_time *= 2
	// For non-INVITE, cap timer A at T2 seconds.
	if tx.timer_a_time > T2 {
		tx.timer_a_time = T2
	}

	if tx.timer_a != nil {
		tx.timer_a.Reset(tx.timer_a_time)
	}

	tx.mu.Unlock()

	tx.resend()

	return sigNone
}

func (tx *ClientTx) actInviteProceeding() txSignal {
	tx.passUpLastResponse()

	tx.mu.Lock()

	if tx.timer_a != nil {
		tx.timer_a.Stop()
		tx.timer_a = nil
	}
	if tx.timer_b != nil {
		tx.timer_b.Stop()
		tx.timer_b = nil
	}

	tx.mu.Unlock()

	return sigNone
}

func (tx *ClientTx) actInviteFinal() txSignal {
	tx.ack()
	tx.passUpLastResponse()

	tx.mu.Lock()

	if tx.timer_a != nil {
		tx.timer_a.Stop()
		tx.timer_a = nil
	}
	if tx.timer_b != nil {
		tx.timer_b.Stop()
		tx.timer_b = nil
	}

	tx.timer_d = time.AfterFunc(tx.timer_d_time, func() {
		tx.advance(sigClientTimerD)
	})

	tx.mu.Unlock()

	return sigNone
}

func (tx *ClientTx) actFinal() txSignal {
	tx.passUpLastResponse()

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.timer_a != nil {
		tx.timer_a.Stop()
		tx.timer_a = nil
	}
	if tx.timer_b != nil {
		tx.timer_b.Stop()
		tx.timer_b = nil
	}

	if tx.timer_d_time > 0 {
		tx.timer_d = time.AfterFunc(tx.timer_d_time, func() {
			tx.advance(sigClientTimerD)
		})
		return sigNone
	}

	return sigClientDelete
}

func (tx *ClientTx) actAckResend() txSignal {
	// Detect ACK loop. Case: ACK sent and response is retransmitted anyway.
	if tx.pendingAck != nil {
		// Not strictly required by RFC 3261, but without this delay a
		// misbehaving peer retransmitting the final response can drive an
		// unbounded ACK loop.
		tx.log.Error("ACK loop retransimission. Resending after T2", "tx", tx.Key())
		select {
		case <-tx.done:
			return sigNone
		case <-time.After(T2):
		}
	}
	tx.ack()

	return sigNone
}

func (tx *ClientTx) actTransErr() txSignal {
	tx.stopTimerA()
	return sigClientDelete
}

func (tx *ClientTx) actTranErrNoDelete() txSignal {
	tx.actTransErr()
	return sigNone
}

func (tx *ClientTx) actTimeout() txSignal {
	tx.stopTimerA()
	return sigClientDelete
}

func (tx *ClientTx) actPassup() txSignal {
	tx.passUpLastResponse()
	tx.stopTimerA()
	return sigNone
}

func (tx *ClientTx) actPassupRetransmission() txSignal {
	tx.passUpRetransmission()
	return sigNone
}

func (tx *ClientTx) actPassupDelete() txSignal {
	tx.passUpLastResponse()
	tx.stopTimerA()
	return sigClientDelete
}

func (tx *ClientTx) actPassupAccept() txSignal {
	tx.passUpLastResponse()

	tx.mu.Lock()
	if tx.timer_a != nil {
		tx.timer_a.Stop()
		tx.timer_a = nil
	}
	if tx.timer_b != nil {
		tx.timer_b.Stop()
		tx.timer_b = nil
	}

	tx.timer_m = time.AfterFunc(Timer_M, func() {
		tx.advance(sigClientTimerM)
	})
	tx.mu.Unlock()

	return sigNone
}

func (tx *ClientTx) actDelete() txSignal {
	if tx.pendingErr == nil {
		tx.pendingErr = ErrTransactionTerminated
	}
	tx.delete(tx.pendingErr)
	return sigNone
}

func (tx *ClientTx) stopTimerA() {
	tx.mu.Lock()
	if tx.timer_a != nil {
		tx.timer_a.Stop()
		tx.timer_a = nil
	}
	tx.mu.Unlock()
}

// passUpLastResponse delivers the response that triggered the current step
// to the transaction's Responses channel, dropping it if nobody is left to
// receive (the transaction is already Done).
func (tx *ClientTx) passUpLastResponse() {
	lastResp := tx.pendingResp

	if lastResp == nil {
		return
	}

	select {
	case <-tx.done:
	case tx.responses <- lastResp:
	}
}

func (tx *ClientTx) passUpRetransmission() {
	// RFC 6026 handling retransmissions.
	lastResp := tx.pendingResp

	if lastResp == nil {
		return
	}

	tx.mu.Lock()
	onResp := tx.onRetransmission
	tx.mu.Unlock()

	if onResp != nil {
		// Unlock around the hook call: it may call back into the tx and
		// would otherwise deadlock against stepMu.
		tx.stepMu.Unlock()
		onResp(lastResp)
		tx.stepMu.Lock()
		return
	}

	tx.log.Debug("skipped response. Retransimission", "tx", tx.Key())

	// Client probably left or not interested, so therefore we must not block here
	// For proxies they should handle this retransmission
}
