package dialog

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/voxgrid/sipstack/sip"
)

// ServerSession is a dialog in which this process plays the UAS (answering)
// role: it received the INVITE that established the dialog.
type ServerSession struct {
	*Dialog
	inviteTx sip.ServerTransaction
	manager  *Manager
	canceled atomic.Bool
}

// Canceled reports whether a CANCEL arrived for this INVITE before a final
// response was sent.
func (s *ServerSession) Canceled() bool { return s.canceled.Load() }

// onInvite runs for every incoming INVITE. A re-INVITE within a tracked
// dialog is handed to onInDialogRequest. Otherwise a fresh dialog is created in
// DialogStateInitial; the handler replies with at least a final response
// (via ServerSession.Respond) before returning, or the transaction times
// out per Timer H/Timer B.
func (m *Manager) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	if to := req.To(); to != nil && to.Params.GetOr("tag", "") != "" {
		if _, ok := m.matchIncoming(req); ok {
			m.onInDialogRequest(req, tx)
			return
		}
	}

	cont := req.Contact()
	if cont == nil {
		res := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing Contact", nil)
		_ = tx.Respond(res)
		return
	}

	to := req.To()
	if to.Params.GetOr("tag", "") == "" {
		tag, err := uuid.NewRandom()
		if err != nil {
			res := sip.NewResponseFromRequest(req, sip.StatusServerInternalError, sip.StatusReason(sip.StatusServerInternalError), nil)
			_ = tx.Respond(res)
			return
		}
		to.Params.Add("tag", tag.String())
	}

	id, err := sip.DialogIDFromRequestUAS(req)
	if err != nil {
		res := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing From/To tag", nil)
		_ = tx.Respond(res)
		return
	}

	callid := ""
	if h := req.CallID(); h != nil {
		callid = h.Value()
	}

	d := newDialog(id, callid, RoleUAS)
	d.InviteRequest = req
	d.LocalURI = to.Address
	d.LocalTag = to.Params.GetOr("tag", "")
	if from := req.From(); from != nil {
		d.RemoteURI = from.Address
		d.RemoteTag = from.Params.GetOr("tag", "")
	}
	d.RemoteTarget = cont.Address
	d.RouteSet = computeRouteSetUAS(req)
	d.localSeq.Store(req.CSeq().SeqNo)
	d.remoteSeq.Store(req.CSeq().SeqNo)

	sess := &ServerSession{Dialog: d, inviteTx: tx, manager: m}
	m.store(d)
	m.emit(Event{Type: EventIncomingCall, Dialog: d, Request: req, Tx: tx})
	sess.bindTx()
}

// bindTx wires the invite transaction's CANCEL and termination callbacks:
// CANCEL before a final response marks the session canceled so Respond can
// refuse to send a late 2xx, and transaction termination without ever
// reaching Confirmed tears the dialog down (e.g. Timer H/Timer B firing).
func (s *ServerSession) bindTx() {
	s.inviteTx.OnCancel(func(r *sip.Request) {
		s.canceled.Store(true)
	})
	s.inviteTx.OnTerminate(func(key string, err error) {
		if s.State() != sip.DialogStateConfirmed {
			s.manager.setState(s.Dialog, sip.DialogStateTerminated)
		}
	})
}

// Respond sends a provisional or final response to the INVITE that created
// this session. Send it multiple times for 100/180 progress, then once more
// with a final code (or RespondSDP for the 200 with an SDP answer body).
func (s *ServerSession) Respond(statusCode int, reason string, body []byte, headers ...sip.Header) error {
	if reason == "" {
		reason = sip.StatusReason(statusCode)
	}
	res := sip.NewResponseFromRequest(s.InviteRequest, statusCode, reason, body)
	for _, h := range headers {
		res.AppendHeader(h)
	}
	return s.writeResponse(res, statusCode)
}

// RespondSDP answers the INVITE with a 200 OK carrying the given SDP
// answer body and the appropriate Content-Type.
func (s *ServerSession) RespondSDP(body []byte) error {
	if body == nil {
		return fmt.Errorf("dialog: nil SDP body")
	}
	res := sip.NewSDPResponseFromRequest(s.InviteRequest, body)
	return s.writeResponse(res, sip.StatusOK)
}

func (s *ServerSession) writeResponse(res *sip.Response, statusCode int) error {
	if res.Contact() == nil {
		res.AppendHeader(sip.HeaderClone(&s.manager.contact))
	}
	s.InviteResponse = res

	if statusCode >= 200 && statusCode < 300 && s.canceled.Load() {
		return ErrDialogCanceled
	}

	if statusCode < 200 {
		if statusCode >= 180 {
			s.manager.setState(s.Dialog, sip.DialogStateEarly)
		}
		return s.inviteTx.Respond(res)
	}

	if statusCode >= 300 {
		if err := s.inviteTx.Respond(res); err != nil {
			return err
		}
		s.manager.setState(s.Dialog, sip.DialogStateTerminated)
		return nil
	}

	if err := s.inviteTx.Respond(res); err != nil {
		return err
	}
	s.manager.setState(s.Dialog, sip.DialogStateConfirmed)
	return nil
}

// onAck absorbs the ACK confirming (or reconfirming, on retransmission)
// the 2xx response to an INVITE.
func (m *Manager) onAck(req *sip.Request, tx sip.ServerTransaction) {
	id, err := sip.DialogIDFromRequestUAS(req)
	if err != nil {
		return
	}
	d, ok := m.load(id)
	if !ok {
		return
	}
	if d.State() != sip.DialogStateConfirmed {
		m.setState(d, sip.DialogStateConfirmed)
	}
}

// onCancel handles CANCEL for an INVITE still in progress; the transaction
// layer has already matched and will auto-respond 200 to the CANCEL
// itself, so this only needs to fold the invite into a terminated dialog.
func (m *Manager) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	id, err := sip.DialogIDFromRequestUAS(req)
	if err != nil {
		return
	}
	if d, ok := m.load(id); ok {
		m.setState(d, sip.DialogStateTerminated)
	}
}

// onBye terminates the dialog named by the request, replying 200 OK, or
// 481 if no such dialog is tracked (RFC 3261 §15.1.2).
func (m *Manager) onBye(req *sip.Request, tx sip.ServerTransaction) {
	d, ok := m.matchIncoming(req)
	if !ok {
		res := sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExist, sip.StatusReason(sip.StatusCallTransactionDoesNotExist), nil)
		_ = tx.Respond(res)
		return
	}

	if cseq := req.CSeq(); cseq != nil {
		if err := d.CheckRemoteCSeq(cseq.SeqNo); err != nil {
			res := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "CSeq out of order", nil)
			_ = tx.Respond(res)
			return
		}
	}

	res := sip.NewResponseFromRequest(req, sip.StatusOK, sip.StatusReason(sip.StatusOK), nil)
	_ = tx.Respond(res)
	m.setState(d, sip.DialogStateTerminated)
}

// onInDialogRequest answers in-dialog requests the dialog layer itself
// does not interpret (re-INVITE, INFO, UPDATE, NOTIFY, REFER: bodies and
// payloads are application concerns) with a 200 OK once CSeq and dialog
// match, and surfaces each of them as an EventReInvite carrying the request.
func (m *Manager) onInDialogRequest(req *sip.Request, tx sip.ServerTransaction) {
	d, ok := m.matchIncoming(req)
	if !ok {
		res := sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExist, sip.StatusReason(sip.StatusCallTransactionDoesNotExist), nil)
		_ = tx.Respond(res)
		return
	}

	if cseq := req.CSeq(); cseq != nil {
		if err := d.CheckRemoteCSeq(cseq.SeqNo); err != nil {
			res := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "CSeq out of order", nil)
			_ = tx.Respond(res)
			return
		}
	}

	m.emit(Event{Type: EventReInvite, Dialog: d, Request: req, Tx: tx})
	res := sip.NewResponseFromRequest(req, sip.StatusOK, sip.StatusReason(sip.StatusOK), nil)
	_ = tx.Respond(res)
}

// matchIncoming resolves an in-dialog request to its Dialog regardless of
// whether this process is the UAC or UAS for that dialog: the request
// might be arriving on a dialog we created by sending the INVITE (we are
// UAC, so the sender used our UAC-role tag ordering) or one we created by
// receiving it (we are UAS).
func (m *Manager) matchIncoming(req *sip.Request) (*Dialog, bool) {
	if id, err := sip.DialogIDFromRequestUAS(req); err == nil {
		if d, ok := m.load(id); ok {
			return d, true
		}
	}
	if id, err := sip.DialogIDFromRequestUAC(req); err == nil {
		if d, ok := m.load(id); ok {
			return d, true
		}
	}
	return nil, false
}
