package dialog

import (
	"context"
	"errors"
	"fmt"

	"github.com/icholy/digest"
	"github.com/voxgrid/sipstack"
	"github.com/voxgrid/sipstack/sip"
)

// ClientSession is a dialog in which this process plays the UAC (calling)
// role: it sent the INVITE that will establish the dialog once answered.
type ClientSession struct {
	*Dialog
	inviteTx sip.ClientTransaction
	manager  *Manager
}

// Invite sends an INVITE to recipient and returns a session in
// DialogStateInitial. Call WaitAnswer to drive it to Early/Confirmed.
func (m *Manager) Invite(ctx context.Context, recipient sip.Uri, body []byte, headers ...sip.Header) (*ClientSession, error) {
	req := sip.NewRequest(sip.INVITE, recipient)
	if body != nil {
		req.SetBody(body)
	}
	for _, h := range headers {
		req.AppendHeader(h)
	}
	return m.WriteInvite(ctx, req)
}

// WriteInvite sends a caller-built INVITE request, for callers that need
// control over headers beyond what Invite's variadic headers allow.
func (m *Manager) WriteInvite(ctx context.Context, req *sip.Request) (*ClientSession, error) {
	if m.client == nil {
		return nil, fmt.Errorf("dialog: manager has no client, cannot place calls")
	}
	req.AppendHeader(sip.HeaderClone(&m.contact))

	tx, err := m.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	d := newDialog("", "", RoleUAC)
	d.InviteRequest = req
	if callid := req.CallID(); callid != nil {
		d.CallID = callid.Value()
	}
	if from := req.From(); from != nil {
		d.LocalURI = from.Address
		d.LocalTag = from.Params.GetOr("tag", "")
	}
	d.RemoteTarget = req.Recipient
	if cseq := req.CSeq(); cseq != nil {
		d.localSeq.Store(cseq.SeqNo)
	}

	return &ClientSession{Dialog: d, inviteTx: tx, manager: m}, nil
}

// AnswerOptions configures WaitAnswer's behavior while the INVITE is
// outstanding.
type AnswerOptions struct {
	OnProvisional func(res *sip.Response)

	// Username/Password enable automatic digest retry on 401/407
	// challenges to the INVITE.
	Username string
	Password string
}

// WaitAnswer blocks until the INVITE receives a final response, retrying
// once with digest credentials on a 401/407 if Password is set. Canceling
// ctx sends CANCEL and returns ctx.Err(). On 2xx the dialog's route-set is
// computed once, its state moves to Confirmed, and the session is tracked
// in the manager's dialog table keyed by its now-known ID.
func (s *ClientSession) WaitAnswer(ctx context.Context, opts AnswerOptions) error {
	client := s.manager.client
	tx := s.inviteTx
	req := s.InviteRequest

	for {
		var r *sip.Response
		select {
		case r = <-tx.Responses():
		case <-ctx.Done():
			s.cancelInvite(tx, req)
			return ctx.Err()
		case <-tx.Done():
			return errors.Join(fmt.Errorf("dialog: invite transaction terminated"), tx.Err())
		}

		if r.IsProvisional() {
			if to := r.To(); to != nil && to.Params.GetOr("tag", "") != "" {
				s.manager.setState(s.Dialog, sip.DialogStateEarly)
			}
			if opts.OnProvisional != nil {
				opts.OnProvisional(r)
			}
			continue
		}

		if r.IsSuccess() {
			return s.confirm(r, tx)
		}

		if opts.Password != "" && r.StatusCode == sip.StatusProxyAuthRequired && req.GetHeader("Proxy-Authorization") == nil {
			newTx, err := client.TransactionDigestAuth(ctx, req, r, sipstack.DigestAuth{Username: opts.Username, Password: opts.Password})
			if err != nil {
				return err
			}
			tx.Terminate()
			tx = newTx
			continue
		}

		if opts.Password != "" && r.StatusCode == sip.StatusUnauthorized && req.GetHeader("Authorization") == nil {
			newTx, err := client.TransactionDigestAuth(ctx, req, r, sipstack.DigestAuth{Username: opts.Username, Password: opts.Password})
			if err != nil {
				return err
			}
			tx.Terminate()
			tx = newTx
			continue
		}

		tx.Terminate()
		s.manager.setState(s.Dialog, sip.DialogStateTerminated)
		return &ErrUnexpectedResponse{Res: r}
	}
}

func (s *ClientSession) cancelInvite(tx sip.ClientTransaction, inviteReq *sip.Request) {
	defer tx.Terminate()
	cancel := buildCancel(inviteReq)
	cctx, ccancel := context.WithTimeout(context.Background(), sip.T1*64)
	defer ccancel()
	if ctx, err := s.manager.client.TransactionRequest(cctx, cancel); err == nil {
		defer ctx.Terminate()
		select {
		case <-ctx.Responses():
		case <-ctx.Done():
		}
	}
	s.manager.setState(s.Dialog, sip.DialogStateTerminated)
}

func (s *ClientSession) confirm(res *sip.Response, tx sip.ClientTransaction) error {
	id, err := sip.DialogIDFromResponse(res)
	if err != nil {
		return err
	}
	s.ID = id
	s.InviteResponse = res
	if to := res.To(); to != nil {
		s.RemoteURI = to.Address
		s.RemoteTag = to.Params.GetOr("tag", "")
	}
	if cont := res.Contact(); cont != nil {
		s.RemoteTarget = cont.Address
	}
	s.RouteSet = computeRouteSetUAC(res)
	s.inviteTx = tx

	s.manager.store(s.Dialog)
	s.manager.setState(s.Dialog, sip.DialogStateConfirmed)
	return nil
}

// Ack sends the ACK that confirms a 2xx response, per RFC 3261 §13.2.2.4.
// It must be sent exactly once per INVITE transaction's 2xx response.
func (s *ClientSession) Ack(body []byte) error {
	ack := buildAck(s.InviteRequest, s.InviteResponse, s.RouteSet, body)
	return s.manager.client.WriteRequest(ack)
}

// Bye terminates a confirmed dialog.
func (s *ClientSession) Bye(ctx context.Context) error {
	if s.State() != sip.DialogStateConfirmed {
		return fmt.Errorf("dialog: cannot BYE, dialog not confirmed")
	}

	req := sip.NewRequest(sip.BYE, s.Destination())
	applyRouteHeaders(req, s.RouteSet)
	setDestinationFromRouteSet(req, s.Destination())
	s.applyDialogHeaders(req)

	return s.sendInDialog(ctx, req, func() {
		s.inviteTx.Terminate()
		s.manager.setState(s.Dialog, sip.DialogStateTerminated)
	})
}

// ReInvite sends a target- or session-refreshing re-INVITE over the
// established dialog (RFC 3261 §14).
func (s *ClientSession) ReInvite(ctx context.Context, body []byte) (*sip.Response, error) {
	req := sip.NewRequest(sip.INVITE, s.Destination())
	applyRouteHeaders(req, s.RouteSet)
	setDestinationFromRouteSet(req, s.Destination())
	s.applyDialogHeaders(req)
	if body != nil {
		req.SetBody(body)
	}
	return s.doInDialog(ctx, req)
}

// Refer sends a REFER to transfer the dialog to referTarget (RFC 3515).
func (s *ClientSession) Refer(ctx context.Context, referTarget sip.Uri) (*sip.Response, error) {
	req := sip.NewRequest(sip.REFER, s.Destination())
	applyRouteHeaders(req, s.RouteSet)
	setDestinationFromRouteSet(req, s.Destination())
	s.applyDialogHeaders(req)
	req.AppendHeader(sip.NewHeader("Refer-To", referTarget.String()))
	return s.doInDialog(ctx, req)
}

// Notify sends a NOTIFY in the dialog, typically in response to a
// subscription or REFER (RFC 6665 / RFC 3515).
func (s *ClientSession) Notify(ctx context.Context, event string, body []byte) (*sip.Response, error) {
	req := sip.NewRequest(sip.NOTIFY, s.Destination())
	applyRouteHeaders(req, s.RouteSet)
	setDestinationFromRouteSet(req, s.Destination())
	s.applyDialogHeaders(req)
	if event != "" {
		req.AppendHeader(sip.NewHeader("Event", event))
	}
	if body != nil {
		req.SetBody(body)
	}
	return s.doInDialog(ctx, req)
}

// Info sends an INFO request carrying application data within the dialog
// (RFC 6086).
func (s *ClientSession) Info(ctx context.Context, contentType string, body []byte) (*sip.Response, error) {
	req := sip.NewRequest(sip.INFO, s.Destination())
	applyRouteHeaders(req, s.RouteSet)
	setDestinationFromRouteSet(req, s.Destination())
	s.applyDialogHeaders(req)
	if contentType != "" {
		req.AppendHeader(sip.NewHeader("Content-Type", contentType))
	}
	req.SetBody(body)
	return s.doInDialog(ctx, req)
}

// Update sends an UPDATE request to modify session parameters before the
// dialog is confirmed, or to refresh them after (RFC 3311).
func (s *ClientSession) Update(ctx context.Context, body []byte) (*sip.Response, error) {
	req := sip.NewRequest(sip.UPDATE, s.Destination())
	applyRouteHeaders(req, s.RouteSet)
	setDestinationFromRouteSet(req, s.Destination())
	s.applyDialogHeaders(req)
	if body != nil {
		req.SetBody(body)
	}
	return s.doInDialog(ctx, req)
}

// applyDialogHeaders stamps From/To/Call-ID/CSeq onto an in-dialog request
// using the dialog's own tags rather than copying from the INVITE, so a
// ReInvite/Refer/Notify/Info/Update uses the current local/remote tags
// even if the dialog has since been refreshed.
func (s *Dialog) applyDialogHeaders(req *sip.Request) {
	from := &sip.FromHeader{Address: s.LocalURI, Params: sip.NewParams()}
	from.Params.Add("tag", s.LocalTag)
	to := &sip.ToHeader{Address: s.RemoteURI, Params: sip.NewParams()}
	if s.RemoteTag != "" {
		to.Params.Add("tag", s.RemoteTag)
	}
	req.AppendHeader(from)
	req.AppendHeader(to)
	callid := sip.CallID(s.CallID)
	req.AppendHeader(&callid)

	method := req.Method
	seq := s.NextLocalCSeq()
	req.AppendHeader(&sip.CSeq{SeqNo: seq, MethodName: method})

	maxfwd := sip.MaxForwards(70)
	req.AppendHeader(&maxfwd)
}

func (s *ClientSession) sendInDialog(ctx context.Context, req *sip.Request, onSuccess func()) error {
	res, err := s.doInDialog(ctx, req)
	if err != nil {
		return err
	}
	if res.StatusCode != sip.StatusOK {
		return &ErrUnexpectedResponse{Res: res}
	}
	if onSuccess != nil {
		onSuccess()
	}
	return nil
}

func (s *ClientSession) doInDialog(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := s.manager.client.TransactionRequest(ctx, req, sipstack.ClientRequestAddVia)
	if err != nil {
		return nil, err
	}
	defer tx.Terminate()

	for {
		select {
		case res := <-tx.Responses():
			if res.IsProvisional() {
				continue
			}
			if res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired {
				if retried, rerr := s.retryWithAuth(ctx, req, res); rerr == nil {
					return retried, nil
				}
			}
			return res, nil
		case <-tx.Done():
			return nil, tx.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// retryWithAuth answers a 401/407 to an in-dialog request using the
// dialog's cached per-realm nonce-count/cnonce state, falling back to a
// fresh cnonce on a stale nonce or first challenge.
func (s *ClientSession) retryWithAuth(ctx context.Context, req *sip.Request, res *sip.Response) (*sip.Response, error) {
	username, password := s.manager.credentials(s.RemoteURI)
	if username == "" {
		return nil, fmt.Errorf("dialog: no credentials configured for realm challenge")
	}

	headerName, challengeHeader := "WWW-Authenticate", "Authorization"
	if res.StatusCode == sip.StatusProxyAuthRequired {
		headerName, challengeHeader = "Proxy-Authenticate", "Proxy-Authorization"
	}
	h := res.GetHeader(headerName)
	if h == nil {
		return nil, fmt.Errorf("dialog: %s missing on challenge", headerName)
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return nil, err
	}
	chal.Algorithm = sip.ASCIIToUpper(chal.Algorithm)

	opts := s.auth.next(username, password, chal)
	opts.Method = req.Method.String()
	opts.URI = req.Recipient.Addr()
	cred, err := digest.Digest(chal, opts)
	if err != nil {
		return nil, err
	}

	if cseq := req.CSeq(); cseq != nil {
		cseq.SeqNo = s.NextLocalCSeq()
	}
	req.RemoveHeader(challengeHeader)
	req.AppendHeader(sip.NewHeader(challengeHeader, cred.String()))
	req.RemoveHeader("Via")

	tx, err := s.manager.client.TransactionRequest(ctx, req, sipstack.ClientRequestAddVia)
	if err != nil {
		return nil, err
	}
	defer tx.Terminate()
	select {
	case r := <-tx.Responses():
		return r, nil
	case <-tx.Done():
		return nil, tx.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// buildCancel constructs a CANCEL for an outstanding INVITE (RFC 3261
// §9.1): same Request-URI, Call-ID, From, To, CSeq number (method
// overridden to CANCEL) and top Via as the request it cancels.
func buildCancel(inviteReq *sip.Request) *sip.Request {
	cancel := sip.NewRequest(sip.CANCEL, *inviteReq.Recipient.Clone())
	if via := inviteReq.Via(); via != nil {
		cancel.AppendHeader(via.Clone())
	}
	sip.CopyHeaders("Route", inviteReq, cancel)
	maxfwd := sip.MaxForwards(70)
	cancel.AppendHeader(&maxfwd)
	if h := inviteReq.From(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.To(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CallID(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CSeq(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if cseq := cancel.CSeq(); cseq != nil {
		cseq.MethodName = sip.CANCEL
	}
	cancel.SetTransport(inviteReq.Transport())
	cancel.SetSource(inviteReq.Source())
	cancel.SetDestination(inviteReq.Destination())
	return cancel
}

// buildAck constructs the ACK to a 2xx response to INVITE (RFC 3261
// §13.2.2.4): a request within the dialog, using the route-set computed at
// confirmation rather than re-deriving Route from Record-Route each time.
func buildAck(inviteReq *sip.Request, inviteRes *sip.Response, routeSet []sip.Uri, body []byte) *sip.Request {
	recipient := inviteReq.Recipient
	if cont := inviteRes.Contact(); cont != nil {
		recipient = cont.Address
	}

	ack := sip.NewRequest(sip.ACK, recipient)
	applyRouteHeaders(ack, routeSet)
	setDestinationFromRouteSet(ack, recipient)

	maxfwd := sip.MaxForwards(70)
	ack.AppendHeader(&maxfwd)
	if h := inviteReq.From(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteRes.To(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CallID(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CSeq(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if cseq := ack.CSeq(); cseq != nil {
		cseq.MethodName = sip.ACK
	}
	ack.SetBody(body)
	ack.SetTransport(inviteReq.Transport())
	ack.SetSource(inviteReq.Source())
	ack.Laddr = inviteReq.Laddr
	return ack
}
