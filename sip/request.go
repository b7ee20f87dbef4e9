package sip

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// Request is a SIP request message, RFC 3261 §7.1.
type Request struct {
	MessageData
	Method    RequestMethod
	Recipient Uri

	// Laddr is the local connection address this request was sent from.
	Laddr Addr
	// raddr is the address resolved from the request's Via, once known.
	raddr Addr
}

// NewRequest builds the Request-Line (method, Request-URI, SIP/2.0) with no
// headers. Call AppendHeader to add headers and SetBody to set the body and
// keep Content-Length in sync.
func NewRequest(method RequestMethod, recipient Uri) *Request {
	if recipient.UriParams != nil {
		recipient.UriParams = recipient.UriParams.Clone()
	}
	if recipient.Headers != nil {
		recipient.Headers = recipient.Headers.Clone()
	}

	req := &Request{}
	req.SipVersion = "SIP/2.0"
	req.headers = headers{
		headerOrder: make([]Header, 0, 10),
	}
	req.Method = method
	req.Recipient = recipient
	req.body = nil

	return req
}

func (req *Request) Short() string {
	if req == nil {
		return "<nil>"
	}

	return fmt.Sprintf("request method=%s Recipient=%s transport=%s source=%s",
		req.Method,
		req.Recipient.String(),
		req.Transport(),
		req.Source(),
	)
}

// StartLine returns the Request-Line, RFC 3261 §7.1.
func (req *Request) StartLine() string {
	var b strings.Builder
	req.StartLineWrite(&b)
	return b.String()
}

func (req *Request) StartLineWrite(w io.StringWriter) {
	w.WriteString(string(req.Method))
	w.WriteString(" ")
	w.WriteString(req.Recipient.String())
	w.WriteString(" ")
	w.WriteString(req.SipVersion)
}

func (req *Request) String() string {
	var b strings.Builder
	req.StringWrite(&b)
	return b.String()
}

func (req *Request) StringWrite(w io.StringWriter) {
	req.StartLineWrite(w)
	w.WriteString("\r\n")
	req.headers.StringWrite(w)
	w.WriteString("\r\n")
	if req.body != nil {
		w.WriteString(string(req.body))
	}
}

// Clone copies req, body included. Headers are copied with headerClone;
// Call-ID, Max-Forwards, Content-Length, Content-Type and Expires headers
// are shared with req rather than copied.
func (req *Request) Clone() *Request {
	return cloneRequest(req)
}

func (req *Request) IsInvite() bool { return req.Method == INVITE }
func (req *Request) IsAck() bool    { return req.Method == ACK }
func (req *Request) IsCancel() bool { return req.Method == CANCEL }

// Transport resolves the transport this request travels over: an explicit
// SetTransport wins, otherwise it's derived from the top Via, the Route
// target (if any) and the recipient's transport= URI param, upgrading to
// TLS/WSS when the target URI is sips:/ wss:.
func (req *Request) Transport() string {
	if tp := req.MessageData.Transport(); tp != "" {
		return tp
	}

	var tp string
	if viaHop := req.Via(); viaHop != nil && viaHop.Transport != "" {
		tp = viaHop.Transport
	} else {
		tp = DefaultProtocol
	}

	uri := req.Recipient
	if hdr := req.Route(); hdr != nil {
		uri = hdr.Address
	}

	if uri.UriParams != nil {
		if val, ok := uri.UriParams.Get("transport"); ok && val != "" {
			tp = strings.ToUpper(val)
		}
	}

	if uri.IsEncrypted() {
		if tp == "TCP" {
			tp = "TLS"
		} else if tp == "WS" {
			tp = "WSS"
		}
	}

	return tp
}

// Source returns host:port this request arrived from, or was targeted to
// send from: an explicit SetSource wins, otherwise it's derived from Via.
func (req *Request) Source() string {
	if src := req.MessageData.Source(); src != "" {
		return src
	}
	return req.sourceVia()
}

func (req *Request) sourceVia() string {
	host, port := req.sourceViaHostPort()
	return fmt.Sprintf("%s:%d", uriNetIP(host), port)
}

func (req *Request) sourceViaHostPort() (string, int) {
	viaHop := req.Via()
	if viaHop == nil {
		return "", 0
	}

	host := viaHop.Host
	var port int
	if viaHop.Port > 0 {
		port = viaHop.Port
	} else {
		port = int(DefaultPort(req.Transport()))
	}

	// RFC 3581 §4: a symmetric-response-aware UA records the source it
	// actually saw on 'received'/'rport', which may differ from the Via's
	// own host:port behind NAT.
	if viaHop.Params != nil {
		if received, ok := viaHop.Params.Get("received"); ok && received != "" {
			host = received
		}
		if rport, ok := viaHop.Params.Get("rport"); ok && rport != "" {
			if p, err := strconv.Atoi(rport); err == nil {
				port = p
			}
		}
	}

	return host, port
}

// Destination returns host:port this request should be routed to: an
// explicit SetDestination wins, then the top Route target, then Recipient.
func (req *Request) Destination() string {
	if dest := req.MessageData.Destination(); dest != "" {
		return dest
	}

	uri := &req.Recipient
	if hdr := req.Route(); hdr != nil {
		uri = &hdr.Address
	}

	if uri.Port > 0 {
		return fmt.Sprintf("%v:%v", uri.Host, uri.Port)
	}
	return fmt.Sprintf("%v:%v", uri.Host, DefaultPort(req.Transport()))
}

// copyDialogIdentity copies the headers that identify a transaction's
// dialog (From, To, Call-ID, CSeq) from src onto dst, used by both the
// non-2xx ACK and CANCEL builders below since both ride the same branch.
func copyDialogIdentity(src *Request, toHeader Header, dst *Request) {
	if h := src.From(); h != nil {
		dst.AppendHeader(h.headerClone())
	}
	if toHeader != nil {
		dst.AppendHeader(toHeader.headerClone())
	}
	if h := src.CallID(); h != nil {
		dst.AppendHeader(h.headerClone())
	}
	if h := src.CSeq(); h != nil {
		dst.AppendHeader(h.headerClone())
	}
}

// newAckRequestNon2xx builds the ACK for a non-2xx INVITE response. This is
// a transaction-level ACK (RFC 3261 §17.1.1.3), not the separate dialog ACK
// a 2xx response requires.
func newAckRequestNon2xx(inviteRequest *Request, inviteResponse *Response, body []byte) *Request {
	ackRequest := NewRequest(ACK, *inviteRequest.Recipient.Clone())
	ackRequest.SipVersion = inviteRequest.SipVersion

	// The ACK MUST carry a single Via, equal to the original request's top Via.
	if via := inviteRequest.Via(); via != nil {
		ackRequest.AppendHeader(via.Clone())
	}

	if len(inviteRequest.GetHeaders("Route")) > 0 {
		CopyHeaders("Route", inviteRequest, ackRequest)
	} else {
		// RFC 2543 §6.29 fallback: derive Route from the response's
		// Record-Route, reversed, when the request carried none of its own.
		hdrs := inviteResponse.GetHeaders("Record-Route")
		for i := len(hdrs) - 1; i >= 0; i-- {
			ackRequest.AppendHeader(NewHeader("Route", hdrs[i].Value()))
		}
	}

	maxFwd := MaxForwards(70)
	ackRequest.AppendHeader(&maxFwd)

	var toHeader Header
	if h := inviteResponse.To(); h != nil {
		toHeader = h
	}
	copyDialogIdentity(inviteRequest, toHeader, ackRequest)

	// CSeq keeps the original request's sequence number but the method
	// becomes ACK.
	if cseq := ackRequest.CSeq(); cseq != nil {
		cseq.MethodName = ACK
	}

	if h := inviteRequest.Contact(); h != nil {
		ackRequest.AppendHeader(h.headerClone())
	}

	ackRequest.SetBody(body)
	ackRequest.SetTransport(inviteRequest.Transport())
	ackRequest.SetSource(inviteRequest.Source())
	ackRequest.Laddr = inviteRequest.Laddr
	return ackRequest
}

// newCancelRequest builds the CANCEL for an in-progress INVITE, RFC 3261
// §9.1: same Request-URI, Call-ID, To, From and CSeq number as the INVITE,
// and exactly the INVITE's top Via (reused, not regenerated).
func newCancelRequest(requestForCancel *Request) *Request {
	cancelReq := NewRequest(CANCEL, requestForCancel.Recipient)
	cancelReq.SipVersion = requestForCancel.SipVersion

	if viaHop := requestForCancel.Via(); viaHop != nil {
		cancelReq.AppendHeader(viaHop.Clone())
	}
	CopyHeaders("Route", requestForCancel, cancelReq)

	maxFwd := MaxForwards(70)
	cancelReq.AppendHeader(&maxFwd)

	var toHeader Header
	if h := requestForCancel.To(); h != nil {
		toHeader = h
	}
	copyDialogIdentity(requestForCancel, toHeader, cancelReq)

	if cseq := cancelReq.CSeq(); cseq != nil {
		cseq.MethodName = CANCEL
	}

	cancelReq.SetTransport(requestForCancel.Transport())
	cancelReq.SetSource(requestForCancel.Source())
	cancelReq.SetDestination(requestForCancel.Destination())

	return cancelReq
}

func (r *Request) remoteAddress() Addr {
	return r.raddr
}

func cloneRequest(req *Request) *Request {
	newReq := NewRequest(req.Method, *req.Recipient.Clone())
	newReq.SipVersion = req.SipVersion

	for _, h := range req.CloneHeaders() {
		newReq.AppendHeader(h)
	}
	newReq.SetBody(slices.Clone(req.Body()))
	newReq.SetTransport(req.Transport())
	newReq.SetSource(req.Source())
	newReq.SetDestination(req.Destination())
	newReq.raddr = req.raddr
	newReq.Laddr = req.Laddr

	return newReq
}
