package sipstack

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"github.com/icholy/digest"

	"github.com/voxgrid/sipstack/sip"
)

func Init() {
	uuid.EnableRandPool()
}

// ClientTransactionRequester lets a caller substitute its own transaction
// creation for testing, bypassing the real transaction layer entirely.
type ClientTransactionRequester interface {
	Request(ctx context.Context, req *sip.Request) (sip.ClientTransaction, error)
}

// Client is the UAC-facing handle a dialog.Manager drives: it owns nothing
// about dialog state itself (CSeq sequencing, route-sets, and per-realm
// digest nonce tracking all live one layer up, in dialog.Dialog/digestState)
// and instead focuses on turning an almost-complete *sip.Request into one
// that RFC 3261 §8.1.1 accepts, then handing it to the transaction layer.
type Client struct {
	*UserAgent
	host  string
	port  int
	rport bool
	log   *slog.Logger

	connAddr sip.Addr

	// TxRequester substitutes a fake transaction creator for the real
	// transaction layer. Test-only.
	TxRequester ClientTransactionRequester
}

type ClientOption func(c *Client) error

// WithClientLogger overrides the client's logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		c.log = logger
		return nil
	}
}

// WithClientHostname sets the host used when this client builds a Via
// header. The From header's host comes from the UserAgent, not here.
func WithClientHostname(hostname string) ClientOption {
	return func(c *Client) error {
		c.host = hostname
		return nil
	}
}

// WithClientPort sets the port this client advertises on Via.
// Default: an ephemeral port chosen by the transport layer.
func WithClientPort(port int) ClientOption {
	return func(c *Client) error {
		c.port = port
		return nil
	}
}

// WithClientConnectionAddr pins every request this client sends to a
// specific local address, useful for a process acting purely as a client
// with no listener of its own.
func WithClientConnectionAddr(hostPort string) ClientOption {
	return func(c *Client) error {
		host, port, err := sip.ParseAddr(hostPort)
		if err != nil {
			return err
		}
		c.connAddr = sip.Addr{
			IP:       net.ParseIP(host),
			Port:     port,
			Hostname: host,
		}
		return nil
	}
}

// WithClientNAT marks this client as sitting behind NAT, so outgoing Via
// headers carry an empty "rport" parameter (RFC 3581 §4).
func WithClientNAT() ClientOption {
	return func(c *Client) error {
		c.rport = true
		return nil
	}
}

// WithClientAddr sets host and port together from a single "host:port"
// string.
func WithClientAddr(addr string) ClientOption {
	return func(c *Client) error {
		host, port, err := sip.ParseAddr(addr)
		if err != nil {
			return err
		}
		WithClientHostname(host)(c)
		WithClientPort(port)(c)
		return nil
	}
}

// NewClient builds a Client bound to ua, ready for TransactionRequest once
// options are applied.
func NewClient(ua *UserAgent, options ...ClientOption) (*Client, error) {
	c := &Client{
		UserAgent: ua,
		log:       sip.DefaultLogger().With("caller", "Client"),
	}
	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Close is a no-op; the owning UserAgent's transaction and transport layers
// hold the real resources and are closed through it.
func (c *Client) Close() error {
	return nil
}

// Hostname returns the host this client advertises on Via/From.
func (c *Client) Hostname() string {
	return c.host
}

// prepareOutgoing fills in whatever RFC 3261 §8.1.1 mandatory headers opts
// didn't already provide, or — if opts is non-empty — defers entirely to
// opts, on the assumption a caller supplying options has prebuilt the
// request itself (e.g. a proxy forwarding path, or a dialog layer re-using
// an existing CSeq/route-set).
func prepareOutgoing(c *Client, req *sip.Request, opts []ClientRequestOption) error {
	if len(opts) == 0 {
		return buildRequiredHeaders(c, req)
	}
	for _, opt := range opts {
		if err := opt(c, req); err != nil {
			return err
		}
	}
	return nil
}

// TransactionRequest hands req to the transaction layer and returns the
// resulting client transaction; use this over WriteRequest for anything
// that expects a response (everything except ACK to a non-2xx and, per
// dialog.ClientSession.Ack, ACK to a 2xx).
func (c *Client) TransactionRequest(ctx context.Context, req *sip.Request, options ...ClientRequestOption) (sip.ClientTransaction, error) {
	if req.IsAck() {
		return nil, fmt.Errorf("sipstack: ACK must go through WriteRequest, not a transaction")
	}
	if err := prepareOutgoing(c, req, options); err != nil {
		return nil, err
	}
	if c.TxRequester != nil {
		return c.TxRequester.Request(ctx, req)
	}

	// RFC 3261 §18.3: stream transports need Content-Length to frame the
	// message; missing it is a caller bug worth flagging, not failing on.
	if sip.IsReliable(req.Transport()) && req.ContentLength() == nil {
		c.log.Warn("missing Content-Length for reliable transport")
	}

	return c.tx.Request(ctx, req)
}

func (c *Client) newTransaction(ctx context.Context, req *sip.Request, onConnection func(conn sip.Connection) error, options ...ClientRequestOption) (sip.ClientTransaction, error) {
	if err := prepareOutgoing(c, req, options); err != nil {
		return nil, err
	}
	if c.TxRequester != nil {
		return c.TxRequester.Request(ctx, req)
	}

	tx, err := c.tx.NewClientTransaction(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := onConnection(tx.Connection()); err != nil {
		tx.Terminate()
		return nil, err
	}
	if err := tx.Init(); err != nil {
		tx.Terminate()
		return tx, err
	}
	return tx, nil
}

// waitFinalResponse drains tx until a final (non-1xx) response, a
// transaction-level error, or ctx cancellation — the shared body behind Do
// and DoDigestAuth's single round trip. The dialog layer does not use this:
// it needs CANCEL-on-cancellation and digest-retry-with-nc-tracking, which
// this helper deliberately doesn't attempt.
func waitFinalResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	for {
		select {
		case res := <-tx.Responses():
			if res.IsProvisional() {
				continue
			}
			return res, nil
		case <-tx.Done():
			return nil, tx.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Do sends req and blocks for its final response, HTTP-client style.
// Canceling ctx does not send CANCEL for an INVITE in flight — that
// requires tracking dialog state, which is what dialog.Manager is for.
func (c *Client) Do(ctx context.Context, req *sip.Request, opts ...ClientRequestOption) (*sip.Response, error) {
	tx, err := c.TransactionRequest(ctx, req, opts...)
	if err != nil {
		return nil, err
	}
	defer tx.Terminate()
	return waitFinalResponse(ctx, tx)
}

// DigestAuth carries the credentials used to answer a single 401/407
// challenge. Repeated challenges within a dialog should track nonce-count
// and cnonce themselves (see dialog's per-realm digestState) rather than
// calling this repeatedly with Count always at its zero value.
type DigestAuth struct {
	Username string
	Password string
}

// DoDigestAuth retries req with credentials computed from res's challenge,
// blocking for the retried request's final response.
func (c *Client) DoDigestAuth(ctx context.Context, req *sip.Request, res *sip.Response, auth DigestAuth) (*sip.Response, error) {
	tx, err := c.TransactionDigestAuth(ctx, req, res, auth)
	if err != nil {
		return nil, err
	}
	defer tx.Terminate()
	return waitFinalResponse(ctx, tx)
}

// TransactionDigestAuth answers a 401 (WWW-Authenticate) or 407
// (Proxy-Authenticate) challenge on res by rebuilding req with the
// appropriate Authorization/Proxy-Authorization header and resending it as
// a new transaction. No nonce-count or cnonce is carried over between
// calls; for in-dialog re-challenges see dialog's digestState, which
// threads a persistent nc/cnonce pair through repeated calls to this same
// digest math.
func (c *Client) TransactionDigestAuth(ctx context.Context, req *sip.Request, res *sip.Response, auth DigestAuth) (sip.ClientTransaction, error) {
	opts := digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.Addr(),
		Username: auth.Username,
		Password: auth.Password,
	}
	challengeHeader, credentialHeader := "WWW-Authenticate", "Authorization"
	if res.StatusCode == sip.StatusProxyAuthRequired {
		challengeHeader, credentialHeader = "Proxy-Authenticate", "Proxy-Authorization"
	}
	if err := applyDigestChallenge(req, res, challengeHeader, credentialHeader, opts); err != nil {
		return nil, err
	}

	if cseq := req.CSeq(); cseq != nil {
		cseq.SeqNo++
	}
	req.RemoveHeader("Via")
	return c.TransactionRequest(ctx, req, ClientRequestAddVia)
}

// applyDigestChallenge parses challengeHeader off res, computes credentials
// under opts, and replaces credentialHeader on req. The same function
// answers both WWW- and Proxy-Authenticate challenges; only the header
// names differ.
func applyDigestChallenge(req *sip.Request, res *sip.Response, challengeHeader, credentialHeader string, opts digest.Options) error {
	h := res.GetHeader(challengeHeader)
	if h == nil {
		return fmt.Errorf("sipstack: no %s header on challenge response", challengeHeader)
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return fmt.Errorf("sipstack: parsing %s=%q: %w", challengeHeader, h.Value(), err)
	}
	// Some peers send a lowercase algorithm token, against RFC.
	chal.Algorithm = sip.ASCIIToUpper(chal.Algorithm)

	cred, err := digest.Digest(chal, opts)
	if err != nil {
		return fmt.Errorf("sipstack: computing digest for %s: %w", credentialHeader, err)
	}

	req.RemoveHeader(credentialHeader)
	req.AppendHeader(sip.NewHeader(credentialHeader, cred.String()))
	return nil
}

// WriteRequest bypasses the transaction layer and writes req straight to
// the transport layer. Use this for ACK to a 2xx (RFC 3261 §13.2.2.4,
// no transaction of its own) and anything else that expects no response.
func (c *Client) WriteRequest(req *sip.Request, options ...ClientRequestOption) error {
	if err := prepareOutgoing(c, req, options); err != nil {
		return err
	}
	if c.TxRequester != nil {
		_, err := c.TxRequester.Request(context.TODO(), req)
		return err
	}
	return c.tp.WriteMsg(req)
}

// ClientRequestOption mutates or finishes building req before it leaves
// this client, in place of (or in addition to) the default
// buildRequiredHeaders pass.
type ClientRequestOption func(c *Client, req *sip.Request) error

// ClientRequestBuild runs the default required-header pass explicitly;
// combine with other options when some but not all defaults are wanted.
func ClientRequestBuild(c *Client, req *sip.Request) error {
	return buildRequiredHeaders(c, req)
}

// buildRequiredHeaders fills in whichever of To, From, CSeq, Call-ID,
// Max-Forwards, Via (RFC 3261 §8.1.1's minimum set) req is missing.
func buildRequiredHeaders(c *Client, req *sip.Request) error {
	missing := make([]sip.Header, 0, 6)

	if req.Via() == nil {
		missing = append(missing, newClientVia(c, req))
	}

	if req.From() == nil {
		from := sip.FromHeader{
			DisplayName: c.UserAgent.name,
			Address: sip.Uri{
				Scheme:    req.Recipient.Scheme,
				User:      c.UserAgent.name,
				Host:      c.UserAgent.hostname,
				UriParams: sip.NewParams(),
				Headers:   sip.NewParams(),
			},
			Params: sip.NewParams(),
		}
		if from.Address.Host == "" {
			from.Address.Host = c.host
		}
		from.Params.Add("tag", sip.GenerateTagN(16))
		missing = append(missing, &from)
	}

	if req.To() == nil {
		to := sip.ToHeader{
			Address: sip.Uri{
				Scheme:    req.Recipient.Scheme,
				User:      req.Recipient.User,
				Host:      req.Recipient.Host,
				UriParams: sip.NewParams(),
				Headers:   sip.NewParams(),
			},
			Params: sip.NewParams(),
		}
		missing = append(missing, &to)
	}

	if req.CallID() == nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return err
		}
		callid := sip.CallID(id.String())
		missing = append(missing, &callid)
	}

	if req.CSeq() == nil {
		seq, err := randomInitialCSeq()
		if err != nil {
			return err
		}
		missing = append(missing, &sip.CSeq{SeqNo: seq, MethodName: req.Method})
	}

	if req.MaxForwards() == nil {
		maxfwd := sip.MaxForwards(70)
		missing = append(missing, &maxfwd)
	}

	req.PrependHeader(missing...)

	if req.Body() == nil {
		req.SetBody(nil)
	}

	if c.connAddr.IP != nil {
		// Copy, not alias: req.Laddr must not share storage with c.connAddr.
		c.connAddr.Copy(&req.Laddr)
	}

	return nil
}

// randomInitialCSeq picks a random starting CSeq no higher than 2^31-100,
// so a dialog's sequence has room to climb before it would reach the
// CSeq < 2^31 limit (RFC 3261 §8.1.1.5).
func randomInitialCSeq() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(b[:]) & 0x7FFFFFFF
	return min(1<<31-100, n), nil
}

// ClientRequestAddVia prepends a fresh Via header, the option a proxy
// forwarding a request (rather than originating one) needs (RFC 3261 §16.6).
func ClientRequestAddVia(c *Client, req *sip.Request) error {
	req.PrependHeader(newClientVia(c, req))
	return nil
}

// ClientRequestRegisterBuild finishes a REGISTER per RFC 3261 §10.2: bumps
// CSeq if one is already present (a re-registration reusing the same
// request), fills the rest of the required-header set, then strips the
// address-of-record's userinfo, which a REGISTER Request-URI must not carry.
func ClientRequestRegisterBuild(c *Client, req *sip.Request) error {
	if cseq := req.CSeq(); cseq != nil {
		cseq.SeqNo++
	}
	if err := buildRequiredHeaders(c, req); err != nil {
		return err
	}
	req.Recipient.User = ""
	return nil
}

// newClientVia builds this client's outbound Via header, attaching
// rport/received (RFC 3581 §6) when the caller has already asked for NAT
// handling via a prior request's Via carrying an empty "rport".
func newClientVia(c *Client, req *sip.Request) *sip.ViaHeader {
	via := &sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       req.Transport(),
		Host:            c.host, // may be rewritten by the transport layer
		Port:            c.port, // may be rewritten by the transport layer
		Params:          sip.NewParams(),
	}
	via.Params.Add("branch", sip.GenerateBranchN(16))
	if c.rport {
		via.Params.Add("rport", "")
	}

	if existing := req.Via(); existing != nil && existing.Params.Has("rport") {
		host, port, _ := net.SplitHostPort(req.Source())
		existing.Params.Add("rport", port)
		existing.Params.Add("received", host)
	}
	return via
}

// ClientRequestAddRecordRoute prepends a Record-Route header advertising
// this client's own listener, the option a proxy applies before forwarding
// (RFC 3261 §16) so it stays in later in-dialog routing.
func ClientRequestAddRecordRoute(c *Client, req *sip.Request) error {
	transport := sip.NetworkToLower(req.Transport())
	uriParams := sip.NewParams()
	// RFC 5658 §4: a proxy advertising Record-Route across
	// transports must say which one each hop expects.
	uriParams.Add("transport", transport)
	uriParams.Add("lr", "")
	rr := &sip.RecordRouteHeader{
		Address: sip.Uri{
			Host:      c.host,
			Port:      c.tp.GetListenPort(transport),
			UriParams: uriParams,
			Headers:   sip.NewParams(),
		},
	}
	req.PrependHeader(rr)
	return nil
}

// ClientRequestDecreaseMaxForward decrements Max-Forwards before a proxy
// relays req, erroring once it would reach zero (RFC 3261 §16.6 step 3).
func ClientRequestDecreaseMaxForward(c *Client, req *sip.Request) error {
	maxfwd := req.MaxForwards()
	if maxfwd == nil {
		return nil
	}
	maxfwd.Dec()
	if maxfwd.Val() <= 0 {
		return fmt.Errorf("sipstack: max forwards reached")
	}
	return nil
}

// ClientRequestIncreaseCSEQ bumps CSeq on a new out-of-dialog transaction
// reusing an existing request; in-dialog requests must instead use the
// owning Dialog's own CSeq counter (dialog.Dialog.NextLocalCSeq), not this.
func ClientRequestIncreaseCSEQ(c *Client, req *sip.Request) error {
	if cseq := req.CSeq(); cseq != nil {
		cseq.SeqNo++
		cseq.MethodName = req.Method
	}
	return nil
}
