package dialog

import (
	"fmt"
	"sync"

	sipstack "github.com/voxgrid/sipstack"
	"github.com/voxgrid/sipstack/sip"
)

// Mode selects which roles a Manager plays. A Hybrid manager both places
// and answers calls over the same transport, sharing one dialog table and
// one client/server pair (the common case for a B2BUA leg or a softphone).
type Mode int

const (
	ModeClient Mode = iota
	ModeServer
	ModeHybrid
)

// Manager owns the dialog table for one UserAgent and turns transaction-
// layer requests/responses into dialog lifecycle transitions and upward
// Events. It is the single entry point for both placing calls (UAC) and
// answering them (UAS).
type Manager struct {
	mode Mode

	client *sipstack.Client
	server *sipstack.Server

	contact  sip.ContactHeader
	username string
	password string

	dialogs sync.Map // id string -> *Dialog

	events chan Event
}

// Config collects the construction-time dependencies for a Manager.
type Config struct {
	Mode    Mode
	Client  *sipstack.Client
	Server  *sipstack.Server
	Contact sip.ContactHeader

	// Username/Password answer digest challenges on in-dialog requests
	// (re-INVITE, BYE, REFER, ...) this Manager sends as UAC. The initial
	// INVITE's challenge is instead handled by the caller via
	// AnswerOptions, since it may target a different identity per call.
	Username string
	Password string

	// EventBuffer sizes the Events() channel. Defaults to 64.
	EventBuffer int
}

// NewManager wires request handlers on Config.Server (if present) and
// returns a Manager ready to place (Invite) and/or answer (via Events())
// dialogs.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Mode != ModeClient && cfg.Server == nil {
		return nil, fmt.Errorf("dialog: server-capable mode requires a Server")
	}
	if cfg.Mode != ModeServer && cfg.Client == nil {
		return nil, fmt.Errorf("dialog: client-capable mode requires a Client")
	}

	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 64
	}

	m := &Manager{
		mode:     cfg.Mode,
		client:   cfg.Client,
		server:   cfg.Server,
		contact:  cfg.Contact,
		username: cfg.Username,
		password: cfg.Password,
		events:   make(chan Event, buf),
	}

	if m.server != nil {
		m.server.OnInvite(m.onInvite)
		m.server.OnAck(m.onAck)
		m.server.OnBye(m.onBye)
		m.server.OnCancel(m.onCancel)
		m.server.OnOptions(m.onOptions)
		m.server.OnRegister(m.onRegister)
		m.server.OnInfo(m.onInDialogRequest)
		m.server.OnUpdate(m.onInDialogRequest)
		m.server.OnNotify(m.onInDialogRequest)
		m.server.OnRefer(m.onInDialogRequest)
	}

	return m, nil
}

// Events returns the channel of upward notifications (incoming calls,
// answers, terminations, re-INVITEs, registration requests).
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		// Drop rather than block the transaction goroutine; a slow
		// consumer should widen EventBuffer instead.
	}
}

func (m *Manager) store(d *Dialog) { m.dialogs.Store(d.ID, d) }

func (m *Manager) load(id string) (*Dialog, bool) {
	v, ok := m.dialogs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Dialog), true
}

func (m *Manager) delete(id string) { m.dialogs.Delete(id) }

// credentials returns the username/password to answer a digest challenge
// arriving on an in-dialog request toward remote. All in-dialog traffic
// for a Manager currently shares one identity; per-realm differentiation
// can be layered on by a caller handling AnswerOptions itself for the
// initial INVITE.
func (m *Manager) credentials(remote sip.Uri) (string, string) {
	return m.username, m.password
}

// Lookup returns the dialog for id, if one exists.
func (m *Manager) Lookup(id string) (*Dialog, bool) { return m.load(id) }

// Count returns the number of dialogs currently tracked.
func (m *Manager) Count() int {
	n := 0
	m.dialogs.Range(func(_, _ any) bool { n++; return true })
	return n
}

func (m *Manager) setState(d *Dialog, s sip.DialogState) {
	if d.State() == s {
		return
	}
	d.setState(s)
	m.emit(Event{Type: EventDialogStateChanged, Dialog: d, State: s})
	switch s {
	case sip.DialogStateConfirmed:
		m.emit(Event{Type: EventCallAnswered, Dialog: d, State: s})
	case sip.DialogStateTerminated:
		m.emit(Event{Type: EventCallTerminated, Dialog: d, State: s})
		m.delete(d.ID)
	}
}

// onOptions answers OPTIONS with a capability response outside of any
// dialog (RFC 3261 §11.2), independent of whether it arrives in-dialog.
func (m *Manager) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, sip.StatusReason(sip.StatusOK), nil)
	res.AppendHeader(sip.HeaderClone(&m.contact))
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, OPTIONS, REGISTER, INFO, UPDATE, NOTIFY, REFER"))
	_ = tx.Respond(res)
}

// onRegister does not answer REGISTER itself: registrar policy (accepting
// or rejecting bindings) lives above the dialog layer. It is surfaced as an
// event and the transaction handed to the subscriber to respond on.
func (m *Manager) onRegister(req *sip.Request, tx sip.ServerTransaction) {
	m.emit(Event{Type: EventRegistrationRequest, Request: req, Tx: tx})
}
